package wmbus

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/segw-project/segw/internal/meterid"
)

// decryptedMagic is the two-byte marker a correctly decrypted mode-5
// payload must begin with (spec §4.8).
var decryptedMagic = []byte{0x2F, 0x2F}

// decryptMode5 decrypts a mode-5 (AES-128-CBC) payload. The initial
// vector is (manufacturer || id || version || medium) repeated, with the
// access number substituted into the last 8 bytes (spec §4.8). Returns
// ok=false, unmodified ciphertext if the key is wrong (magic mismatch) so
// the caller can still store the record with an empty decoded set.
//
// crypto/aes and crypto/cipher are standard library: golang.org/x/crypto
// is listed in go.mod but imported by no package, and block-cipher CBC is conventionally done via the standard
// library's cipher.NewCBCDecrypter in idiomatic Go regardless of project.
func decryptMode5(key []byte, srv meterid.ServerID, accessNo byte, ciphertext []byte) ([]byte, bool, error) {
	if len(key) != 16 {
		return nil, false, fmt.Errorf("wmbus: mode-5 key must be 16 bytes, got %d", len(key))
	}
	if len(ciphertext)%16 != 0 || len(ciphertext) == 0 {
		return nil, false, fmt.Errorf("wmbus: mode-5 payload length %d is not a non-zero multiple of 16", len(ciphertext))
	}

	iv, err := buildIV(srv, accessNo)
	if err != nil {
		return nil, false, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false, err
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plain, ciphertext)

	if !bytes.HasPrefix(plain, decryptedMagic) {
		return ciphertext, false, nil
	}
	return plain, true, nil
}

// buildIV renders the 16-byte mode-5 IV from a long-header server id: the
// 8-byte block manufacturer(2)||id(4)||version(1)||medium(1), repeated,
// with the access number written into the last 8 bytes (spec §4.8: "IV =
// (manufacturer‖id‖version‖medium) repeated with access-no for the last 8
// bytes").
func buildIV(srv meterid.ServerID, accessNo byte) ([16]byte, error) {
	var iv [16]byte
	if len(srv) != 9 {
		return iv, fmt.Errorf("wmbus: IV requires a 9-byte long-header server id, got %d", len(srv))
	}
	block := srv[1:9] // manufacturer(2) || id(4) || version(1) || medium(1)
	copy(iv[0:8], block)
	copy(iv[8:16], block)
	for i := 8; i < 16; i++ {
		iv[i] = accessNo
	}
	return iv, nil
}
