// Package scramble implements the IP-T scramble codec (spec §4.1, C1): a
// byte-wise permutation keyed by a 32-byte scramble key, symmetric and
// stateful per direction.
//
// The wire spec describes the codec as "a stateful map u8 -> u8" derived
// from "exactly 32 bytes" of key material. A 32-byte key cannot itself
// be indexed by an arbitrary byte value (0-255), so the 256-entry
// substitution table is expanded from the key using the same
// key-scheduling algorithm RC4 uses to build its S-box: this keeps the
// codec a pure table substitution (matching "stateful map u8 -> u8" and
// "the key is a permutation") while accepting the spec's literal 32-byte
// key size. This choice is recorded as an Open Question resolution in
// DESIGN.md.
package scramble

import "fmt"

// KeySize is the fixed scramble key length.
const KeySize = 32

// tableSize is the size of the derived substitution table: one entry per
// possible byte value.
const tableSize = 256

// Key is the 32-byte seed for a scramble substitution table.
type Key [KeySize]byte

// DefaultKey is the well-known key that seeds login negotiation: all-zero
// except key[0]=1 (spec §4.1).
func DefaultKey() Key {
	var k Key
	k[0] = 1
	return k
}

// NewKey validates and copies an externally supplied 32-byte key.
func NewKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("scramble: key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Bytes returns the raw 32 bytes.
func (k Key) Bytes() []byte {
	b := make([]byte, KeySize)
	copy(b, k[:])
	return b
}

// table derives the 256-entry substitution permutation from a 32-byte
// key, using an RC4-style key-scheduling algorithm. The result is always
// a bijection of byte values, so Invert always succeeds.
func table(key Key) [tableSize]byte {
	var s [tableSize]byte
	for i := range s {
		s[i] = byte(i)
	}
	j := byte(0)
	for i := 0; i < tableSize; i++ {
		j = j + s[i] + key[i%KeySize]
		s[i], s[j] = s[j], s[i]
	}
	return s
}

func invert(s [tableSize]byte) [tableSize]byte {
	var inv [tableSize]byte
	for i, v := range s {
		inv[v] = byte(i)
	}
	return inv
}

// Scramble applies the forward substitution for key to src, returning a
// new buffer: dst[i] = table(key)[src[i]].
func Scramble(key Key, src []byte) []byte {
	s := table(key)
	dst := make([]byte, len(src))
	for i, b := range src {
		dst[i] = s[b]
	}
	return dst
}

// Descramble inverts Scramble for the same key.
func Descramble(key Key, src []byte) []byte {
	inv := invert(table(key))
	dst := make([]byte, len(src))
	for i, b := range src {
		dst[i] = inv[b]
	}
	return dst
}

// Codec holds independent read and write keys for one session, so that a
// key rotation (spec §4.3, login ack) can be applied to the write side and
// the read side at distinct, well-defined events instead of racing
// (design note: "scramble-key negotiation race").
type Codec struct {
	writeKey Key
	readKey  Key
}

// NewCodec returns a Codec seeded with the default key on both directions.
func NewCodec() *Codec {
	return &Codec{writeKey: DefaultKey(), readKey: DefaultKey()}
}

// SetWriteKey swaps the write-side key. Callers must invoke this only at a
// clearly defined event (e.g. right after emitting the login response),
// never speculatively.
func (c *Codec) SetWriteKey(k Key) { c.writeKey = k }

// SetReadKey swaps the read-side key.
func (c *Codec) SetReadKey(k Key) { c.readKey = k }

// Write scrambles a buffer for transmission using the codec's write key.
func (c *Codec) Write(src []byte) []byte {
	return Scramble(c.writeKey, src)
}

// Read descrambles a buffer received over the wire using the codec's read
// key.
func (c *Codec) Read(src []byte) []byte {
	return Descramble(c.readKey, src)
}
