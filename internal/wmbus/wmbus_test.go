package wmbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/meterid"
)

func buildLongHeaderFrame(t *testing.T, mode byte, payload []byte) []byte {
	t.Helper()
	body := []byte{
		0x44,       // C field
		0x2C, 0x07, // M field (manufacturer, little-endian)
		0x11, 0x22, 0x33, 0x44, // A field: outer link-layer identification (BCD)
		0x01, // A field: version
		0x07, // A field: medium
		0x72, // CI: long header
		// nested srv_id embedded in the long header
		0x11, 0x22, 0x33, 0x44, // identification (BCD)
		0x01,  // version
		0x07,  // medium
		0x55,  // access no
		0x00,  // status
		mode,  // config word high byte (mode in low 5 bits)
		0x00,  // config word low byte
	}
	body = append(body, payload...)
	crc := crc16(body)
	frame := append([]byte{byte(len(body) + 2)}, body...)
	frame = append(frame, byte(crc>>8), byte(crc))
	return frame
}

func TestParseFrameLongHeaderMode0(t *testing.T) {
	raw := buildLongHeaderFrame(t, ModeNone, []byte{0x01, 0x42})

	f, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, CILongHeader, f.CI)
	assert.Equal(t, byte(0x55), f.Header.AccessNo)
	assert.Equal(t, ModeNone, f.Header.Mode)
	require.Len(t, f.SrvID, 9)
	assert.Equal(t, meterid.TypeWireless, f.SrvID[0])
	assert.Equal(t, []byte{0x01, 0x42}, f.Payload)
}

func TestParseFrameRejectsBadCRC(t *testing.T) {
	raw := buildLongHeaderFrame(t, ModeNone, []byte{0x01, 0x42})
	raw[len(raw)-1] ^= 0xFF

	_, err := ParseFrame(raw)
	assert.Error(t, err)
}

func TestDecodeVDBInt16Field(t *testing.T) {
	// DIF=0x02 (int16), VIF=0x03 (energy Wh*10^0), value 0x34 0x12 (LE -> 0x1234)
	buf := []byte{0x02, 0x03, 0x34, 0x12}

	fields, err := DecodeVDB(buf)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "4660", fields[0].Value)
}

func TestDecodeMode5RejectsWrongKey(t *testing.T) {
	srv := meterid.ServerID{meterid.TypeWireless, 0x2C, 0x07, 0x11, 0x22, 0x33, 0x44, 0x01, 0x07}
	key := make([]byte, 16)
	ciphertext := make([]byte, 16)

	_, ok, err := decryptMode5(key, srv, 0x55, ciphertext)
	require.NoError(t, err)
	assert.False(t, ok, "an all-zero key should not produce the 0x2F2F magic for arbitrary ciphertext")
}
