package mbus

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
)

// loopback pairs a scanner's writes with a canned response so Readout can
// be exercised without a real serial line.
type loopback struct {
	written  bytes.Buffer
	response bytes.Buffer
}

func (l *loopback) Write(p []byte) (int, error) { return l.written.Write(p) }
func (l *loopback) Read(p []byte) (int, error)  { return l.response.Read(p) }

func buildRspUDData(vdb []byte) []byte {
	data := []byte{
		0x08, 0x01, 0x72, // C, A, CI (long header / full frame)
		0x44, 0x33, 0x22, 0x11, // identification, BCD
		0x2C, 0x07, // manufacturer, LE
		0x01, // version
		0x07, // medium
		0x55, // access no
		0x00, // status
		0x00, 0x00, // signature
	}
	return append(data, vdb...)
}

func buildRspUD(vdb []byte) []byte {
	data := buildRspUDData(vdb)
	var sum byte
	for _, b := range data {
		sum += b
	}
	frame := []byte{startLong, byte(len(data)), byte(len(data)), startLong}
	frame = append(frame, data...)
	frame = append(frame, sum, stop)
	return frame
}

func TestReadoutParsesLongFrame(t *testing.T) {
	vdb := []byte{0x02, 0x03, 0x34, 0x12} // int16 energy field, value 0x1234
	lb := &loopback{}
	lb.response.Write(buildRspUD(vdb))

	s := NewScanner(lb, time.Millisecond)
	body, err := s.Readout(0x01)
	require.NoError(t, err)
	assert.Equal(t, byte(0x72), body[2])

	req := []byte{startShort, cREQ_UD2, 0x01, byte(cREQ_UD2 + 0x01), stop}
	assert.Equal(t, req, lb.written.Bytes())
}

func TestReadoutRejectsBadChecksum(t *testing.T) {
	lb := &loopback{}
	frame := buildRspUD([]byte{0x01, 0x42})
	frame[len(frame)-2] ^= 0xFF // corrupt checksum byte
	lb.response.Write(frame)

	s := NewScanner(lb, time.Millisecond)
	_, err := s.Readout(0x01)
	assert.Error(t, err)
}

func TestIngestDecodesIntoCache(t *testing.T) {
	vdb := []byte{0x02, 0x03, 0x34, 0x12}
	body := buildRspUDData(vdb)

	cache := cfgcache.New()
	fields, err := Ingest(cache, body, time.Now().UTC(), nil)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "4660", fields[0].Value)

	n := 0
	cache.Readouts.Loop(func(string, cfgcache.Readout) bool { n++; return true })
	assert.Equal(t, 1, n)
}
