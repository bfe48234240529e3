package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/obis"
)

func TestEncodeReadoutLineIncludesScaledFields(t *testing.T) {
	fields := []cfgcache.ReadoutData{
		{OBIS: obis.New(1, 0, 1, 8, 0, 255), Value: "12345", Scaler: -1},
		{OBIS: obis.New(1, 0, 1, 8, 1, 255), Value: "not-a-number", Scaler: 0},
	}
	line, err := encodeReadoutLine("srv-1", fields, time.Unix(1000, 0))
	require.NoError(t, err)

	s := string(line)
	assert.True(t, strings.HasPrefix(s, "readout,srv_id=srv-1 "))
	assert.Contains(t, s, `1-0:1.8.0*255=1234.5`)
	assert.NotContains(t, s, `1-0:1.8.1*255`)
}

func TestPow10(t *testing.T) {
	assert.Equal(t, 100.0, pow10(2))
	assert.Equal(t, 0.1, pow10(-1))
	assert.Equal(t, 1.0, pow10(0))
}
