package telemetry

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlrouter"
)

func TestNewArchiverWithoutBucketIsNoop(t *testing.T) {
	a := NewArchiver(S3Config{})
	assert.Nil(t, a.client)
	// ArchivePush must be a safe no-op with no client configured.
	a.ArchivePush("srv-1", "1-0:99.1.0*255", 0, 10, nil)
}

func TestEncodeRowsProducesReadableOCF(t *testing.T) {
	codec, err := goavro.NewCodec(profileRowSchema)
	require.NoError(t, err)
	a := &Archiver{codec: codec}

	rows := []smlrouter.ProfileRow{
		{
			TimeIndex: time.Unix(1700000000, 0),
			Values: []cfgcache.ReadoutData{
				{OBIS: obis.New(1, 0, 1, 8, 0, 255), Value: "42", Scaler: -1, Unit: 30},
			},
		},
	}

	data, err := a.encodeRows(rows)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	ocf, err := goavro.NewOCFReader(bufio.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)
	require.True(t, ocf.Scan())
	rec, err := ocf.Read()
	require.NoError(t, err)

	m, ok := rec.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), m["time_index"])
	assert.Equal(t, "1-0:1.8.0*255", m["obis"])
	assert.Equal(t, "42", m["value"])
}
