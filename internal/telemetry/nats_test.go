package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/obis"
)

func TestReadoutSubject(t *testing.T) {
	assert.Equal(t, "readout.srv-1", readoutSubject("srv-1"))
}

func TestNewPublisherWithoutAddressIsNoop(t *testing.T) {
	p := NewPublisher(Config{})
	assert.Nil(t, p.conn)

	// PublishReadout and Close must be safe no-ops with no connection.
	p.PublishReadout("srv-1", []cfgcache.ReadoutData{
		{OBIS: obis.New(1, 0, 1, 8, 0, 255), Value: "1"},
	}, time.Now())
	p.Close()
}

func TestNewPublisherUnreachableAddressDisablesFanOut(t *testing.T) {
	p := NewPublisher(Config{Address: "nats://127.0.0.1:1"})
	assert.Nil(t, p.conn)
}
