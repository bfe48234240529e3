// Package telemetry implements the ambient fan-out paths added on top of
// the protocol core (SPEC_FULL.md §4.14): a best-effort NATS publish of
// every decoded readout as an InfluxDB line-protocol message, and an
// optional best-effort S3 cold-storage snapshot of delivered push
// payloads.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/pkg/log"
)

// Config mirrors the connection fields this module reads from the nats
// config stanza (grounded on pkg/nats/config.go's NatsConfig).
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
}

// Publisher wraps a NATS connection for the readout fan-out (grounded on
// pkg/nats/client.go's Client, trimmed to the one subscription-free
// publish path this module needs and rebased onto this module's own
// pkg/log instead of the teacher's cc-lib logger).
type Publisher struct {
	mu   sync.Mutex
	conn *nats.Conn
}

// NewPublisher dials addr. A Publisher with a nil connection is valid and
// silently drops every Publish call — readout fan-out is best-effort and
// must never block the ingest pipeline on a down broker.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Address == "" {
		log.Info("telemetry: no NATS address configured, readout fan-out disabled")
		return &Publisher{}
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("telemetry: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("telemetry: NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		log.Warnf("telemetry: NATS connect failed, readout fan-out disabled: %v", err)
		return &Publisher{}
	}
	log.Infof("telemetry: NATS connected to %s", cfg.Address)
	return &Publisher{conn: conn}
}

// Close flushes and closes the underlying connection, if any.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
	}
}

// readoutSubject builds the "readout.<srvId>" subject spec SPEC_FULL.md
// §4.14 names.
func readoutSubject(srvID string) string {
	return fmt.Sprintf("readout.%s", srvID)
}

// PublishReadout encodes one decoded readout's fields as a single
// InfluxDB line-protocol point and publishes it on readout.<srvId>. Any
// failure — no connection, encode error, publish error — is logged and
// swallowed: fan-out never affects the readout pipeline's own
// success/failure (SPEC_FULL.md §4.14).
func (p *Publisher) PublishReadout(srvID string, fields []cfgcache.ReadoutData, ts time.Time) {
	if p.conn == nil {
		return
	}
	line, err := encodeReadoutLine(srvID, fields, ts)
	if err != nil {
		log.Warnf("telemetry: encode readout for %s: %v", srvID, err)
		return
	}
	if err := p.conn.Publish(readoutSubject(srvID), line); err != nil {
		log.Warnf("telemetry: publish readout for %s: %v", srvID, err)
	}
}
