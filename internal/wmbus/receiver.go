package wmbus

import (
	"bufio"
	"io"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/telemetry"
	"github.com/segw-project/segw/pkg/log"
)

// SoftEvent is fired after a readout is inserted, letting the dispatcher
// react immediately instead of waiting for its own timer (spec §4.8 step
// 3: "Signals the readout dispatcher via a soft event").
type SoftEvent func(srv meterid.ServerID)

// Receiver reads frames off a serial line, decrypts and decodes them, and
// inserts the resulting device/readout rows into the configuration
// cache.
type Receiver struct {
	Cache     *cfgcache.Cache
	OnReadout SoftEvent
	Telemetry *telemetry.Publisher

	r *bufio.Reader
}

// NewReceiver wraps a serial io.Reader. pub may be nil to disable the
// readout telemetry fan-out.
func NewReceiver(serial io.Reader, cache *cfgcache.Cache, onReadout SoftEvent, pub *telemetry.Publisher) *Receiver {
	return &Receiver{Cache: cache, OnReadout: onReadout, Telemetry: pub, r: bufio.NewReader(serial)}
}

// Run reads frames until the serial line errors or ctx-equivalent stop is
// requested by the caller closing the underlying reader; each frame is
// processed independently so one bad frame does not stop the line.
func (rcv *Receiver) Run() error {
	for {
		length, err := rcv.r.ReadByte()
		if err != nil {
			return err
		}
		raw := make([]byte, 1+int(length))
		raw[0] = length
		if _, err := io.ReadFull(rcv.r, raw[1:]); err != nil {
			return err
		}
		if err := rcv.handleFrame(raw); err != nil {
			log.Warnf("wmbus: dropping frame: %v", err)
		}
	}
}

func (rcv *Receiver) handleFrame(raw []byte) error {
	f, err := ParseFrame(raw)
	if err != nil {
		return err
	}
	if f.SrvID == nil {
		// Short header without a preceding long header observation has
		// no srv_id to key the device record by; spec §4.8 scopes
		// decoding to 0x72/0x7A frames, both handled here, but only the
		// long header carries the identity needed to persist anything.
		return nil
	}
	if f.Header.Mode != ModeNone && f.Header.Mode != ModeAESCBC {
		log.Debugf("wmbus: srv %s uses unsupported mode %d, skipping", f.SrvID, f.Header.Mode)
		return nil
	}

	payload := f.Payload
	if f.Header.Mode == ModeAESCBC {
		key, ok := rcv.Cache.AESKeyFor(f.SrvID)
		if !ok {
			log.Warnf("wmbus: no AES key for %s, storing empty record", f.SrvID)
			payload = nil
		} else {
			plain, okMagic, err := decryptMode5(key, f.SrvID, f.Header.AccessNo, payload)
			if err != nil {
				return err
			}
			if okMagic {
				payload = plain[2:] // strip 0x2F 0x2F marker
			} else {
				log.Warnf("wmbus: AES key for %s produced invalid magic, storing empty record", f.SrvID)
				payload = nil
			}
		}
	}

	now := time.Now().UTC()
	if _, err := Ingest(rcv.Cache, f.SrvID, f.CI, f.Header.Status, payload, now, "wmbus", rcv.Telemetry); err != nil {
		log.Warnf("wmbus: vdb decode for %s: %v", f.SrvID, err)
	}
	if rcv.OnReadout != nil {
		rcv.OnReadout(f.SrvID)
	}
	return nil
}
