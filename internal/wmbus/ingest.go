package wmbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/telemetry"
)

// Ingest decodes a plaintext variable-data-block payload and writes the
// resulting device/readout rows into the configuration cache. It is the
// shared tail of both the wireless receiver (after mode-5 decryption) and
// the wired scan (spec §4.9 step 4: "parse long frame with C1 decoder,
// then as §4.8 step 3"); ci identifies the originating frame shape for
// the stored readout record, and payload may be nil to record a frame
// whose fields could not be recovered (wrong AES key, undecodable VDB).
// pub may be nil, which skips the best-effort NATS fan-out of the decoded
// fields (SPEC_FULL.md §4.14).
func Ingest(cache *cfgcache.Cache, srv meterid.ServerID, ci byte, status byte, payload []byte, now time.Time, source string, pub *telemetry.Publisher) ([]Field, error) {
	touchDevice(cache, srv, status, now, source)

	var fields []Field
	var err error
	if payload != nil {
		fields, err = DecodeVDB(payload)
	}
	rows := insertReadout(cache, srv, ci, payload, fields, now, source)
	if pub != nil && len(rows) > 0 {
		pub.PublishReadout(srv.String(), rows, now)
	}
	return fields, err
}

func touchDevice(cache *cfgcache.Cache, srv meterid.ServerID, status byte, now time.Time, source string) {
	key := srv.String()
	if existing, ok := cache.MBus.Get(key); ok {
		existing.LastSeen = now
		existing.Status = uint32(status)
		cache.MBus.Merge(key, existing, source)
		return
	}
	manufacturer, _ := srv.Manufacturer()
	_, medium, _ := srv.VersionAndMedium()
	cache.MBus.Insert(key, cfgcache.MBusDevice{
		SrvID:        srv,
		LastSeen:     now,
		Active:       true,
		Manufacturer: manufacturer,
		Status:       uint32(status),
		DeviceClass:  int(medium),
		Interval:     0,
	}, source)
}

func insertReadout(cache *cfgcache.Cache, srv meterid.ServerID, ci byte, raw []byte, fields []Field, now time.Time, source string) []cfgcache.ReadoutData {
	pk := uuid.NewString()
	manufacturer, _ := srv.Manufacturer()
	version, medium, _ := srv.VersionAndMedium()

	cache.Readouts.Insert(pk, cfgcache.Readout{
		PK:           pk,
		SrvID:        srv,
		Manufacturer: manufacturer,
		Version:      version,
		Medium:       medium,
		FrameType:    ci,
		Raw:          append([]byte(nil), raw...),
		Timestamp:    now,
	}, source)

	rows := make([]cfgcache.ReadoutData, 0, len(fields))
	for i, fl := range fields {
		rows = append(rows, cfgcache.ReadoutData{
			PK:     pk,
			OBIS:   SynthesizeOBIS(fl.Unit, i),
			Value:  fl.Value,
			Type:   fl.Type,
			Scaler: fl.Scaler,
			Unit:   fl.Unit,
		})
	}
	cache.ReadoutData.Insert(pk, rows, source)
	return rows
}
