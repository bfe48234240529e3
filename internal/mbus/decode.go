package mbus

import (
	"fmt"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/telemetry"
	"github.com/segw-project/segw/internal/wmbus"
)

// fixedHeaderLen is the RSP_UD fixed data header preceding the
// variable-data block: identification(4, BCD) | manufacturer(2, LE) |
// version(1) | medium(1) | access_no(1) | status(1) | signature(2).
const fixedHeaderLen = 12

// Ingest parses a RSP_UD long-frame body returned by Readout and decodes
// it through the same variable-data-block pipeline used for wireless
// readouts (spec §4.9 step 4: "parse long frame with C1 decoder, then as
// §4.8 step 3"), writing the resulting device/readout rows into cache.
func Ingest(cache *cfgcache.Cache, body []byte, now time.Time, pub *telemetry.Publisher) ([]wmbus.Field, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("mbus: readout body too short")
	}
	ci := body[2]
	rest := body[3:]
	if len(rest) < fixedHeaderLen {
		return nil, fmt.Errorf("mbus: readout body truncated before fixed header")
	}

	srv := make(meterid.ServerID, 9)
	srv[0] = meterid.TypeWireless
	copy(srv[1:3], rest[4:6]) // manufacturer
	copy(srv[3:7], rest[0:4]) // identification (BCD)
	srv[7] = rest[6]          // version
	srv[8] = rest[7]          // medium
	status := rest[9]
	payload := rest[fixedHeaderLen:]

	return wmbus.Ingest(cache, srv, ci, status, payload, now, "mbus", pub)
}
