package telemetry

import (
	"strconv"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/segw-project/segw/internal/cfgcache"
)

// encodeReadoutLine renders one readout's fields as a single InfluxDB
// line-protocol point: measurement "readout", tag srv_id, one field per
// OBIS identifier carrying its scaled value as a float (spec's storage
// model keeps readings as decimal strings; telemetry fan-out is a
// best-effort numeric view, not the system of record). Grounded on the
// encoder's mirror image, pkg/nats/influxDecoder.go's DecodeInfluxMessage,
// which reads Measurement/NextTag/NextField/Time off an influx.Decoder.
func encodeReadoutLine(srvID string, fields []cfgcache.ReadoutData, ts time.Time) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)

	enc.StartLine("readout")
	enc.AddTag("srv_id", srvID)
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.Value, 64)
		if err != nil {
			continue // non-numeric fields (e.g. raw octet strings) are skipped in the line-protocol view
		}
		if f.Scaler != 0 {
			v *= pow10(int(f.Scaler))
		}
		enc.AddField(f.OBIS.Dotted(), influx.FloatValue(v))
	}
	enc.EndLine(ts)

	if err := enc.Err(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func pow10(exp int) float64 {
	result := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			result *= 10
		}
		return result
	}
	for i := 0; i < -exp; i++ {
		result /= 10
	}
	return result
}
