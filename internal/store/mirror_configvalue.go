package store

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
)

// encodeConfigValue renders a cache leaf to its textual form together with
// a type tag so it can be restored (spec §4.7: "serialising complex
// values to their textual form together with a type tag").
func encodeConfigValue(v cfgcache.ConfigValue) (value string, typeTag int) {
	switch v.Type {
	case cfgcache.TypeInt8, cfgcache.TypeInt16, cfgcache.TypeInt32, cfgcache.TypeInt64:
		return strconv.FormatInt(v.Int, 10), int(v.Type)
	case cfgcache.TypeUint8, cfgcache.TypeUint16, cfgcache.TypeUint32, cfgcache.TypeUint64:
		return strconv.FormatUint(v.Uint, 10), int(v.Type)
	case cfgcache.TypeString, cfgcache.TypeEndpoint:
		return v.Str, int(v.Type)
	case cfgcache.TypeBuffer, cfgcache.TypeAESKey, cfgcache.TypeMAC:
		return hex.EncodeToString(v.Buf), int(v.Type)
	case cfgcache.TypeBool:
		return strconv.FormatBool(v.Bool), int(v.Type)
	case cfgcache.TypeTimestamp:
		return strconv.FormatInt(v.Timestamp.Unix(), 10), int(v.Type)
	case cfgcache.TypeDuration:
		return strconv.FormatInt(int64(v.Duration/time.Second), 10), int(v.Type)
	default:
		return "", int(v.Type)
	}
}

// decodeConfigValue is encodeConfigValue's inverse, used by bulk-load.
func decodeConfigValue(value string, typeTag int) (cfgcache.ConfigValue, error) {
	t := cfgcache.ValueType(typeTag)
	v := cfgcache.ConfigValue{Type: t}
	switch t {
	case cfgcache.TypeInt8, cfgcache.TypeInt16, cfgcache.TypeInt32, cfgcache.TypeInt64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return v, err
		}
		v.Int = n
	case cfgcache.TypeUint8, cfgcache.TypeUint16, cfgcache.TypeUint32, cfgcache.TypeUint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return v, err
		}
		v.Uint = n
	case cfgcache.TypeString, cfgcache.TypeEndpoint:
		v.Str = value
	case cfgcache.TypeBuffer, cfgcache.TypeAESKey, cfgcache.TypeMAC:
		b, err := hex.DecodeString(value)
		if err != nil {
			return v, err
		}
		v.Buf = b
	case cfgcache.TypeBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return v, err
		}
		v.Bool = b
	case cfgcache.TypeTimestamp:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return v, err
		}
		v.Timestamp = time.Unix(n, 0).UTC()
	case cfgcache.TypeDuration:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return v, err
		}
		v.Duration = time.Duration(n) * time.Second
	default:
		return v, fmt.Errorf("store: unknown config value type tag %d", typeTag)
	}
	return v, nil
}
