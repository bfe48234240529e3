package smlrouter

import (
	"fmt"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
)

// toSMLValue renders a cache leaf as its wire form (spec §4.5
// "GET_PROC_PARAMETER_REQ ... serialise subtree").
func toSMLValue(v cfgcache.ConfigValue) smlcodec.Value {
	switch v.Type {
	case cfgcache.TypeInt8, cfgcache.TypeInt16, cfgcache.TypeInt32, cfgcache.TypeInt64:
		return smlcodec.Int(v.Int)
	case cfgcache.TypeUint8, cfgcache.TypeUint16, cfgcache.TypeUint32, cfgcache.TypeUint64:
		return smlcodec.Uint(v.Uint)
	case cfgcache.TypeString:
		return smlcodec.OctetsString(v.Str)
	case cfgcache.TypeBuffer, cfgcache.TypeAESKey, cfgcache.TypeMAC:
		return smlcodec.Octets(v.Buf)
	case cfgcache.TypeBool:
		return smlcodec.Boolean(v.Bool)
	case cfgcache.TypeTimestamp:
		return smlcodec.Uint(uint64(v.Timestamp.Unix()))
	case cfgcache.TypeDuration:
		return smlcodec.Uint(uint64(v.Duration / time.Second))
	case cfgcache.TypeEndpoint:
		return smlcodec.OctetsString(v.Str)
	default:
		return smlcodec.Octets(nil)
	}
}

// fromSMLValue coerces a wire value to the declared type of an existing
// cache entry (spec §4.5 "coerce value to declared type"). A mismatched
// wire tag is a type-coercion failure (spec §7).
func fromSMLValue(wire smlcodec.Value, want cfgcache.ValueType) (cfgcache.ConfigValue, error) {
	out := cfgcache.ConfigValue{Type: want}
	switch want {
	case cfgcache.TypeInt8, cfgcache.TypeInt16, cfgcache.TypeInt32, cfgcache.TypeInt64:
		if wire.Tag != smlcodec.TagInt {
			return out, fmt.Errorf("smlrouter: expected signed integer wire value")
		}
		out.Int = wire.Int
	case cfgcache.TypeUint8, cfgcache.TypeUint16, cfgcache.TypeUint32, cfgcache.TypeUint64:
		if wire.Tag != smlcodec.TagUint {
			return out, fmt.Errorf("smlrouter: expected unsigned integer wire value")
		}
		out.Uint = wire.Uint
	case cfgcache.TypeString, cfgcache.TypeEndpoint:
		if wire.Tag != smlcodec.TagOctetString {
			return out, fmt.Errorf("smlrouter: expected octet-string wire value")
		}
		out.Str = string(wire.Bytes)
	case cfgcache.TypeBuffer, cfgcache.TypeAESKey, cfgcache.TypeMAC:
		if wire.Tag != smlcodec.TagOctetString {
			return out, fmt.Errorf("smlrouter: expected octet-string wire value")
		}
		out.Buf = append([]byte(nil), wire.Bytes...)
	case cfgcache.TypeBool:
		if wire.Tag != smlcodec.TagBool {
			return out, fmt.Errorf("smlrouter: expected boolean wire value")
		}
		out.Bool = wire.Bool
	case cfgcache.TypeTimestamp:
		if wire.Tag != smlcodec.TagUint {
			return out, fmt.Errorf("smlrouter: expected unsigned integer wire value for timestamp")
		}
		out.Timestamp = time.Unix(int64(wire.Uint), 0).UTC()
	case cfgcache.TypeDuration:
		if wire.Tag != smlcodec.TagUint {
			return out, fmt.Errorf("smlrouter: expected unsigned integer wire value for duration")
		}
		out.Duration = time.Duration(wire.Uint) * time.Second
	default:
		return out, fmt.Errorf("smlrouter: unsupported value type %v", want)
	}
	return out, nil
}

// pathToValue encodes an OBIS path as a list of 6-byte octet strings.
func pathToValue(p obis.Path) smlcodec.Value {
	vs := make([]smlcodec.Value, len(p))
	for i, id := range p {
		vs[i] = smlcodec.Octets(id.Bytes())
	}
	return smlcodec.List(vs...)
}

// pathFromValue decodes the list-of-6-byte-octet-strings form back into a
// Path.
func pathFromValue(v smlcodec.Value) (obis.Path, error) {
	if v.Tag != smlcodec.TagList {
		return nil, fmt.Errorf("smlrouter: path field is not a list")
	}
	path := make(obis.Path, len(v.List))
	for i, e := range v.List {
		if e.Tag != smlcodec.TagOctetString {
			return nil, fmt.Errorf("smlrouter: path element %d is not an octet string", i)
		}
		id, err := obis.FromBytes(e.Bytes)
		if err != nil {
			return nil, fmt.Errorf("smlrouter: path element %d: %w", i, err)
		}
		path[i] = id
	}
	return path, nil
}
