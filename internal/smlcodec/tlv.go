package smlcodec

import (
	"encoding/binary"
	"fmt"
)

// continuationBit marks that another length byte follows; the remaining
// 3 bits of each length byte hold 3 more-significant bits of the total
// element length (TL bytes included), most significant group first.
const continuationBit = 0x08

// encodeLength renders the length chain for total (the full size of this
// element, length bytes included) and ORs tag into the first byte's high
// nibble.
func encodeLength(tag Tag, total int) []byte {
	// Gather 3-bit groups, least significant first.
	groups := []byte{byte(total & 0x7)}
	total >>= 3
	for total > 0 {
		groups = append(groups, byte(total&0x7))
		total >>= 3
	}

	out := make([]byte, len(groups))
	// Emit most-significant group first so the first byte on the wire
	// carries the type tag.
	for i := range groups {
		g := groups[len(groups)-1-i]
		b := g
		if i < len(groups)-1 {
			b |= continuationBit
		}
		if i == 0 {
			b |= byte(tag) << 4
		}
		out[i] = b
	}
	return out
}

// decodeLength reads a length/tag chain starting at buf[0]. It returns
// the tag, the total element length (TL bytes included), and the number
// of bytes the chain itself occupied.
func decodeLength(buf []byte) (Tag, int, int, error) {
	if len(buf) == 0 {
		return 0, 0, 0, fmt.Errorf("smlcodec: empty buffer")
	}
	tag := Tag(buf[0] >> 4)
	total := 0
	n := 0
	for {
		if n >= len(buf) {
			return 0, 0, 0, fmt.Errorf("smlcodec: truncated length chain")
		}
		b := buf[n]
		total = (total << 3) | int(b&0x7)
		n++
		if b&continuationBit == 0 {
			break
		}
	}
	return tag, total, n, nil
}

// Encode renders v as its TLV wire form.
func Encode(v Value) []byte {
	switch v.Tag {
	case TagOctetString:
		total := 0 // computed after we know the length-chain size
		return encodeWithPayload(v.Tag, v.Bytes, &total)
	case TagBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		var total int
		return encodeWithPayload(v.Tag, []byte{b}, &total)
	case TagInt:
		width := signedWidth(v.Int)
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, uint64(v.Int))
		var total int
		return encodeWithPayload(v.Tag, payload[8-width:], &total)
	case TagUint:
		width := minWidth(bitLen64(v.Uint))
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, v.Uint)
		var total int
		return encodeWithPayload(v.Tag, payload[8-width:], &total)
	case TagList:
		var body []byte
		for _, el := range v.List {
			body = append(body, Encode(el)...)
		}
		// A list's "length" is its element count, not a byte count.
		lenBytes := encodeLength(v.Tag, len(v.List))
		return append(lenBytes, body...)
	default:
		return nil
	}
}

// encodeWithPayload lays out a non-list element: length chain sized to
// cover itself plus the payload.
func encodeWithPayload(tag Tag, payload []byte, _ *int) []byte {
	// Try increasing length-chain sizes until the declared total is
	// self-consistent (the chain is 1 byte for payloads of at most 6
	// bytes after the tag byte, i.e. total <= 7).
	for chainLen := 1; chainLen <= 5; chainLen++ {
		total := chainLen + len(payload)
		chain := encodeLength(tag, total)
		if len(chain) == chainLen {
			return append(chain, payload...)
		}
	}
	// Fallback: should not happen for realistic payload sizes.
	chain := encodeLength(tag, len(payload)+5)
	return append(chain, payload...)
}

// Decode parses one Value from the front of buf and returns it together
// with the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	tag, total, chainLen, err := decodeLength(buf)
	if err != nil {
		return Value{}, 0, err
	}

	if tag == TagList {
		count := total // for lists, "total" is the element count
		off := chainLen
		elems := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			if off >= len(buf) {
				return Value{}, 0, fmt.Errorf("smlcodec: truncated list")
			}
			el, n, err := Decode(buf[off:])
			if err != nil {
				return Value{}, 0, err
			}
			elems = append(elems, el)
			off += n
		}
		return Value{Tag: TagList, List: elems}, off, nil
	}

	if total < chainLen || total > len(buf) {
		return Value{}, 0, fmt.Errorf("smlcodec: invalid element length %d", total)
	}
	payload := buf[chainLen:total]

	switch tag {
	case TagOctetString:
		return Value{Tag: tag, Bytes: append([]byte(nil), payload...)}, total, nil
	case TagBool:
		if len(payload) != 1 {
			return Value{}, 0, fmt.Errorf("smlcodec: bool payload must be 1 byte")
		}
		return Value{Tag: tag, Bool: payload[0] != 0}, total, nil
	case TagInt:
		v := signExtend(payload)
		return Value{Tag: tag, Int: v}, total, nil
	case TagUint:
		var v uint64
		for _, b := range payload {
			v = v<<8 | uint64(b)
		}
		return Value{Tag: tag, Uint: v}, total, nil
	default:
		return Value{}, 0, fmt.Errorf("smlcodec: unknown tag 0x%X", tag)
	}
}

// signedWidth returns the smallest of {1,2,4,8} bytes whose two's
// complement range covers v.
func signedWidth(v int64) int {
	switch {
	case v >= -128 && v <= 127:
		return 1
	case v >= -32768 && v <= 32767:
		return 2
	case v >= -2147483648 && v <= 2147483647:
		return 4
	default:
		return 8
	}
}

func signExtend(payload []byte) int64 {
	if len(payload) == 0 {
		return 0
	}
	var v uint64
	for _, b := range payload {
		v = v<<8 | uint64(b)
	}
	bits := uint(len(payload) * 8)
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return int64(v)
}
