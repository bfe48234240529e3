package smlcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// escapeSentinelRepeat is how many times EscapeByte repeats in a file's
// start and end sentinels.
const escapeSentinelRepeat = 4

var startMarker = []byte{0x1B, 0x1B, 0x1B, 0x1B, 0x01, 0x01, 0x01, 0x01}

const endTag = 0x1A

// escapeData quadruples every literal 0x1B so it can never be confused
// with a 4-byte sentinel once embedded in message data (spec §4.4: "inner
// 0x1B bytes... escaped by quadrupling").
func escapeData(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0x1B {
			for i := 0; i < escapeSentinelRepeat; i++ {
				out = append(out, 0x1B)
			}
		} else {
			out = append(out, c)
		}
	}
	return out
}

// unescapeData collapses every run of 4 consecutive 0x1B bytes back into
// a single literal 0x1B.
func unescapeData(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		if b[i] == 0x1B {
			if i+4 > len(b) || b[i+1] != 0x1B || b[i+2] != 0x1B || b[i+3] != 0x1B {
				return nil, fmt.Errorf("smlcodec: unterminated escape run at offset %d", i)
			}
			out = append(out, 0x1B)
			i += 4
		} else {
			out = append(out, b[i])
			i++
		}
	}
	return out, nil
}

// EncodeFile frames one or more messages into an SML file: start marker,
// escaped concatenated message bytes, 0-3 zero fill bytes bringing the
// data region to a 4-byte boundary, the end marker carrying that fill
// count, and a trailing CRC16/X-25 over everything up to the CRC itself
// (spec §4.4).
func EncodeFile(messages []Message) []byte {
	var raw []byte
	for _, m := range messages {
		raw = append(raw, m.Encode()...)
	}
	escaped := escapeData(raw)

	pad := (4 - (len(startMarker)+len(escaped))%4) % 4

	body := append([]byte{}, startMarker...)
	body = append(body, escaped...)
	for i := 0; i < pad; i++ {
		body = append(body, 0x00)
	}
	body = append(body, 0x1B, 0x1B, 0x1B, 0x1B, endTag, byte(pad))

	crc := CRC16X25(body)
	crcBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBytes, crc)
	return append(body, crcBytes...)
}

// DecodeFile validates the trailer CRC and pad count, then decodes every
// contained message.
func DecodeFile(file []byte) ([]Message, error) {
	if len(file) < len(startMarker)+6+2 {
		return nil, fmt.Errorf("smlcodec: file too short")
	}
	if !bytes.Equal(file[:len(startMarker)], startMarker) {
		return nil, fmt.Errorf("smlcodec: missing start marker")
	}

	gotCRC := binary.LittleEndian.Uint16(file[len(file)-2:])
	wantCRC := CRC16X25(file[:len(file)-2])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("smlcodec: file CRC mismatch (got %04X want %04X)", gotCRC, wantCRC)
	}

	endIdx := bytes.LastIndex(file[:len(file)-2], []byte{0x1B, 0x1B, 0x1B, 0x1B, endTag})
	if endIdx < 0 {
		return nil, fmt.Errorf("smlcodec: missing end marker")
	}
	pad := int(file[endIdx+5])
	if pad < 0 || pad > 3 {
		return nil, fmt.Errorf("smlcodec: invalid pad count %d", pad)
	}
	if endIdx-pad < len(startMarker) {
		return nil, fmt.Errorf("smlcodec: pad count %d exceeds message data", pad)
	}

	escaped := file[len(startMarker) : endIdx-pad]
	raw, err := unescapeData(escaped)
	if err != nil {
		return nil, err
	}

	var messages []Message
	off := 0
	for off < len(raw) {
		m, n, err := DecodeMessage(raw[off:])
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
		off += n
	}
	return messages, nil
}
