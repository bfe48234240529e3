// Package iptframe implements the IP-T wire framing (spec §4.2, C2): a
// fixed 8-byte header plus an escape-doubled body.
package iptframe

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed IP-T frame header length.
const HeaderSize = 8

// DefaultMaxBodyLength is the default rejection threshold for a frame's
// declared total length (spec §4.2: "default 64 KiB").
const DefaultMaxBodyLength = 64 * 1024

// EscapeByte resynchronises parsers; every non-login command is preceded
// by exactly one of these, and any literal occurrence inside the body is
// doubled.
const EscapeByte = 0x1B

// Command words (spec §6, selection).
const (
	CtrlReqLoginPublic    uint16 = 0xC001
	CtrlResLoginPublic    uint16 = 0x4001
	CtrlReqLoginScrambled uint16 = 0xC002
	CtrlResLoginScrambled uint16 = 0x4002
	CtrlReqWatchdog       uint16 = 0xC008
	CtrlResWatchdog       uint16 = 0x4008
	CtrlReqRegisterTarget uint16 = 0xC005
	CtrlResRegisterTarget uint16 = 0x4005
	CtrlReqDeregister     uint16 = 0xC006
	CtrlResDeregister     uint16 = 0x4006

	TPReqOpenPushChannel uint16 = 0x9000
	TPResOpenPushChannel uint16 = 0x1000
	TPReqClosePushChan   uint16 = 0x9001
	TPResClosePushChan   uint16 = 0x1001
	TPReqPushData        uint16 = 0x9002
	TPResPushData        uint16 = 0x1002

	TPReqOpenConnection  uint16 = 0x9003
	TPResOpenConnection  uint16 = 0x1003
	TPReqCloseConnection uint16 = 0x9004
	TPResCloseConnection uint16 = 0x1004

	TPReqTransmitData uint16 = 0x900B
	TPResTransmitData uint16 = 0x100B

	UnknownCommand uint16 = 0x7FFF
)

// isLoginCommand reports whether cmd is one of the four login
// command/response words, which per §4.2 are never preceded by the
// escape sentinel.
func isLoginCommand(cmd uint16) bool {
	switch cmd {
	case CtrlReqLoginPublic, CtrlResLoginPublic, CtrlReqLoginScrambled, CtrlResLoginScrambled:
		return true
	default:
		return false
	}
}

// Frame is a decoded IP-T frame.
type Frame struct {
	Command  uint16
	Sequence uint8
	Body     []byte
}

// isTransparentCommand reports whether cmd carries a push-data body that
// must be forwarded byte-transparent, the single deviation from the
// escape rule (spec §4.3).
func isTransparentCommand(cmd uint16) bool {
	return cmd == TPReqPushData || cmd == TPResPushData
}

// escapeBody doubles every literal EscapeByte in body.
func escapeBody(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for _, b := range body {
		out = append(out, b)
		if b == EscapeByte {
			out = append(out, EscapeByte)
		}
	}
	return out
}

// unescapeBody drops every second occurrence of a doubled EscapeByte.
func unescapeBody(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		out = append(out, body[i])
		if body[i] == EscapeByte && i+1 < len(body) && body[i+1] == EscapeByte {
			i++
		}
	}
	return out
}

// Encode renders f onto the wire: a single leading escape sentinel for
// every non-login command, the 8-byte header, and the escape-doubled
// body (total-length field includes the header).
func Encode(f Frame) []byte {
	body := f.Body
	if !isTransparentCommand(f.Command) {
		body = escapeBody(body)
	}
	out := make([]byte, 0, 1+HeaderSize+len(body))
	if !isLoginCommand(f.Command) {
		out = append(out, EscapeByte)
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(header[0:2], f.Command)
	header[2] = f.Sequence
	header[3] = 0
	binary.LittleEndian.PutUint32(header[4:8], uint32(HeaderSize+len(body)))

	out = append(out, header...)
	out = append(out, body...)
	return out
}

// Decode parses one frame from buf, which must start at the header (any
// leading escape sentinel already consumed by the caller). maxBodyLength
// bounds the declared total-length field; 0 selects DefaultMaxBodyLength.
// Returns the decoded frame and the number of bytes of buf it consumed.
func Decode(buf []byte, maxBodyLength uint32) (Frame, int, error) {
	if maxBodyLength == 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	if len(buf) < HeaderSize {
		return Frame{}, 0, fmt.Errorf("iptframe: short header (%d bytes)", len(buf))
	}

	cmd := binary.LittleEndian.Uint16(buf[0:2])
	seq := buf[2]
	totalLen := binary.LittleEndian.Uint32(buf[4:8])

	if totalLen < HeaderSize {
		return Frame{}, 0, fmt.Errorf("iptframe: declared length %d shorter than header", totalLen)
	}
	if totalLen > maxBodyLength {
		return Frame{}, 0, fmt.Errorf("iptframe: declared length %d exceeds limit %d", totalLen, maxBodyLength)
	}

	escapedBodyLen := int(totalLen) - HeaderSize
	if len(buf) < HeaderSize+escapedBodyLen {
		return Frame{}, 0, fmt.Errorf("iptframe: short body, need %d more bytes", HeaderSize+escapedBodyLen-len(buf))
	}

	raw := buf[HeaderSize : HeaderSize+escapedBodyLen]
	body := raw
	if !isTransparentCommand(cmd) {
		body = unescapeBody(raw)
	} else {
		body = append([]byte(nil), raw...)
	}

	return Frame{Command: cmd, Sequence: seq, Body: body}, HeaderSize + escapedBodyLen, nil
}
