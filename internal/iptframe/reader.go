package iptframe

import (
	"bufio"
	"fmt"
)

// Reader consumes framed IP-T traffic from a byte stream, resynchronising
// on the leading escape sentinel that precedes every non-login command
// (spec §4.2: "every other command is preceded by a single 0x1B byte to
// let parsers resynchronise").
type Reader struct {
	br            *bufio.Reader
	maxBodyLength uint32
}

// NewReader wraps r. maxBodyLength of 0 selects DefaultMaxBodyLength.
func NewReader(br *bufio.Reader, maxBodyLength uint32) *Reader {
	return &Reader{br: br, maxBodyLength: maxBodyLength}
}

// ReadFrame blocks until one full frame has arrived and returns it. A
// malformed frame (bad escape sentinel placement, declared length out of
// range) is a protocol error per spec §4.3 ("Frame parse error -> log +
// close connection").
func (r *Reader) ReadFrame() (Frame, error) {
	header, err := r.peekHeader()
	if err != nil {
		return Frame{}, err
	}

	cmd := header
	if !isLoginCommand(cmd) {
		b, err := r.br.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != EscapeByte {
			return Frame{}, fmt.Errorf("iptframe: expected escape sentinel 0x1B, got 0x%02X", b)
		}
	}

	hdr := make([]byte, HeaderSize)
	if _, err := fullRead(r.br, hdr); err != nil {
		return Frame{}, err
	}

	totalLen := le32(hdr[4:8])
	max := r.maxBodyLength
	if max == 0 {
		max = DefaultMaxBodyLength
	}
	if totalLen < HeaderSize || totalLen > max {
		return Frame{}, fmt.Errorf("iptframe: declared length %d out of range", totalLen)
	}

	bodyLen := int(totalLen) - HeaderSize
	buf := make([]byte, HeaderSize+bodyLen)
	copy(buf, hdr)
	if _, err := fullRead(r.br, buf[HeaderSize:]); err != nil {
		return Frame{}, err
	}

	f, _, err := Decode(buf, max)
	return f, err
}

// peekHeader looks far enough ahead to read the command word without
// consuming it, so the caller can decide whether an escape sentinel is
// expected before the header.
func (r *Reader) peekHeader() (uint16, error) {
	b, err := r.br.Peek(2)
	if err != nil {
		// A leading escape sentinel shifts the command word by one byte;
		// peek past it speculatively.
		b2, err2 := r.br.Peek(3)
		if err2 != nil {
			return 0, err
		}
		return le16(b2[1:3]), nil
	}
	// Either this is a login frame (command first) or a non-login frame
	// prefixed with 0x1B. Disambiguate by checking whether byte 0 is the
	// sentinel and byte 1..2 decode to a known command; the session layer
	// always knows which is expected from context, but for a
	// self-synchronising stream we peek one byte further.
	if b[0] == EscapeByte {
		b3, err := r.br.Peek(3)
		if err != nil {
			return 0, err
		}
		return le16(b3[1:3]), nil
	}
	return le16(b), nil
}

func fullRead(br *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := br.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
