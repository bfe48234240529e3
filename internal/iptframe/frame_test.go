package iptframe

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bodies := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		{0x1B, 0x00, 0x1B, 0x1B},
	}

	for _, body := range bodies {
		wire := Encode(Frame{Command: CtrlReqWatchdog, Sequence: 7, Body: body})
		require.Equal(t, byte(EscapeByte), wire[0], "non-login frame must carry exactly one leading escape")

		f, n, err := Decode(wire[1:], 0)
		require.NoError(t, err)
		require.Equal(t, len(wire)-1, n)
		require.Equal(t, CtrlReqWatchdog, f.Command)
		require.Equal(t, uint8(7), f.Sequence)
		require.Equal(t, body, f.Body)
	}
}

func TestLoginFrameHasNoEscapeSentinel(t *testing.T) {
	wire := Encode(Frame{Command: CtrlReqLoginPublic, Sequence: 0, Body: []byte("hello")})
	require.NotEqual(t, byte(EscapeByte), wire[0])
}

func TestRejectsOversizedFrame(t *testing.T) {
	body := bytes.Repeat([]byte{0x41}, 10)
	wire := Encode(Frame{Command: CtrlReqWatchdog, Sequence: 1, Body: body})
	_, _, err := Decode(wire[1:], HeaderSize+5)
	require.Error(t, err)
}

func TestPushDataIsTransparentNotEscaped(t *testing.T) {
	body := []byte{0x1B, 0x1B, 0x1B} // would be doubled if (wrongly) escaped
	wire := Encode(Frame{Command: TPReqPushData, Sequence: 2, Body: body})
	f, _, err := Decode(wire[1:], 0)
	require.NoError(t, err)
	require.Equal(t, body, f.Body)
}

func TestReaderResynchronises(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(Frame{Command: CtrlReqLoginPublic, Sequence: 0, Body: []byte("a")}))
	buf.Write(Encode(Frame{Command: CtrlReqWatchdog, Sequence: 1, Body: []byte("b")}))

	r := NewReader(bufio.NewReader(&buf), 0)
	f1, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, CtrlReqLoginPublic, f1.Command)

	f2, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, CtrlReqWatchdog, f2.Command)
	require.Equal(t, []byte("b"), f2.Body)
}
