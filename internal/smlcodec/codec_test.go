package smlcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	values := []Value{
		Octets([]byte{0x01, 0x02, 0x03}),
		Octets(nil),
		Boolean(true),
		Boolean(false),
		Int(-1),
		Int(42),
		Int(-40000),
		Uint(0),
		Uint(70000),
		List(Int(1), Uint(2), Boolean(true), Octets([]byte("hi"))),
	}

	for _, v := range values {
		wire := Encode(v)
		got, n, err := Decode(wire)
		require.NoError(t, err)
		require.Equal(t, len(wire), n)
		require.Equal(t, v.Tag, got.Tag)
		switch v.Tag {
		case TagOctetString:
			require.Equal(t, v.Bytes, got.Bytes)
		case TagBool:
			require.Equal(t, v.Bool, got.Bool)
		case TagInt:
			require.Equal(t, v.Int, got.Int)
		case TagUint:
			require.Equal(t, v.Uint, got.Uint)
		case TagList:
			require.Len(t, got.List, len(v.List))
		}
	}
}

func TestMessageCRCDetectsCorruption(t *testing.T) {
	m := Message{
		TransactionID: []byte("tx-1"),
		GroupNo:       0,
		AbortOnError:  0,
		BodyCode:      BodyPublicOpenReq,
		Body:          List(OctetsString("LSMTest5")),
	}
	wire := m.Encode()
	got, n, err := DecodeMessage(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Equal(t, m.TransactionID, got.TransactionID)
	require.Equal(t, m.BodyCode, got.BodyCode)

	corrupt := append([]byte(nil), wire...)
	corrupt[len(corrupt)-1] ^= 0xFF
	_, _, err = DecodeMessage(corrupt)
	require.Error(t, err)
}

func TestFileCRCProperty(t *testing.T) {
	// P3: crc16_x25(F_without_trailer_crc) == trailer_crc(F)
	msgs := []Message{
		{TransactionID: []byte("a"), BodyCode: BodyPublicOpenReq, Body: List(OctetsString("x"))},
		{TransactionID: []byte("b"), BodyCode: BodyPublicCloseReq, Body: List()},
	}
	file := EncodeFile(msgs)

	trailerCRC := uint16(file[len(file)-2]) | uint16(file[len(file)-1])<<8
	require.Equal(t, CRC16X25(file[:len(file)-2]), trailerCRC)

	decoded, err := DecodeFile(file)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, []byte("a"), decoded[0].TransactionID)
	require.Equal(t, []byte("b"), decoded[1].TransactionID)
}

func TestFileRejectsCorruptedCRC(t *testing.T) {
	file := EncodeFile([]Message{{TransactionID: []byte("a"), BodyCode: BodyPublicOpenReq, Body: List()}})
	file[len(file)-1] ^= 0xFF
	_, err := DecodeFile(file)
	require.Error(t, err)
}

func TestDataContainingEscapeByteRoundTrips(t *testing.T) {
	msgs := []Message{
		{TransactionID: []byte{0x1B, 0x01}, BodyCode: BodyGetListReq, Body: List(Octets([]byte{0x1B, 0x1B}))},
	}
	file := EncodeFile(msgs)
	decoded, err := DecodeFile(file)
	require.NoError(t, err)
	require.Equal(t, []byte{0x1B, 0x01}, decoded[0].TransactionID)
}
