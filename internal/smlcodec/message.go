package smlcodec

import "fmt"

// Body codes (spec §4.4/§4.5, selection).
const (
	BodyPublicOpenReq        uint32 = 0x00000100
	BodyPublicOpenRes        uint32 = 0x00000101
	BodyPublicCloseReq       uint32 = 0x00000200
	BodyPublicCloseRes       uint32 = 0x00000201
	BodyGetProfileListReq    uint32 = 0x00000300
	BodyGetProfileListRes    uint32 = 0x00000301
	BodyGetListReq           uint32 = 0x00000700
	BodyGetListRes           uint32 = 0x00000701
	BodyGetProcParameterReq  uint32 = 0x00000500
	BodyGetProcParameterRes  uint32 = 0x00000501
	BodySetProcParameterReq  uint32 = 0x00000600
	BodyAttentionRes         uint32 = 0x0000FF01
)

// Attention codes (spec §4.5).
const (
	AttentionOK            = "OK"
	AttentionNotAuthorized = "NOT_AUTHORIZED"
	AttentionNoServerID    = "NO_SERVER_ID"
	AttentionNotExecuted   = "NOT_EXECUTED"
)

// Message is the 5-tuple described in spec §4.4: transaction id, group
// number, abort-on-error flag, body and message CRC.
type Message struct {
	TransactionID []byte
	GroupNo       uint8
	AbortOnError  uint8
	BodyCode      uint32
	Body          Value // TagList payload specific to BodyCode
}

// payloadValue renders the 5 CRC-covered fields as an SML list, without
// the trailing CRC element.
func (m Message) payloadValue() Value {
	return List(
		Octets(m.TransactionID),
		Uint(uint64(m.GroupNo)),
		Uint(uint64(m.AbortOnError)),
		Uint(uint64(m.BodyCode)),
		m.Body,
	)
}

// Encode renders the message as an SML list of two elements: the list of
// the five payload fields, then a message CRC16 computed over the
// encoding of that payload list.
func (m Message) Encode() []byte {
	payload := Encode(m.payloadValue())
	crc := CRC16X25(payload)
	full := List(m.payloadValue(), Uint(uint64(crc)))
	return Encode(full)
}

// DecodeMessage parses one message and validates its embedded CRC.
func DecodeMessage(buf []byte) (Message, int, error) {
	v, n, err := Decode(buf)
	if err != nil {
		return Message{}, 0, err
	}
	if v.Tag != TagList || len(v.List) != 2 {
		return Message{}, 0, fmt.Errorf("smlcodec: malformed message envelope")
	}
	payload := v.List[0]
	crcVal := v.List[1]
	if payload.Tag != TagList || len(payload.List) != 5 {
		return Message{}, 0, fmt.Errorf("smlcodec: malformed message payload")
	}

	gotCRC := uint16(crcVal.Uint)
	wantCRC := CRC16X25(Encode(payload))
	if gotCRC != wantCRC {
		return Message{}, 0, fmt.Errorf("smlcodec: message CRC mismatch (got %04X want %04X)", gotCRC, wantCRC)
	}

	m := Message{
		TransactionID: payload.List[0].Bytes,
		GroupNo:       uint8(payload.List[1].Uint),
		AbortOnError:  uint8(payload.List[2].Uint),
		BodyCode:      uint32(payload.List[3].Uint),
		Body:          payload.List[4],
	}
	return m, n, nil
}
