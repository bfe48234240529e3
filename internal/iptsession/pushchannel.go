package iptsession

import (
	"encoding/binary"
	"fmt"

	"github.com/segw-project/segw/internal/iptframe"
)

// RegisterTarget asks the master to register name as a push target and
// returns the channel id it assigns (spec §4.3 "register target"; spec §8
// scenario S3: target "power@ch1" returns channel 0x474BA8C4).
func (s *Session) RegisterTarget(name string) (uint32, error) {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.CtrlResRegisterTarget)
	body := append([]byte{byte(len(name))}, name...)
	if err := s.sendSeq(iptframe.CtrlReqRegisterTarget, seq, body); err != nil {
		return 0, err
	}
	result := <-ch
	if result.err != nil {
		return 0, result.err
	}
	if len(result.frame.Body) < 4 {
		return 0, fmt.Errorf("iptsession: short register-target response")
	}
	channel := binary.LittleEndian.Uint32(result.frame.Body)
	s.targetsMu.Lock()
	s.targets[name] = channel
	s.targetsMu.Unlock()
	return channel, nil
}

// HandleRegisterTarget answers an incoming register-target request
// (master/server role), assigning a channel id via assign.
func (s *Session) HandleRegisterTarget(f iptframe.Frame, assign func(name string) uint32) error {
	if len(f.Body) < 1 {
		return fmt.Errorf("iptsession: short register-target request")
	}
	nlen := int(f.Body[0])
	name := string(f.Body[1 : 1+nlen])
	channel := assign(name)
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, channel)
	return s.sendSeq(iptframe.CtrlResRegisterTarget, f.Sequence, body)
}

// OpenPushChannelRequest carries the fields named in spec §4.3: target
// name, account, number, version, device id, and a u16 timeout.
type OpenPushChannelRequest struct {
	Target   string
	Account  string
	Number   string
	Version  byte
	DeviceID string
	Timeout  uint16
}

// OpenPushChannelResponse mirrors spec §8 scenario S3's fields.
type OpenPushChannelResponse struct {
	Source     uint32
	PacketSize uint16
	WindowSize uint16
	Status     byte
	Count      uint16
}

func encodeOpenPushChannelRequest(r OpenPushChannelRequest) []byte {
	var out []byte
	appendStr := func(s string) {
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	appendStr(r.Target)
	appendStr(r.Account)
	appendStr(r.Number)
	out = append(out, r.Version)
	appendStr(r.DeviceID)
	out = append(out, byte(r.Timeout), byte(r.Timeout>>8))
	return out
}

func decodeOpenPushChannelRequest(body []byte) (OpenPushChannelRequest, error) {
	var r OpenPushChannelRequest
	readStr := func() (string, error) {
		if len(body) < 1 {
			return "", fmt.Errorf("iptsession: short open-push-channel request")
		}
		n := int(body[0])
		body = body[1:]
		if len(body) < n {
			return "", fmt.Errorf("iptsession: truncated open-push-channel field")
		}
		s := string(body[:n])
		body = body[n:]
		return s, nil
	}
	var err error
	if r.Target, err = readStr(); err != nil {
		return r, err
	}
	if r.Account, err = readStr(); err != nil {
		return r, err
	}
	if r.Number, err = readStr(); err != nil {
		return r, err
	}
	if len(body) < 1 {
		return r, fmt.Errorf("iptsession: missing open-push-channel version")
	}
	r.Version = body[0]
	body = body[1:]
	if r.DeviceID, err = readStr(); err != nil {
		return r, err
	}
	if len(body) < 2 {
		return r, fmt.Errorf("iptsession: missing open-push-channel timeout")
	}
	r.Timeout = uint16(body[0]) | uint16(body[1])<<8
	return r, nil
}

func encodeOpenPushChannelResponse(r OpenPushChannelResponse) []byte {
	out := make([]byte, 11)
	binary.LittleEndian.PutUint32(out[0:4], r.Source)
	binary.LittleEndian.PutUint16(out[4:6], r.PacketSize)
	binary.LittleEndian.PutUint16(out[6:8], r.WindowSize)
	out[8] = r.Status
	binary.LittleEndian.PutUint16(out[9:11], r.Count)
	return out
}

func decodeOpenPushChannelResponse(body []byte) (OpenPushChannelResponse, error) {
	if len(body) < 11 {
		return OpenPushChannelResponse{}, fmt.Errorf("iptsession: short open-push-channel response")
	}
	return OpenPushChannelResponse{
		Source:     binary.LittleEndian.Uint32(body[0:4]),
		PacketSize: binary.LittleEndian.Uint16(body[4:6]),
		WindowSize: binary.LittleEndian.Uint16(body[6:8]),
		Status:     body[8],
		Count:      binary.LittleEndian.Uint16(body[9:11]),
	}, nil
}

// OpenPushChannel performs the client-side open-push-channel exchange.
func (s *Session) OpenPushChannel(req OpenPushChannelRequest) (OpenPushChannelResponse, error) {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.TPResOpenPushChannel)
	if err := s.sendSeq(iptframe.TPReqOpenPushChannel, seq, encodeOpenPushChannelRequest(req)); err != nil {
		return OpenPushChannelResponse{}, err
	}
	result := <-ch
	if result.err != nil {
		return OpenPushChannelResponse{}, result.err
	}
	return decodeOpenPushChannelResponse(result.frame.Body)
}

// HandleOpenPushChannel answers an incoming open-push-channel request
// (master/server role) via open, which must compute the response fields
// for the requested target.
func (s *Session) HandleOpenPushChannel(f iptframe.Frame, open func(OpenPushChannelRequest) OpenPushChannelResponse) error {
	req, err := decodeOpenPushChannelRequest(f.Body)
	if err != nil {
		return err
	}
	resp := open(req)
	if err := s.sendSeq(iptframe.TPResOpenPushChannel, f.Sequence, encodeOpenPushChannelResponse(resp)); err != nil {
		return err
	}
	s.setState(StateOnline)
	return nil
}

// ClosePushChannel performs the client-side close-push-channel exchange.
func (s *Session) ClosePushChannel() error {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.TPResClosePushChan)
	if err := s.sendSeq(iptframe.TPReqClosePushChan, seq, nil); err != nil {
		return err
	}
	result := <-ch
	return result.err
}

// HandleClosePushChannel acknowledges an incoming close-push-channel
// request (master/server role).
func (s *Session) HandleClosePushChannel(f iptframe.Frame) error {
	return s.sendSeq(iptframe.TPResClosePushChan, f.Sequence, nil)
}

// TransferPushStatusOK is ORed into every successful transfer-push-data
// status byte (spec §8 scenario S3: "status byte ORed with 0xC1").
const TransferPushStatusOK byte = 0xC1

// TransferPushData sends one block of push data transparently (no escape
// doubling, per spec §4.2's single deviation) and waits for the ack.
func (s *Session) TransferPushData(block []byte) (status byte, err error) {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.TPResPushData)
	if err := s.sendSeq(iptframe.TPReqPushData, seq, block); err != nil {
		return 0, err
	}
	result := <-ch
	if result.err != nil {
		return 0, result.err
	}
	if len(result.frame.Body) < 1 {
		return 0, fmt.Errorf("iptsession: short transfer-push-data response")
	}
	return result.frame.Body[0], nil
}

// HandlePushData answers an incoming push-data frame (master/server
// role), handing the transparent block to accept and replying with
// TransferPushStatusOK ORed with whatever base status accept returns.
func (s *Session) HandlePushData(f iptframe.Frame, accept func(block []byte) byte) error {
	status := accept(f.Body) | TransferPushStatusOK
	return s.sendSeq(iptframe.TPResPushData, f.Sequence, []byte{status})
}
