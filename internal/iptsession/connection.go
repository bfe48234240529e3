package iptsession

import (
	"fmt"

	"github.com/segw-project/segw/internal/iptframe"
)

// OpenConnection performs the client-side open-connection exchange,
// transitioning the session to CONNECTED on success. While CONNECTED the
// session alternates with ONLINE (states "ONLINE <-> CONNECTED", spec
// §4.3) as connections open and close.
func (s *Session) OpenConnection(target string) error {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.TPResOpenConnection)
	body := append([]byte{byte(len(target))}, target...)
	if err := s.sendSeq(iptframe.TPReqOpenConnection, seq, body); err != nil {
		return err
	}
	result := <-ch
	if result.err != nil {
		return result.err
	}
	if len(result.frame.Body) < 1 || result.frame.Body[0] != 0 {
		return fmt.Errorf("iptsession: open-connection rejected")
	}
	s.setState(StateConnected)
	return nil
}

// HandleOpenConnection answers an incoming open-connection request
// (answering side; the gateway answers the master proxy's request).
func (s *Session) HandleOpenConnection(f iptframe.Frame, accept func(target string) bool) error {
	if len(f.Body) < 1 {
		return fmt.Errorf("iptsession: short open-connection request")
	}
	tlen := int(f.Body[0])
	target := string(f.Body[1 : 1+tlen])

	status := byte(1)
	if accept(target) {
		status = 0
	}
	if err := s.sendSeq(iptframe.TPResOpenConnection, f.Sequence, []byte{status}); err != nil {
		return err
	}
	if status == 0 {
		s.setState(StateConnected)
	}
	return nil
}

// CloseConnection performs the client-side close-connection exchange,
// returning the session to ONLINE.
func (s *Session) CloseConnection() error {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.TPResCloseConnection)
	if err := s.sendSeq(iptframe.TPReqCloseConnection, seq, nil); err != nil {
		return err
	}
	result := <-ch
	if result.err != nil {
		return result.err
	}
	s.setState(StateOnline)
	return nil
}

// HandleCloseConnection acknowledges an incoming close-connection request
// (answering side; the gateway answers the master proxy's request),
// returning the session to ONLINE.
func (s *Session) HandleCloseConnection(f iptframe.Frame) error {
	if err := s.sendSeq(iptframe.TPResCloseConnection, f.Sequence, nil); err != nil {
		return err
	}
	s.setState(StateOnline)
	return nil
}

// RelayTransmitData forwards a transparent data block over an established
// connection, used by the master-side gateway proxy to tunnel SML
// requests/responses byte for byte (spec §4.12).
func (s *Session) RelayTransmitData(block []byte) error {
	_, err := s.send(iptframe.TPReqTransmitData, block)
	return err
}

// HandleTransmitData answers an incoming transmit-data frame by handing
// the transparent block to onData, then acking it.
func (s *Session) HandleTransmitData(f iptframe.Frame, onData func(block []byte)) error {
	onData(f.Body)
	return s.sendSeq(iptframe.TPResTransmitData, f.Sequence, nil)
}
