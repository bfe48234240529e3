package iptsession

import (
	"encoding/binary"

	"github.com/segw-project/segw/internal/iptframe"
	"github.com/segw-project/segw/pkg/log"
)

// RequestHandler processes one unsolicited (not a reply to a pending
// request) frame and reports whether it recognised the command.
type RequestHandler func(iptframe.Frame) (bool, error)

// Run reads frames until the connection closes or handle returns an
// error. Frames that resolve a pending request are routed there;
// everything else is offered to handle. An unrecognised command gets the
// UNKNOWN=0x7FFF response carrying the original sequence and command word
// (spec §4.3).
func (s *Session) Run(handle RequestHandler) error {
	for {
		f, err := s.readFrame()
		if err != nil {
			return err
		}
		if s.resolvePending(f) {
			continue
		}
		handled, err := handle(f)
		if err != nil {
			log.Errorf("iptsession: handler error for command 0x%04X: %v", f.Command, err)
			return err
		}
		if !handled {
			if err := s.sendUnknown(f); err != nil {
				return err
			}
		}
	}
}

func (s *Session) sendUnknown(f iptframe.Frame) error {
	body := make([]byte, 2)
	binary.LittleEndian.PutUint16(body, f.Command)
	return s.sendSeq(iptframe.UnknownCommand, f.Sequence, body)
}
