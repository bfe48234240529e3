package iptsession

import (
	"fmt"
	"time"

	"github.com/segw-project/segw/internal/iptframe"
)

// SendWatchdogAndAwait sends a CTRL_REQ_WATCHDOG and blocks until the
// peer answers within period (master/server role, spec §4.3: "On expiry
// the server sends CTRL_REQ_WATCHDOG; client must answer within the same
// period or be dropped"). A timeout closes the session and returns an
// error; the caller is expected to call this once per watchdog interval.
func (s *Session) SendWatchdogAndAwait(period time.Duration) error {
	seq := s.nextSeq()
	ch := s.registerPending(seq, iptframe.CtrlResWatchdog)
	if err := s.sendSeq(iptframe.CtrlReqWatchdog, seq, nil); err != nil {
		return err
	}
	select {
	case result := <-ch:
		return result.err
	case <-time.After(period):
		s.pendingMu.Lock()
		delete(s.pending, seq)
		s.pendingMu.Unlock()
		_ = s.Close()
		return fmt.Errorf("iptsession: watchdog timeout after %s", period)
	}
}

// RunWatchdogLoop repeatedly calls SendWatchdogAndAwait every period until
// stop fires or a watchdog round fails.
func (s *Session) RunWatchdogLoop(period time.Duration, stop <-chan struct{}) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := s.SendWatchdogAndAwait(period); err != nil {
				return err
			}
		}
	}
}

// HandleWatchdogRequest answers an incoming CTRL_REQ_WATCHDOG immediately
// (gateway/client role).
func (s *Session) HandleWatchdogRequest(f iptframe.Frame) error {
	return s.sendSeq(iptframe.CtrlResWatchdog, f.Sequence, nil)
}
