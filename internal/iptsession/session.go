package iptsession

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/segw-project/segw/internal/iptframe"
	"github.com/segw-project/segw/internal/scramble"
	"github.com/segw-project/segw/pkg/log"
)

// ErrNoMaster is the resolution value for every outstanding push-channel
// and connection-open entry when a session transitions to CLOSING (spec
// §4.3: "On CLOSING all outstanding push-channel and connection-open
// entries are resolved with NO_MASTER").
var ErrNoMaster = fmt.Errorf("iptsession: no master (session closing)")

// pending is one outstanding request awaiting a response keyed by
// sequence number. Duplicate sequence numbers replace the older entry
// with a warning (spec §4.3 tie-break rule).
type pending struct {
	command uint16
	reply   chan pendingResult
}

type pendingResult struct {
	frame iptframe.Frame
	err   error
}

// Session is one IP-T connection, shared code for the gateway (client)
// and master (server) roles. A single owned Session per TCP connection
// satisfies invariant I3.
type Session struct {
	conn   net.Conn
	reader *iptframe.Reader
	codec  *scramble.Codec

	maxBodyLength uint32

	mu    sync.Mutex
	state State
	seq   uint8

	pendingMu sync.Mutex
	pending   map[uint8]*pending

	watchdogPeriod time.Duration

	// Targets registered via CTRL_REQ_REGISTER_TARGET, keyed by name.
	targetsMu sync.Mutex
	targets   map[string]uint32

	closeOnce sync.Once
}

// New wraps conn in a Session, ready to exchange login frames with the
// default scramble key on both directions.
func New(conn net.Conn, maxBodyLength uint32) *Session {
	return &Session{
		conn:          conn,
		reader:        iptframe.NewReader(bufio.NewReader(conn), maxBodyLength),
		codec:         scramble.NewCodec(),
		maxBodyLength: maxBodyLength,
		state:         StateStart,
		pending:       make(map[uint8]*pending),
		targets:       make(map[string]uint32),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// nextSeq returns the next 8-bit sequence number, monotone with
// wrap-around; sequence 0 is reserved for the login pair (spec §6) so the
// counter starts at 1 and skips 0 on wrap.
func (s *Session) nextSeq() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

// sendFrame scrambles and writes one frame.
func (s *Session) sendFrame(f iptframe.Frame) error {
	wire := iptframe.Encode(f)
	scrambled := s.codec.Write(wire)
	_, err := s.conn.Write(scrambled)
	return err
}

// send builds and transmits a frame for cmd/body using the next sequence
// number, returning the sequence used.
func (s *Session) send(cmd uint16, body []byte) (uint8, error) {
	seq := s.nextSeq()
	return seq, s.sendFrame(iptframe.Frame{Command: cmd, Sequence: seq, Body: body})
}

// sendSeq transmits a frame carrying an explicit sequence number, used for
// responses that must echo the request's sequence.
func (s *Session) sendSeq(cmd uint16, seq uint8, body []byte) error {
	return s.sendFrame(iptframe.Frame{Command: cmd, Sequence: seq, Body: body})
}

// readFrame blocks for the next descrambled, deframed frame.
func (s *Session) readFrame() (iptframe.Frame, error) {
	// The reader operates on the scrambled byte stream directly; IP-T
	// framing fields (command, sequence, length) are never scrambled
	// independently of the body in this design, so descrambling happens
	// on the raw body after framing — see the s.codec.Read call below.
	f, err := s.reader.ReadFrame()
	if err != nil {
		return iptframe.Frame{}, err
	}
	f.Body = s.codec.Read(f.Body)
	return f, nil
}

// registerPending records that seq awaits a response of the given
// command, returning a channel the caller receives the result on.
func (s *Session) registerPending(seq uint8, command uint16) chan pendingResult {
	ch := make(chan pendingResult, 1)
	s.pendingMu.Lock()
	if _, exists := s.pending[seq]; exists {
		log.Warnf("iptsession: duplicate pending sequence %d, replacing older entry", seq)
	}
	s.pending[seq] = &pending{command: command, reply: ch}
	s.pendingMu.Unlock()
	return ch
}

// resolvePending delivers f to whichever pending entry matches f.Sequence,
// if any.
func (s *Session) resolvePending(f iptframe.Frame) bool {
	s.pendingMu.Lock()
	p, ok := s.pending[f.Sequence]
	if ok {
		delete(s.pending, f.Sequence)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	p.reply <- pendingResult{frame: f}
	return true
}

// abortPending resolves every outstanding pending entry with err, used on
// transition to CLOSING.
func (s *Session) abortPending(err error) {
	s.pendingMu.Lock()
	pendingCopy := s.pending
	s.pending = make(map[uint8]*pending)
	s.pendingMu.Unlock()
	for _, p := range pendingCopy {
		p.reply <- pendingResult{err: err}
	}
}

// Close transitions the session to CLOSING then TERMINATED, aborting
// outstanding requests and closing the socket exactly once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.abortPending(ErrNoMaster)
		err = s.conn.Close()
		s.setState(StateTerminated)
	})
	return err
}

// WatchdogPeriod returns the negotiated watchdog interval.
func (s *Session) WatchdogPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchdogPeriod
}
