package iptsession

import (
	"fmt"
	"time"

	"github.com/segw-project/segw/internal/iptframe"
	"github.com/segw-project/segw/internal/scramble"
)

// Login response codes (spec §4.3: "response code set accordingly").
const (
	LoginOK             byte = 0x01
	LoginBadCredentials byte = 0x02
)

// LoginRequest is the decoded login body. The spec names the login
// operation's inputs (user, password, and for the scrambled variant a
// proposed key) but not a wire layout; the layout below is this
// implementation's own length-prefixed binary encoding, kept deliberately
// simple since it is framed and escaped by iptframe like any other body.
type LoginRequest struct {
	Scrambled bool
	User      string
	Password  string
	Key       scramble.Key // only meaningful when Scrambled
}

// LoginResponse is the decoded login reply.
type LoginResponse struct {
	Code     byte
	Watchdog time.Duration
	Redirect string
}

func encodeLoginRequest(r LoginRequest) []byte {
	var out []byte
	out = append(out, byte(len(r.User)))
	out = append(out, r.User...)
	out = append(out, byte(len(r.Password)))
	out = append(out, r.Password...)
	if r.Scrambled {
		out = append(out, r.Key.Bytes()...)
	}
	return out
}

func decodeLoginRequest(body []byte, scrambled bool) (LoginRequest, error) {
	r := LoginRequest{Scrambled: scrambled}
	if len(body) < 1 {
		return r, fmt.Errorf("iptsession: short login request")
	}
	ulen := int(body[0])
	body = body[1:]
	if len(body) < ulen+1 {
		return r, fmt.Errorf("iptsession: truncated login user field")
	}
	r.User = string(body[:ulen])
	body = body[ulen:]
	plen := int(body[0])
	body = body[1:]
	if len(body) < plen {
		return r, fmt.Errorf("iptsession: truncated login password field")
	}
	r.Password = string(body[:plen])
	body = body[plen:]
	if scrambled {
		if len(body) < scramble.KeySize {
			return r, fmt.Errorf("iptsession: truncated login key field")
		}
		key, err := scramble.NewKey(body[:scramble.KeySize])
		if err != nil {
			return r, err
		}
		r.Key = key
	}
	return r, nil
}

func encodeLoginResponse(r LoginResponse) []byte {
	var out []byte
	out = append(out, r.Code)
	minutes := uint16(r.Watchdog / time.Minute)
	out = append(out, byte(minutes), byte(minutes>>8))
	out = append(out, byte(len(r.Redirect)))
	out = append(out, r.Redirect...)
	return out
}

func decodeLoginResponse(body []byte) (LoginResponse, error) {
	if len(body) < 4 {
		return LoginResponse{}, fmt.Errorf("iptsession: short login response")
	}
	r := LoginResponse{
		Code:     body[0],
		Watchdog: time.Duration(uint16(body[1])|uint16(body[2])<<8) * time.Minute,
	}
	rlen := int(body[3])
	body = body[4:]
	if len(body) < rlen {
		return r, fmt.Errorf("iptsession: truncated login redirect field")
	}
	r.Redirect = string(body[:rlen])
	return r, nil
}

// ClientLoginPublic performs the public login handshake (gateway/client
// role): sequence 0 reserved for the login pair, no escape sentinel, no
// scrambling beyond the default key already active on a fresh Codec.
func (s *Session) ClientLoginPublic(user, pw string) (LoginResponse, error) {
	return s.clientLogin(iptframe.CtrlReqLoginPublic, iptframe.CtrlResLoginPublic, LoginRequest{User: user, Password: pw})
}

// ClientLoginScrambled performs the scrambled login handshake, proposing
// key as the session's future scramble key. Per invariant I4 the key
// switch happens only at the login acknowledgement: the write side
// switches only after the request carrying it has been sent with the
// still-default key, and both sides switch after a successful response.
func (s *Session) ClientLoginScrambled(user, pw string, key scramble.Key) (LoginResponse, error) {
	resp, err := s.clientLogin(iptframe.CtrlReqLoginScrambled, iptframe.CtrlResLoginScrambled, LoginRequest{Scrambled: true, User: user, Password: pw, Key: key})
	if err == nil && resp.Code == LoginOK {
		s.codec.SetWriteKey(key)
		s.codec.SetReadKey(key)
	}
	return resp, err
}

func (s *Session) clientLogin(reqCmd, resCmd uint16, req LoginRequest) (LoginResponse, error) {
	seq := uint8(0)
	ch := s.registerPending(seq, resCmd)
	if err := s.sendSeq(reqCmd, seq, encodeLoginRequest(req)); err != nil {
		return LoginResponse{}, err
	}
	result := <-ch
	if result.err != nil {
		return LoginResponse{}, result.err
	}
	resp, err := decodeLoginResponse(result.frame.Body)
	if err != nil {
		return LoginResponse{}, err
	}
	if resp.Code == LoginOK {
		s.setState(StateAuthorized)
		s.mu.Lock()
		s.watchdogPeriod = resp.Watchdog
		s.mu.Unlock()
	}
	return resp, nil
}

// Authenticator decides whether a login request is accepted and, if so,
// what watchdog period and redirect to advertise.
type Authenticator func(req LoginRequest) (ok bool, watchdog time.Duration, redirect string)

// ServeLogin handles one incoming login frame (master/server role):
// decodes it, invokes auth, and sends the response. On success, for a
// scrambled login both directions switch to the client's proposed key
// right after the response is emitted, matching the scramble-key
// negotiation note in spec §8.
func (s *Session) ServeLogin(f iptframe.Frame, auth Authenticator) (LoginRequest, error) {
	scrambled := f.Command == iptframe.CtrlReqLoginScrambled
	var resCmd uint16
	switch f.Command {
	case iptframe.CtrlReqLoginPublic:
		resCmd = iptframe.CtrlResLoginPublic
	case iptframe.CtrlReqLoginScrambled:
		resCmd = iptframe.CtrlResLoginScrambled
	default:
		return LoginRequest{}, fmt.Errorf("iptsession: not a login frame: command 0x%04X", f.Command)
	}

	req, err := decodeLoginRequest(f.Body, scrambled)
	if err != nil {
		return req, err
	}

	ok, watchdog, redirect := auth(req)
	resp := LoginResponse{Watchdog: watchdog, Redirect: redirect}
	if ok {
		resp.Code = LoginOK
	} else {
		resp.Code = LoginBadCredentials
	}

	if err := s.sendSeq(resCmd, f.Sequence, encodeLoginResponse(resp)); err != nil {
		return req, err
	}

	if !ok {
		return req, nil
	}

	if scrambled {
		s.codec.SetWriteKey(req.Key)
		s.codec.SetReadKey(req.Key)
	}
	s.setState(StateAuthorized)
	s.mu.Lock()
	s.watchdogPeriod = watchdog
	s.mu.Unlock()
	return req, nil
}
