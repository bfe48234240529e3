// Package smlrouter implements the SML request router (spec §4.5, C5):
// dispatch by body code, producing response envelopes or attention codes.
package smlrouter

import (
	"fmt"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/segw-project/segw/pkg/log"
)

// Handler processes one request message body and returns the response
// message(s) to emit in the same SML file. Every handler is total: it
// either returns normally or a single attention message, never an error
// that escapes to the caller (spec §7: "Every handler is total").
type Handler func(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message

// SessionContext carries the per-request state a handler needs: the
// authenticated server id (if any), whether the accept-all switch is
// active, and a source tag for cache writes.
type SessionContext struct {
	ServerID  string
	Source    string
	AcceptAll bool
	Embedded  bool // build flag for S6's reboot scenario
}

// Router dispatches SML request bodies by code against a shared cache.
type Router struct {
	Cache        *cfgcache.Cache
	ProfileStore ProfileStore
	handlers     map[uint32]Handler
}

// New returns a Router with the standard C5 handler table installed.
func New(cache *cfgcache.Cache) *Router {
	r := &Router{Cache: cache, handlers: make(map[uint32]Handler)}
	r.handlers[smlcodec.BodyPublicOpenReq] = handlePublicOpen
	r.handlers[smlcodec.BodyGetProcParameterReq] = handleGetProcParameter
	r.handlers[smlcodec.BodySetProcParameterReq] = handleSetProcParameter
	r.handlers[smlcodec.BodyGetProfileListReq] = handleGetProfileList
	r.handlers[smlcodec.BodyGetListReq] = handleGetList
	r.handlers[smlcodec.BodyPublicCloseReq] = handlePublicClose
	return r
}

// Dispatch routes one request message, falling back to a NOT_EXECUTED
// attention response for an unregistered body code.
func (r *Router) Dispatch(req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	h, ok := r.handlers[req.BodyCode]
	if !ok {
		log.Warnf("smlrouter: no handler for body code 0x%08X", req.BodyCode)
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	return h(r, req, sess)
}

// attention builds a single-element attention response sharing the
// request's transaction id.
func attention(req smlcodec.Message, code string) smlcodec.Message {
	return smlcodec.Message{
		TransactionID: req.TransactionID,
		BodyCode:      smlcodec.BodyAttentionRes,
		Body:          smlcodec.List(smlcodec.OctetsString(code)),
	}
}

// requireFields reports whether body is a list of at least n elements, a
// recurring shape check across handlers.
func requireFields(body smlcodec.Value, n int) error {
	if body.Tag != smlcodec.TagList || len(body.List) < n {
		return fmt.Errorf("smlrouter: malformed request body, want list of >=%d", n)
	}
	return nil
}
