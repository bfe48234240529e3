package smlrouter

import (
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/segw-project/segw/pkg/log"
)

// handleSetProcParameter implements SET_PROC_PARAMETER_REQ (spec §4.5):
// validates the path, coerces the wire value to the existing leaf's
// declared type, and writes through the cache. Reboot (spec §8 S6) is the
// one path with build-dependent behaviour; everything else is a uniform
// coerce-and-merge.
func handleSetProcParameter(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	if err := requireFields(req.Body, 2); err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	path, err := pathFromValue(req.Body.List[0])
	if err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	wireVal := req.Body.List[1]

	if len(path) > 0 && path[len(path)-1].Equal(obis.Reboot) {
		return []smlcodec.Message{handleReboot(req, sess)}
	}

	existing, ok := r.Cache.GetConfig(path)
	if !ok {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	coerced, err := fromSMLValue(wireVal, existing.Type)
	if err != nil {
		log.Warnf("smlrouter: SET_PROC_PARAMETER_REQ coercion failed for %s: %v", path, err)
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}

	r.Cache.PutConfig(path, coerced, sess.Source)
	return []smlcodec.Message{attention(req, smlcodec.AttentionOK)}
}

// handleReboot implements spec §8 S6: on a non-embedded build, reboot
// requests are refused without mutating state; on an embedded build the
// request is answered OK and a notice is logged. No reboot is scheduled:
// the router has no reboot hook to invoke.
func handleReboot(req smlcodec.Message, sess *SessionContext) smlcodec.Message {
	if !sess.Embedded {
		return attention(req, smlcodec.AttentionNotExecuted)
	}
	log.Note("smlrouter: reboot requested via SET_PROC_PARAMETER_REQ, accepted")
	return attention(req, smlcodec.AttentionOK)
}
