package smlrouter

import (
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
)

// ProfileRow is one stored load-profile reading returned by a ProfileStore
// range query, keyed by the time-index computed per spec §3.
type ProfileRow struct {
	TimeIndex time.Time
	Values    []cfgcache.ReadoutData
}

// ProfileStore answers GET_PROFILE_LIST_REQ range queries against the
// relational mirror's TProfile_*/TStorage_* tables (spec §4.7). The
// router depends only on this interface so internal/store can supply the
// concrete implementation without an import cycle.
type ProfileStore interface {
	QueryProfile(srv meterid.ServerID, profile obis.ID, start, end time.Time) ([]ProfileRow, error)
}

// handleGetProfileList implements GET_PROFILE_LIST_REQ: a range query
// over a named profile, one response message per time-index row (spec
// §4.5).
func handleGetProfileList(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	if r.ProfileStore == nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	if err := requireFields(req.Body, 4); err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	profilePath, err := pathFromValue(req.Body.List[0])
	if err != nil || len(profilePath) == 0 {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	srvField := req.Body.List[1]
	startField := req.Body.List[2]
	endField := req.Body.List[3]
	if srvField.Tag != smlcodec.TagOctetString || startField.Tag != smlcodec.TagUint || endField.Tag != smlcodec.TagUint {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	srv := meterid.ServerID(srvField.Bytes)
	start := time.Unix(int64(startField.Uint), 0).UTC()
	end := time.Unix(int64(endField.Uint), 0).UTC()

	rows, err := r.ProfileStore.QueryProfile(srv, profilePath[len(profilePath)-1], start, end)
	if err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	if len(rows) == 0 {
		return []smlcodec.Message{attention(req, smlcodec.AttentionOK)}
	}

	out := make([]smlcodec.Message, 0, len(rows))
	for _, row := range rows {
		values := make([]smlcodec.Value, 0, len(row.Values))
		for _, v := range row.Values {
			values = append(values, smlcodec.List(
				smlcodec.Octets(v.OBIS.Bytes()),
				smlcodec.OctetsString(v.Value),
				smlcodec.Int(int64(v.Scaler)),
				smlcodec.Uint(uint64(v.Unit)),
			))
		}
		out = append(out, smlcodec.Message{
			TransactionID: req.TransactionID,
			BodyCode:      smlcodec.BodyGetProfileListRes,
			Body: smlcodec.List(
				smlcodec.Octets(srv),
				smlcodec.Uint(uint64(row.TimeIndex.Unix())),
				smlcodec.List(values...),
			),
		})
	}
	return out
}
