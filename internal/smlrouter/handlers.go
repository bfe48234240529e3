package smlrouter

import (
	"crypto/rand"
	"strings"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
)

// handlePublicOpen implements PUBLIC_OPEN_REQ (spec §4.5): credential
// check (or accept-all bypass), echoes reqFileId, and assigns a fresh
// server id when the client sent none.
func handlePublicOpen(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	if err := requireFields(req.Body, 5); err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	reqFileID := req.Body.List[0]
	clientServerID := req.Body.List[2]
	user := req.Body.List[3]
	pwd := req.Body.List[4]

	var srv meterid.ServerID
	if len(clientServerID.Bytes) > 0 {
		srv = meterid.ServerID(clientServerID.Bytes)
	} else {
		b := make([]byte, 8)
		_, _ = rand.Read(b)
		b[0] = meterid.TypeWireless
		srv = meterid.ServerID(b)
	}

	if !sess.AcceptAll {
		dev, ok := r.Cache.MBus.Get(srv.String())
		if !ok || dev.User != string(user.Bytes) || dev.Pwd != string(pwd.Bytes) {
			return []smlcodec.Message{attention(req, smlcodec.AttentionNotAuthorized)}
		}
	}

	sess.ServerID = srv.String()
	resp := smlcodec.Message{
		TransactionID: req.TransactionID,
		BodyCode:      smlcodec.BodyPublicOpenRes,
		Body:          smlcodec.List(reqFileID, smlcodec.Octets(srv)),
	}
	return []smlcodec.Message{resp}
}

// handlePublicClose implements PUBLIC_CLOSE_REQ: emit the close response.
// No generator state is reset here; the transaction id counter belongs
// to the caller's message builder, not this router.
func handlePublicClose(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	resp := smlcodec.Message{
		TransactionID: req.TransactionID,
		BodyCode:      smlcodec.BodyPublicCloseRes,
		Body:          smlcodec.List(),
	}
	return []smlcodec.Message{resp}
}

// handleGetProcParameter implements GET_PROC_PARAMETER_REQ: resolves the
// requested OBIS path in the cache and serialises either the leaf value
// or, for an interior node, a child-list tree (spec §4.5).
func handleGetProcParameter(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	if err := requireFields(req.Body, 1); err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	path, err := pathFromValue(req.Body.List[0])
	if err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}

	if leaf, ok := r.Cache.GetConfig(path); ok {
		resp := smlcodec.Message{
			TransactionID: req.TransactionID,
			BodyCode:      smlcodec.BodyGetProcParameterRes,
			Body:          smlcodec.List(pathToValue(path), toSMLValue(leaf)),
		}
		return []smlcodec.Message{resp}
	}

	children := childListNode(r, path)
	if len(children.List) == 0 {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	resp := smlcodec.Message{
		TransactionID: req.TransactionID,
		BodyCode:      smlcodec.BodyGetProcParameterRes,
		Body:          smlcodec.List(pathToValue(path), children),
	}
	return []smlcodec.Message{resp}
}

// childListNode walks the flat ConfigTree for every entry one level below
// prefix and wraps them as (idBytes, value) pairs, the "child-list tree
// node" shape spec §4.5 names for interior GET_PROC_PARAMETER_REQ nodes. A
// child whose own subtree still has descendants (rather than being a
// leaf) carries an empty octet-string value; the caller re-queries one
// level deeper to descend further.
func childListNode(r *Router, prefix obis.Path) smlcodec.Value {
	prefixStr := prefix.String()
	type child struct {
		id   obis.ID
		leaf cfgcache.ConfigValue
		has  bool
	}
	seen := map[obis.ID]*child{}
	order := make([]obis.ID, 0)

	r.Cache.ConfigTree.Loop(func(key string, v cfgcache.ConfigValue) bool {
		if !strings.HasPrefix(key, prefixStr+"/") {
			return true
		}
		rest := key[len(prefixStr)+1:]
		seg := rest
		isLeaf := true
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			seg = rest[:idx]
			isLeaf = false
		}
		id, err := obis.ParseID(seg)
		if err != nil {
			return true
		}
		c, ok := seen[id]
		if !ok {
			c = &child{id: id}
			seen[id] = c
			order = append(order, id)
		}
		if isLeaf {
			c.leaf = v
			c.has = true
		}
		return true
	})

	children := make([]smlcodec.Value, 0, len(order))
	for _, id := range order {
		c := seen[id]
		var val smlcodec.Value
		if c.has {
			val = toSMLValue(c.leaf)
		} else {
			val = smlcodec.Octets(nil)
		}
		children = append(children, smlcodec.List(smlcodec.Octets(id.Bytes()), val))
	}
	return smlcodec.List(children...)
}

// handleGetList implements GET_LIST_REQ: the current data record for a
// given meter, walking the latest readout data in the cache.
func handleGetList(r *Router, req smlcodec.Message, sess *SessionContext) []smlcodec.Message {
	if err := requireFields(req.Body, 1); err != nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNotExecuted)}
	}
	if req.Body.List[0].Tag != smlcodec.TagOctetString {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNoServerID)}
	}
	srv := meterid.ServerID(req.Body.List[0].Bytes)

	var latest *cfgcache.Readout
	r.Cache.Readouts.Loop(func(_ string, ro cfgcache.Readout) bool {
		if ro.SrvID.String() != srv.String() {
			return true
		}
		if latest == nil || ro.Timestamp.After(latest.Timestamp) {
			cp := ro
			latest = &cp
		}
		return true
	})
	if latest == nil {
		return []smlcodec.Message{attention(req, smlcodec.AttentionNoServerID)}
	}

	rows := r.Cache.ReadoutData.FindAll(func(_ string, rows []cfgcache.ReadoutData) bool {
		return len(rows) > 0 && rows[0].PK == latest.PK
	})
	entries := make([]smlcodec.Value, 0, len(rows))
	for _, group := range rows {
		for _, d := range group {
			entries = append(entries, smlcodec.List(
				smlcodec.Octets(d.OBIS.Bytes()),
				smlcodec.OctetsString(d.Value),
				smlcodec.Int(int64(d.Scaler)),
				smlcodec.Uint(uint64(d.Unit)),
			))
		}
	}

	resp := smlcodec.Message{
		TransactionID: req.TransactionID,
		BodyCode:      smlcodec.BodyGetListRes,
		Body:          smlcodec.List(smlcodec.Octets(srv), smlcodec.List(entries...)),
	}
	return []smlcodec.Message{resp}
}
