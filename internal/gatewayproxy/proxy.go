// Package gatewayproxy implements the master-side gateway proxy (C13,
// spec §4.12): a per-device OFFLINE/WAITING/CONNECTED state machine that
// queues operator requests (GET_PROC_PARAMETER / SET_PROC_PARAMETER),
// redirects the device's IP-T session into proxy mode, and tunnels SML
// files to it over RelayTransmitData.
package gatewayproxy

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/segw-project/segw/pkg/log"
)

// State is one node of a device's proxy cycle (spec §4.12: "OFFLINE,
// WAITING, CONNECTED").
type State int

const (
	StateOffline State = iota
	StateWaiting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateWaiting:
		return "WAITING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// proxyTarget is the OpenConnection target string a gateway recognises as
// "redirect this session to the transparent SML tunnel" (spec §4.12).
const proxyTarget = "proxy"

// Transport is the subset of an *iptsession.Session the proxy drives: the
// connection redirect and the transparent data relay.
type Transport interface {
	State() iptsession.State
	OpenConnection(target string) error
	CloseConnection() error
	RelayTransmitData(block []byte) error
}

// Reply is delivered to a requester once the device answers, or once the
// request is abandoned because the session dropped.
type Reply struct {
	Value cfgcache.ConfigValue
	Err   error
}

// Request is one pending operator request: a GET when Set is nil, a SET
// otherwise.
type Request struct {
	Path      obis.Path
	Set       *cfgcache.ConfigValue
	Requester string

	txID  string
	reply chan Reply
}

// device holds the proxy state for a single meter: its request queue, the
// in-flight reply map keyed by the SML transaction id carried on the wire,
// and a mirror of the last-observed proc-parameter values. A reply-map
// entry is the *Request itself (requester name, path, reply channel); no
// sequence number, key or job flag is recorded.
type device struct {
	mu        sync.Mutex
	srv       meterid.ServerID
	state     State
	transport Transport

	queue    []*Request
	replyMap map[string]*Request
	pending  int
	seq      uint32

	config map[string]cfgcache.ConfigValue
}

// Proxy dispatches operator proc-parameter requests across every attached
// gateway session.
type Proxy struct {
	mu      sync.Mutex
	devices map[string]*device
}

// New returns an empty Proxy.
func New() *Proxy {
	return &Proxy{devices: make(map[string]*device)}
}

func (p *Proxy) deviceFor(srv meterid.ServerID) *device {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := srv.String()
	d, ok := p.devices[key]
	if !ok {
		d = &device{srv: srv, replyMap: make(map[string]*Request), config: make(map[string]cfgcache.ConfigValue)}
		p.devices[key] = d
	}
	return d
}

// Attach registers the live transport for srv, moving its device from
// OFFLINE to WAITING (spec §4.12: the request counter is zero and the
// proxy is idle until a caller enqueues work).
func (p *Proxy) Attach(srv meterid.ServerID, transport Transport) {
	d := p.deviceFor(srv)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = transport
	d.state = StateWaiting
	d.dispatchLocked()
}

// Detach drops the transport for srv, returning it to OFFLINE and failing
// every request still queued or in flight — a dropped session can never
// answer them.
func (p *Proxy) Detach(srv meterid.ServerID) {
	d := p.deviceFor(srv)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = nil
	d.state = StateOffline
	d.pending = 0
	for _, req := range d.replyMap {
		req.reply <- Reply{Err: fmt.Errorf("gatewayproxy: session for %s closed", srv)}
	}
	d.replyMap = make(map[string]*Request)
	for _, req := range d.queue {
		req.reply <- Reply{Err: fmt.Errorf("gatewayproxy: session for %s closed", srv)}
	}
	d.queue = nil
}

// RequestProcParameter enqueues a GET_PROC_PARAMETER_REQ for path and
// returns a channel the caller receives exactly one Reply on.
func (p *Proxy) RequestProcParameter(srv meterid.ServerID, path obis.Path, requester string) (<-chan Reply, error) {
	return p.enqueue(srv, &Request{Path: path, Requester: requester})
}

// SetProcParameter enqueues a SET_PROC_PARAMETER_REQ carrying value.
func (p *Proxy) SetProcParameter(srv meterid.ServerID, path obis.Path, value cfgcache.ConfigValue, requester string) (<-chan Reply, error) {
	v := value
	return p.enqueue(srv, &Request{Path: path, Set: &v, Requester: requester})
}

func (p *Proxy) enqueue(srv meterid.ServerID, req *Request) (<-chan Reply, error) {
	d := p.deviceFor(srv)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport == nil {
		return nil, fmt.Errorf("gatewayproxy: %s is offline", srv)
	}
	req.reply = make(chan Reply, 1)
	d.queue = append(d.queue, req)
	d.dispatchLocked()
	return req.reply, nil
}

// dispatchLocked sends the next queued request if the device is WAITING,
// redirecting the session into proxy mode first (spec §4.12: "the session
// is redirected to proxy mode before the request is relayed").
func (d *device) dispatchLocked() {
	if d.state != StateWaiting || len(d.queue) == 0 {
		return
	}
	req := d.queue[0]
	d.queue = d.queue[1:]

	d.seq++
	req.txID = fmt.Sprintf("%s-%d", d.srv, d.seq)

	msg := requestMessage(req)
	file := smlcodec.EncodeFile([]smlcodec.Message{msg})

	if err := d.transport.OpenConnection(proxyTarget); err != nil {
		req.reply <- Reply{Err: err}
		return
	}
	if err := d.transport.RelayTransmitData(file); err != nil {
		req.reply <- Reply{Err: err}
		return
	}

	d.state = StateConnected
	d.pending++
	d.replyMap[req.txID] = req
}

// requestMessage builds the GET/SET_PROC_PARAMETER_REQ body for req (spec
// §4.5's path-as-list-of-6-byte-octet-strings shape, duplicated here by
// design so the proxy's wire format can never drift from the router's).
func requestMessage(req *Request) smlcodec.Message {
	pathVal := pathToValue(req.Path)
	if req.Set == nil {
		return smlcodec.Message{
			TransactionID: []byte(req.txID),
			BodyCode:      smlcodec.BodyGetProcParameterReq,
			Body:          smlcodec.List(pathVal),
		}
	}
	return smlcodec.Message{
		TransactionID: []byte(req.txID),
		BodyCode:      smlcodec.BodySetProcParameterReq,
		Body:          smlcodec.List(pathVal, toSMLValue(*req.Set)),
	}
}

func pathToValue(p obis.Path) smlcodec.Value {
	vs := make([]smlcodec.Value, len(p))
	for i, id := range p {
		vs[i] = smlcodec.Octets(id.Bytes())
	}
	return smlcodec.List(vs...)
}

func toSMLValue(v cfgcache.ConfigValue) smlcodec.Value {
	switch v.Type {
	case cfgcache.TypeInt8, cfgcache.TypeInt16, cfgcache.TypeInt32, cfgcache.TypeInt64:
		return smlcodec.Int(v.Int)
	case cfgcache.TypeUint8, cfgcache.TypeUint16, cfgcache.TypeUint32, cfgcache.TypeUint64:
		return smlcodec.Uint(v.Uint)
	case cfgcache.TypeString, cfgcache.TypeEndpoint:
		return smlcodec.OctetsString(v.Str)
	case cfgcache.TypeBuffer, cfgcache.TypeAESKey, cfgcache.TypeMAC:
		return smlcodec.Octets(v.Buf)
	case cfgcache.TypeBool:
		return smlcodec.Boolean(v.Bool)
	case cfgcache.TypeTimestamp:
		return smlcodec.Uint(uint64(v.Timestamp.Unix()))
	case cfgcache.TypeDuration:
		return smlcodec.Uint(uint64(v.Duration / time.Second))
	default:
		return smlcodec.Octets(nil)
	}
}

func fromSMLValue(wire smlcodec.Value) cfgcache.ConfigValue {
	switch wire.Tag {
	case smlcodec.TagInt:
		return cfgcache.ConfigValue{Type: cfgcache.TypeInt64, Int: wire.Int}
	case smlcodec.TagUint:
		return cfgcache.ConfigValue{Type: cfgcache.TypeUint64, Uint: wire.Uint}
	case smlcodec.TagBool:
		return cfgcache.ConfigValue{Type: cfgcache.TypeBool, Bool: wire.Bool}
	case smlcodec.TagOctetString:
		return cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: string(wire.Bytes), Buf: append([]byte(nil), wire.Bytes...)}
	default:
		return cfgcache.ConfigValue{}
	}
}

// HandleTransmitData processes one transparent data block relayed back by
// srv's session: it decodes the contained SML file, resolves each
// message against the reply map, and mirrors GET_PROC_PARAMETER_RES
// values into the device's configuration cache (spec §4.12: "per-device
// configuration cache mirroring last-observed GET_PROC_PARAMETER_RES
// values"). Each matched response decrements the pending counter; once it
// reaches zero, the session is returned to WAITING and the next queued
// request (if any) is dispatched.
func (p *Proxy) HandleTransmitData(srv meterid.ServerID, block []byte) error {
	d := p.deviceFor(srv)
	messages, err := smlcodec.DecodeFile(block)
	if err != nil {
		return fmt.Errorf("gatewayproxy: decode relayed file for %s: %w", srv, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range messages {
		txID := string(m.TransactionID)
		req, ok := d.replyMap[txID]
		if !ok {
			log.Debugf("gatewayproxy: %s: unmatched transaction %s", srv, hex.EncodeToString(m.TransactionID))
			continue
		}
		delete(d.replyMap, txID)
		d.pending--

		switch m.BodyCode {
		case smlcodec.BodyGetProcParameterRes:
			if len(m.Body.List) != 2 {
				req.reply <- Reply{Err: fmt.Errorf("gatewayproxy: malformed proc-parameter response")}
				break
			}
			val := fromSMLValue(m.Body.List[1])
			d.config[req.Path.String()] = val
			req.reply <- Reply{Value: val}
		case smlcodec.BodyAttentionRes:
			req.reply <- Reply{Err: fmt.Errorf("gatewayproxy: device returned attention for %s", req.Path)}
		default:
			req.reply <- Reply{}
		}
	}

	if d.pending <= 0 {
		d.pending = 0
		if d.transport != nil {
			if err := d.transport.CloseConnection(); err != nil {
				log.Warnf("gatewayproxy: close connection for %s: %v", srv, err)
			}
			d.state = StateWaiting
			d.dispatchLocked()
		}
	}
	return nil
}

// LastConfig returns the most recently observed value at path for srv, as
// mirrored by HandleTransmitData.
func (p *Proxy) LastConfig(srv meterid.ServerID, path obis.Path) (cfgcache.ConfigValue, bool) {
	d := p.deviceFor(srv)
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.config[path.String()]
	return v, ok
}

// StateOf reports the current proxy state for srv.
func (p *Proxy) StateOf(srv meterid.ServerID) State {
	d := p.deviceFor(srv)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
