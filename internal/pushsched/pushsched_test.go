package pushsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlrouter"
)

type fakeProfiles struct {
	rows []smlrouter.ProfileRow
}

func (f *fakeProfiles) QueryProfile(meterid.ServerID, obis.ID, time.Time, time.Time) ([]smlrouter.ProfileRow, error) {
	return f.rows, nil
}

type fakeTransport struct {
	state    iptsession.State
	opened   iptsession.OpenPushChannelRequest
	blocks   [][]byte
	closed   bool
	openErr  error
	openResp iptsession.OpenPushChannelResponse
}

func (t *fakeTransport) State() iptsession.State { return t.state }
func (t *fakeTransport) OpenPushChannel(req iptsession.OpenPushChannelRequest) (iptsession.OpenPushChannelResponse, error) {
	t.opened = req
	return t.openResp, t.openErr
}
func (t *fakeTransport) TransferPushData(block []byte) (byte, error) {
	t.blocks = append(t.blocks, append([]byte(nil), block...))
	return iptsession.TransferPushStatusOK, nil
}
func (t *fakeTransport) ClosePushChannel() error { t.closed = true; return nil }

type fakeProvider struct {
	t  *fakeTransport
	ok bool
}

func (p *fakeProvider) Transport(meterid.ServerID) (Transport, bool) { return p.t, p.ok }

func testCollector(srv meterid.ServerID, nr int) cfgcache.DataCollector {
	return cfgcache.DataCollector{SrvID: srv, Nr: nr, ProfileOBIS: obis.Profile15Minute, Active: true}
}

func TestRasterizeClampsAndRoundsDown(t *testing.T) {
	cache := cfgcache.New()
	srv := meterid.ServerID{0x01, 0x02}
	key := cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}
	cache.Collectors.Insert(key, testCollector(srv, 1), "test")

	s := New(cache, &fakeProfiles{}, &fakeProvider{}, 0, nil)

	interval, ok := s.rasterize(key, cfgcache.PushOp{SrvID: srv, Nr: 1, PushInterval: 20 * time.Minute})
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, interval)

	interval, ok = s.rasterize(key, cfgcache.PushOp{SrvID: srv, Nr: 1, PushInterval: time.Minute})
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, interval, "interval below granularity is clamped up to it")
}

func TestFireSkipsWhenSessionOffline(t *testing.T) {
	cache := cfgcache.New()
	srv := meterid.ServerID{0x01, 0x02}
	key := cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}
	cache.Collectors.Insert(key, testCollector(srv, 1), "test")

	transport := &fakeTransport{state: iptsession.StateStart}
	s := New(cache, &fakeProfiles{}, &fakeProvider{t: transport, ok: true}, 0, nil)

	s.fire(cfgcache.PushOp{SrvID: srv, Nr: 1, TargetName: "power@ch1"}, time.Now().UTC())
	assert.Empty(t, transport.opened.Target, "OpenPushChannel must not be called")
}

func TestFireSkipsEmptyWindow(t *testing.T) {
	cache := cfgcache.New()
	srv := meterid.ServerID{0x01, 0x02}
	key := cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}
	cache.Collectors.Insert(key, testCollector(srv, 1), "test")

	transport := &fakeTransport{state: iptsession.StateOnline}
	s := New(cache, &fakeProfiles{rows: nil}, &fakeProvider{t: transport, ok: true}, 0, nil)

	s.fire(cfgcache.PushOp{SrvID: srv, Nr: 1, TargetName: "power@ch1"}, time.Now().UTC())
	assert.False(t, transport.closed, "no channel should be opened for an empty window")
}

func TestFirePushesAndAdvancesLowerBound(t *testing.T) {
	cache := cfgcache.New()
	srv := meterid.ServerID{0x01, 0x02}
	key := cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}
	cache.Collectors.Insert(key, testCollector(srv, 1), "test")
	cache.PushOps.Insert(key, cfgcache.PushOp{SrvID: srv, Nr: 1, TargetName: "power@ch1"}, "test")

	now := time.Now().UTC()
	row := smlrouter.ProfileRow{
		TimeIndex: now,
		Values: []cfgcache.ReadoutData{
			{OBIS: obis.New(1, 0, 1, 8, 0, 255), Value: "12345", Type: cfgcache.TypeUint64, Scaler: -1, Unit: 30},
		},
	}
	transport := &fakeTransport{state: iptsession.StateOnline, openResp: iptsession.OpenPushChannelResponse{PacketSize: 4096}}
	s := New(cache, &fakeProfiles{rows: []smlrouter.ProfileRow{row}}, &fakeProvider{t: transport, ok: true}, 0, nil)

	s.fire(cfgcache.PushOp{SrvID: srv, Nr: 1, TargetName: "power@ch1"}, now)

	assert.Equal(t, "power@ch1", transport.opened.Target)
	assert.NotEmpty(t, transport.blocks)
	assert.True(t, transport.closed)

	updated, ok := cache.PushOps.Get(key)
	require.True(t, ok)
	wantIdx, _ := obis.QuantizeIndex(obis.Profile15Minute, now)
	assert.Equal(t, uint64(wantIdx), updated.LowerBound)
}
