package gatewayproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
)

type fakeTransport struct {
	state    iptsession.State
	opened   bool
	closed   bool
	relayed  [][]byte
	openErr  error
	relayErr error
}

func (t *fakeTransport) State() iptsession.State { return t.state }
func (t *fakeTransport) OpenConnection(string) error {
	t.opened = true
	return t.openErr
}
func (t *fakeTransport) CloseConnection() error { t.closed = true; return nil }
func (t *fakeTransport) RelayTransmitData(block []byte) error {
	t.relayed = append(t.relayed, append([]byte(nil), block...))
	return t.relayErr
}

func testPath() obis.Path {
	return obis.Path{obis.New(0, 0, 96, 1, 0, 255)}
}

func TestRequestProcParameterRejectsOfflineDevice(t *testing.T) {
	p := New()
	srv := meterid.ServerID{0x01, 0x02}
	_, err := p.RequestProcParameter(srv, testPath(), "alice")
	assert.Error(t, err)
}

func TestRequestProcParameterOpensConnectionAndDeliversReply(t *testing.T) {
	p := New()
	srv := meterid.ServerID{0x01, 0x02}
	transport := &fakeTransport{state: iptsession.StateOnline}

	p.Attach(srv, transport)
	assert.Equal(t, StateWaiting, p.StateOf(srv))

	replyCh, err := p.RequestProcParameter(srv, testPath(), "alice")
	require.NoError(t, err)
	assert.True(t, transport.opened)
	require.Len(t, transport.relayed, 1)
	assert.Equal(t, StateConnected, p.StateOf(srv))

	msgs, err := smlcodec.DecodeFile(transport.relayed[0])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, smlcodec.BodyGetProcParameterReq, msgs[0].BodyCode)

	resp := smlcodec.Message{
		TransactionID: msgs[0].TransactionID,
		BodyCode:      smlcodec.BodyGetProcParameterRes,
		Body:          smlcodec.List(msgs[0].Body.List[0], smlcodec.Uint(42)),
	}
	file := smlcodec.EncodeFile([]smlcodec.Message{resp})
	require.NoError(t, p.HandleTransmitData(srv, file))

	select {
	case reply := <-replyCh:
		require.NoError(t, reply.Err)
		assert.Equal(t, uint64(42), reply.Value.Uint)
	case <-time.After(time.Second):
		t.Fatal("no reply delivered")
	}

	assert.True(t, transport.closed)
	assert.Equal(t, StateWaiting, p.StateOf(srv))

	cached, ok := p.LastConfig(srv, testPath())
	require.True(t, ok)
	assert.Equal(t, uint64(42), cached.Uint)
}

func TestSetProcParameterEncodesValue(t *testing.T) {
	p := New()
	srv := meterid.ServerID{0x03}
	transport := &fakeTransport{state: iptsession.StateOnline}
	p.Attach(srv, transport)

	_, err := p.SetProcParameter(srv, testPath(), cfgcache.ConfigValue{Type: cfgcache.TypeUint32, Uint: 900}, "bob")
	require.NoError(t, err)
	require.Len(t, transport.relayed, 1)

	msgs, err := smlcodec.DecodeFile(transport.relayed[0])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, smlcodec.BodySetProcParameterReq, msgs[0].BodyCode)
	require.Len(t, msgs[0].Body.List, 2)
	assert.Equal(t, uint64(900), msgs[0].Body.List[1].Uint)
}

func TestDetachFailsPendingRequests(t *testing.T) {
	p := New()
	srv := meterid.ServerID{0x04}
	transport := &fakeTransport{state: iptsession.StateOnline}
	p.Attach(srv, transport)

	replyCh, err := p.RequestProcParameter(srv, testPath(), "alice")
	require.NoError(t, err)

	p.Detach(srv)
	select {
	case reply := <-replyCh:
		assert.Error(t, reply.Err)
	case <-time.After(time.Second):
		t.Fatal("no reply delivered")
	}
	assert.Equal(t, StateOffline, p.StateOf(srv))
}
