package smlrouter

import (
	"testing"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*Router, *cfgcache.Cache) {
	cache := cfgcache.New()
	return New(cache), cache
}

func TestPublicOpenAcceptAllAssignsServerID(t *testing.T) {
	r, _ := newTestRouter()
	sess := &SessionContext{AcceptAll: true}
	req := smlcodec.Message{
		TransactionID: []byte("tx1"),
		BodyCode:      smlcodec.BodyPublicOpenReq,
		Body: smlcodec.List(
			smlcodec.OctetsString("file-1"),
			smlcodec.OctetsString(""),
			smlcodec.Octets(nil),
			smlcodec.OctetsString(""),
			smlcodec.OctetsString(""),
		),
	}
	resp := r.Dispatch(req, sess)
	require.Len(t, resp, 1)
	require.Equal(t, smlcodec.BodyPublicOpenRes, resp[0].BodyCode)
	require.NotEmpty(t, sess.ServerID)
}

func TestPublicOpenRejectsBadCredentials(t *testing.T) {
	r, _ := newTestRouter()
	sess := &SessionContext{}
	req := smlcodec.Message{
		BodyCode: smlcodec.BodyPublicOpenReq,
		Body: smlcodec.List(
			smlcodec.OctetsString("file-1"),
			smlcodec.OctetsString(""),
			smlcodec.Octets([]byte{0x01, 0x02, 0x03, 0x04}),
			smlcodec.OctetsString("bob"),
			smlcodec.OctetsString("wrong"),
		),
	}
	resp := r.Dispatch(req, sess)
	require.Len(t, resp, 1)
	require.Equal(t, smlcodec.BodyAttentionRes, resp[0].BodyCode)
	require.Equal(t, smlcodec.AttentionNotAuthorized, string(resp[0].Body.List[0].Bytes))
}

func TestGetAndSetProcParameterRoundTrip(t *testing.T) {
	r, cache := newTestRouter()
	path := obis.Path{obis.RootIPTParam, obis.New(1, 0, 96, 1, 0, 255)}
	cache.PutConfig(path, cfgcache.ConfigValue{Type: cfgcache.TypeUint32, Uint: 42}, "test")

	getReq := smlcodec.Message{BodyCode: smlcodec.BodyGetProcParameterReq, Body: smlcodec.List(pathToValue(path))}
	getResp := r.Dispatch(getReq, &SessionContext{})
	require.Len(t, getResp, 1)
	require.Equal(t, smlcodec.BodyGetProcParameterRes, getResp[0].BodyCode)
	require.Equal(t, uint64(42), getResp[0].Body.List[1].Uint)

	setReq := smlcodec.Message{
		BodyCode: smlcodec.BodySetProcParameterReq,
		Body:     smlcodec.List(pathToValue(path), smlcodec.Uint(99)),
	}
	setResp := r.Dispatch(setReq, &SessionContext{Source: "test"})
	require.Len(t, setResp, 1)
	require.Equal(t, smlcodec.AttentionOK, string(setResp[0].Body.List[0].Bytes))

	v, ok := cache.GetConfig(path)
	require.True(t, ok)
	require.Equal(t, uint64(99), v.Uint)
}

func TestSetProcParameterTypeMismatchIsNotExecuted(t *testing.T) {
	r, cache := newTestRouter()
	path := obis.Path{obis.RootSensorParams}
	cache.PutConfig(path, cfgcache.ConfigValue{Type: cfgcache.TypeUint32, Uint: 1}, "test")

	setReq := smlcodec.Message{
		BodyCode: smlcodec.BodySetProcParameterReq,
		Body:     smlcodec.List(pathToValue(path), smlcodec.Boolean(true)),
	}
	resp := r.Dispatch(setReq, &SessionContext{})
	require.Equal(t, smlcodec.AttentionNotExecuted, string(resp[0].Body.List[0].Bytes))
}

func TestRebootRefusedOnNonEmbeddedBuild(t *testing.T) {
	r, cache := newTestRouter()
	path := obis.Path{obis.Reboot}
	setReq := smlcodec.Message{
		BodyCode: smlcodec.BodySetProcParameterReq,
		Body:     smlcodec.List(pathToValue(path), smlcodec.Boolean(true)),
	}
	resp := r.Dispatch(setReq, &SessionContext{Embedded: false})
	require.Equal(t, smlcodec.AttentionNotExecuted, string(resp[0].Body.List[0].Bytes))
	_, ok := cache.GetConfig(path)
	require.False(t, ok)
}

func TestRebootAcceptedOnEmbeddedBuild(t *testing.T) {
	r, _ := newTestRouter()
	path := obis.Path{obis.Reboot}
	setReq := smlcodec.Message{
		BodyCode: smlcodec.BodySetProcParameterReq,
		Body:     smlcodec.List(pathToValue(path), smlcodec.Boolean(true)),
	}
	resp := r.Dispatch(setReq, &SessionContext{Embedded: true})
	require.Equal(t, smlcodec.AttentionOK, string(resp[0].Body.List[0].Bytes))
}

func TestGetListReturnsLatestReadout(t *testing.T) {
	r, cache := newTestRouter()
	srvBytes := []byte{0x01, 0x02, 0x03, 0x04}
	now := time.Now()
	cache.Readouts.Insert("pk1", cfgcache.Readout{PK: "pk1", SrvID: srvBytes, Timestamp: now}, "test")
	cache.ReadoutData.Insert("pk1", []cfgcache.ReadoutData{
		{PK: "pk1", OBIS: obis.New(1, 0, 1, 8, 0, 255), Value: "123", Scaler: -1, Unit: 30},
	}, "test")

	getReq := smlcodec.Message{BodyCode: smlcodec.BodyGetListReq, Body: smlcodec.List(smlcodec.Octets(srvBytes))}
	resp := r.Dispatch(getReq, &SessionContext{})
	require.Len(t, resp, 1)
	require.Equal(t, smlcodec.BodyGetListRes, resp[0].BodyCode)
	entries := resp[0].Body.List[1].List
	require.Len(t, entries, 1)
	require.Equal(t, "123", string(entries[0].List[1].Bytes))
}
