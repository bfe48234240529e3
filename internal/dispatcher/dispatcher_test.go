package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
)

type writtenRow struct {
	srv        string
	nr         int
	profile    obis.ID
	sampleTime time.Time
	values     []cfgcache.ReadoutData
}

type fakeWriter struct {
	rows    []writtenRow
	trimmed []string
	failNr  int
}

func (f *fakeWriter) WriteProfileRow(srv meterid.ServerID, nr int, profile obis.ID, sampleTime, actTime, valTime time.Time, values []cfgcache.ReadoutData) error {
	if nr == f.failNr {
		return assert.AnError
	}
	f.rows = append(f.rows, writtenRow{srv: srv.String(), nr: nr, profile: profile, sampleTime: sampleTime, values: values})
	return nil
}

func (f *fakeWriter) TrimOldest(srv meterid.ServerID, nr int, profile obis.ID, maxSize int) error {
	f.trimmed = append(f.trimmed, srv.String())
	return nil
}

func srvOf(b byte) meterid.ServerID { return meterid.ServerID{meterid.TypeWireless, b, 0, 0, 0, 0, 0} }

func TestDispatchOnceJoinsReadoutWithActiveCollector(t *testing.T) {
	cache := cfgcache.New()
	srv := srvOf(0x01)
	now := time.Unix(1_700_000_000, 0).UTC()

	cache.Readouts.Insert("pk1", cfgcache.Readout{PK: "pk1", SrvID: srv, Timestamp: now}, "test")
	cache.ReadoutData.Insert("pk1", []cfgcache.ReadoutData{
		{PK: "pk1", OBIS: obis.New(1, 0, 1, 8, 0, 255), Value: "123.4", Type: cfgcache.TypeString},
		{PK: "pk1", OBIS: obis.New(1, 0, 2, 8, 0, 255), Value: "999", Type: cfgcache.TypeString},
	}, "test")

	cache.Collectors.Insert(cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}, cfgcache.DataCollector{
		SrvID: srv, Nr: 1, ProfileOBIS: obis.Profile15Minute, Active: true, MaxSize: 100,
	}, "test")
	cache.Mirrors.Insert(cfgcache.DataMirrorKey{SrvID: srv.String(), Nr: 1, Reg: 0}, cfgcache.DataMirror{
		SrvID: srv, Nr: 1, Reg: 0, OBIS: obis.New(1, 0, 1, 8, 0, 255),
	}, "test")

	w := &fakeWriter{}
	d := New(cache, w, time.Minute)

	consumed := d.dispatchOnce()

	require.Len(t, w.rows, 1, "only the mirrored OBIS collector should produce a row")
	assert.Equal(t, 1, w.rows[0].nr)
	assert.Equal(t, obis.Profile15Minute, w.rows[0].profile)
	require.Len(t, w.rows[0].values, 1, "unmirrored OBIS must be filtered out")
	assert.Equal(t, "123.4", w.rows[0].values[0].Value)
	assert.Equal(t, []string{"pk1"}, consumed)
}

func TestDispatchOnceSkipsReadoutWithNoActiveCollector(t *testing.T) {
	cache := cfgcache.New()
	srv := srvOf(0x02)
	cache.Readouts.Insert("pk2", cfgcache.Readout{PK: "pk2", SrvID: srv, Timestamp: time.Now()}, "test")

	w := &fakeWriter{}
	d := New(cache, w, time.Minute)

	consumed := d.dispatchOnce()

	assert.Empty(t, w.rows)
	assert.Empty(t, consumed, "a readout with no matching collector is left for a later cycle")
}

func TestDispatchOnceInactiveCollectorIsIgnored(t *testing.T) {
	cache := cfgcache.New()
	srv := srvOf(0x03)
	cache.Readouts.Insert("pk3", cfgcache.Readout{PK: "pk3", SrvID: srv, Timestamp: time.Now()}, "test")
	cache.Collectors.Insert(cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}, cfgcache.DataCollector{
		SrvID: srv, Nr: 1, ProfileOBIS: obis.Profile60Minute, Active: false,
	}, "test")

	w := &fakeWriter{}
	d := New(cache, w, time.Minute)

	consumed := d.dispatchOnce()

	assert.Empty(t, w.rows)
	assert.Empty(t, consumed)
}

func TestConsumeErasesDispatchedReadouts(t *testing.T) {
	cache := cfgcache.New()
	srv := srvOf(0x04)
	cache.Readouts.Insert("pk4", cfgcache.Readout{PK: "pk4", SrvID: srv, Timestamp: time.Now()}, "test")
	cache.ReadoutData.Insert("pk4", []cfgcache.ReadoutData{}, "test")
	cache.Collectors.Insert(cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}, cfgcache.DataCollector{
		SrvID: srv, Nr: 1, ProfileOBIS: obis.Profile1Minute, Active: true,
	}, "test")

	w := &fakeWriter{}
	d := New(cache, w, time.Minute)

	d.consume()

	_, ok := cache.Readouts.Get("pk4")
	assert.False(t, ok, "dispatched readout should be erased")
	require.Len(t, w.rows, 1)
}

func TestTrimVisitsEveryActiveCollectorWithMaxSize(t *testing.T) {
	cache := cfgcache.New()
	srv := srvOf(0x05)
	cache.Collectors.Insert(cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 1}, cfgcache.DataCollector{
		SrvID: srv, Nr: 1, ProfileOBIS: obis.Profile24Hour, Active: true, MaxSize: 50,
	}, "test")
	cache.Collectors.Insert(cfgcache.DataCollectorKey{SrvID: srv.String(), Nr: 2}, cfgcache.DataCollector{
		SrvID: srv, Nr: 2, ProfileOBIS: obis.Profile24Hour, Active: true, MaxSize: 0,
	}, "test")

	w := &fakeWriter{}
	d := New(cache, w, time.Minute)

	d.trim()

	assert.Equal(t, []string{srv.String()}, w.trimmed, "a maxSize of 0 disables trimming for that collector")
}
