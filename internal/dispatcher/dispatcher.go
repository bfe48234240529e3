// Package dispatcher implements the readout dispatcher (C11): a periodic
// task that joins transient readout records with active data collectors
// and their mirror definitions, quantises the sample time per profile, and
// writes the resulting rows to the relational mirror's profile tables
// (spec §4.10).
package dispatcher

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/pkg/log"
)

// DefaultInterval is the dispatcher's default period (spec §4.10).
const DefaultInterval = 122 * time.Second

// trimInterval is how often the maxSize limiter runs (spec §4.10: "an
// hourly limiter task").
const trimInterval = time.Hour

// ProfileWriter is the relational mirror surface the dispatcher writes
// through, kept narrow to avoid an import cycle with internal/store.
type ProfileWriter interface {
	WriteProfileRow(srv meterid.ServerID, nr int, profile obis.ID, sampleTime, actTime, valTime time.Time, values []cfgcache.ReadoutData) error
	TrimOldest(srv meterid.ServerID, nr int, profile obis.ID, maxSize int) error
}

// Dispatcher owns the gocron schedule that drives readout consumption.
type Dispatcher struct {
	cache    *cfgcache.Cache
	writer   ProfileWriter
	interval time.Duration

	sched gocron.Scheduler
}

// New builds a dispatcher against cache and writer. A zero interval
// selects DefaultInterval.
func New(cache *cfgcache.Cache, writer ProfileWriter, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Dispatcher{cache: cache, writer: writer, interval: interval}
}

// Start schedules the consume and trim jobs and runs them in the
// background until Stop is called.
func (d *Dispatcher) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	d.sched = sched

	if _, err := sched.NewJob(
		gocron.DurationJob(d.interval),
		gocron.NewTask(d.consume),
	); err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(trimInterval),
		gocron.NewTask(d.trim),
	); err != nil {
		return err
	}
	sched.Start()
	return nil
}

// Stop shuts the scheduler down.
func (d *Dispatcher) Stop() error {
	if d.sched == nil {
		return nil
	}
	return d.sched.Shutdown()
}

// RunOnce runs one dispatch cycle immediately, outside the gocron
// schedule. internal/wmbus.Receiver calls this as the soft event fired
// after each inserted readout (spec §4.8 step 3: "Signals the readout
// dispatcher via a soft event").
func (d *Dispatcher) RunOnce() {
	d.consume()
}

// consume runs one dispatch cycle under a single cache transaction (spec
// §4.10: "Under a single cache lock").
func (d *Dispatcher) consume() {
	d.cache.Begin("dispatcher")
	consumed := d.dispatchOnce()
	d.cache.Commit("dispatcher")

	for _, pk := range consumed {
		d.cache.Readouts.Erase(pk, "dispatcher")
		d.cache.ReadoutData.Erase(pk, "dispatcher")
	}
}

// dispatchOnce joins every pending readout with its active collectors and
// writes profile rows, returning the primary keys fully consumed.
func (d *Dispatcher) dispatchOnce() []string {
	var consumed []string

	d.cache.Readouts.Loop(func(pk string, ro cfgcache.Readout) bool {
		data, _ := d.cache.ReadoutData.Get(pk)

		collectors := d.activeCollectorsFor(ro.SrvID)
		if len(collectors) == 0 {
			return true
		}

		for _, c := range collectors {
			mirrored := d.mirroredOBIS(ro.SrvID, c.Nr)
			values := filterData(data, mirrored)

			if err := d.writer.WriteProfileRow(ro.SrvID, c.Nr, c.ProfileOBIS, ro.Timestamp, ro.Timestamp, ro.Timestamp, values); err != nil {
				log.Warnf("dispatcher: write profile row for %s/%d: %v", ro.SrvID, c.Nr, err)
				continue
			}
		}
		consumed = append(consumed, pk)
		return true
	})

	return consumed
}

func (d *Dispatcher) activeCollectorsFor(srv meterid.ServerID) []cfgcache.DataCollector {
	var out []cfgcache.DataCollector
	d.cache.Collectors.Loop(func(_ cfgcache.DataCollectorKey, c cfgcache.DataCollector) bool {
		if c.Active && c.SrvID.String() == srv.String() {
			out = append(out, c)
		}
		return true
	})
	return out
}

// mirroredOBIS returns the set of OBIS codes a collector archives,
// keyed by (srv_id, nr) in the _DataMirror table.
func (d *Dispatcher) mirroredOBIS(srv meterid.ServerID, nr int) map[obis.ID]bool {
	out := make(map[obis.ID]bool)
	d.cache.Mirrors.Loop(func(_ cfgcache.DataMirrorKey, m cfgcache.DataMirror) bool {
		if m.SrvID.String() == srv.String() && m.Nr == nr {
			out[m.OBIS] = true
		}
		return true
	})
	return out
}

func filterData(data []cfgcache.ReadoutData, mirrored map[obis.ID]bool) []cfgcache.ReadoutData {
	var out []cfgcache.ReadoutData
	for _, rd := range data {
		if mirrored[rd.OBIS] {
			out = append(out, rd)
		}
	}
	return out
}

// trim runs the hourly maxSize limiter over every active collector.
func (d *Dispatcher) trim() {
	d.cache.Collectors.Loop(func(_ cfgcache.DataCollectorKey, c cfgcache.DataCollector) bool {
		if !c.Active || c.MaxSize <= 0 {
			return true
		}
		if err := d.writer.TrimOldest(c.SrvID, c.Nr, c.ProfileOBIS, c.MaxSize); err != nil {
			log.Warnf("dispatcher: trim %s/%d: %v", c.SrvID, c.Nr, err)
		}
		return true
	})
}
