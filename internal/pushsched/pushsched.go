// Package pushsched implements the push scheduler (C12): for each
// configured push operation, sleeps until a rasterised fire-time, pulls
// profile rows since the low-water mark, and transfers them to the
// upstream master over an IP-T push channel (spec §4.11).
package pushsched

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/segw-project/segw/internal/smlrouter"
	"github.com/segw-project/segw/internal/telemetry"
	"github.com/segw-project/segw/pkg/log"
)

// DefaultTick is how often the scheduler re-evaluates every push op's
// rasterised grid. It must divide every supported profile granularity
// (the smallest is the 1-minute profile) so no fire-time is ever missed.
const DefaultTick = 10 * time.Second

// pushChannelTimeout bounds the master's open-push-channel wait (spec
// §4.3's u16 timeout field); chosen to comfortably exceed one tick.
const pushChannelTimeout = 30

// ProfileSource answers the same range queries the SML router's
// GET_PROFILE_LIST_REQ handler does; kept as its own interface so
// pushsched does not import internal/store directly.
type ProfileSource interface {
	QueryProfile(srv meterid.ServerID, profile obis.ID, start, end time.Time) ([]smlrouter.ProfileRow, error)
}

// Transport is the subset of an *iptsession.Session a push needs: its
// lifecycle state and the push-channel exchange (spec §4.3/§4.11).
type Transport interface {
	State() iptsession.State
	OpenPushChannel(req iptsession.OpenPushChannelRequest) (iptsession.OpenPushChannelResponse, error)
	TransferPushData(block []byte) (byte, error)
	ClosePushChannel() error
}

// TransportProvider resolves the IP-T session currently serving srv, if
// any. A gateway has exactly one upstream session; this is still modelled
// as a lookup so tests can substitute a fake without standing up
// internal/gatewayproxy.
type TransportProvider interface {
	Transport(srv meterid.ServerID) (Transport, bool)
}

// Scheduler owns the gocron tick that rasterises and fires push
// operations.
type Scheduler struct {
	cache     *cfgcache.Cache
	profiles  ProfileSource
	transport TransportProvider
	tick      time.Duration
	archiver  *telemetry.Archiver

	sched gocron.Scheduler
	// slot tracks the last rasterised grid slot fired per push op, so a
	// tick that lands inside the same slot as the last one is a no-op.
	slot map[cfgcache.DataCollectorKey]int64
}

// New builds a push scheduler. A zero tick selects DefaultTick. archiver
// may be nil, which disables the best-effort S3/Avro cold-storage copy of
// delivered push payloads (SPEC_FULL.md §4.14).
func New(cache *cfgcache.Cache, profiles ProfileSource, transport TransportProvider, tick time.Duration, archiver *telemetry.Archiver) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		cache:     cache,
		profiles:  profiles,
		transport: transport,
		tick:      tick,
		archiver:  archiver,
		slot:      make(map[cfgcache.DataCollectorKey]int64),
	}
}

// Start runs the scheduler in the background until Stop is called.
func (s *Scheduler) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.sched = sched
	if _, err := sched.NewJob(gocron.DurationJob(s.tick), gocron.NewTask(s.tickOnce)); err != nil {
		return err
	}
	sched.Start()
	return nil
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// tickOnce evaluates every configured push op against its rasterised
// grid and fires those whose slot has advanced.
func (s *Scheduler) tickOnce() {
	now := time.Now().UTC()
	s.cache.PushOps.Loop(func(key cfgcache.DataCollectorKey, op cfgcache.PushOp) bool {
		interval, ok := s.rasterize(key, op)
		if !ok {
			return true
		}
		slot := now.Unix() / int64(interval/time.Second)
		if s.slot[key] == slot {
			return true
		}
		s.slot[key] = slot
		s.fire(op, now)
		return true
	})
}

// rasterize clamps a push op's configured interval up to its collector's
// profile granularity, then rounds it down to a multiple of that
// granularity (spec §4.11).
func (s *Scheduler) rasterize(key cfgcache.DataCollectorKey, op cfgcache.PushOp) (time.Duration, bool) {
	collector, ok := s.cache.Collectors.Get(key)
	if !ok {
		// I1: an active push op always has a same-keyed collector; one
		// observed without it is mid-teardown, skip this tick.
		return 0, false
	}
	bucket, ok := obis.BucketDuration(collector.ProfileOBIS)
	if !ok {
		return 0, false
	}
	interval := op.PushInterval
	if interval < bucket {
		interval = bucket
	}
	interval -= interval % bucket
	if interval <= 0 {
		interval = bucket
	}
	return interval, true
}

func (s *Scheduler) fire(op cfgcache.PushOp, now time.Time) {
	key := cfgcache.DataCollectorKey{SrvID: op.SrvID.String(), Nr: op.Nr}
	collector, ok := s.cache.Collectors.Get(key)
	if !ok {
		return
	}

	transport, ok := s.transport.Transport(op.SrvID)
	if !ok || transport.State() != iptsession.StateOnline {
		log.Debugf("pushsched: %s/%d has no online session, skipping", op.SrvID, op.Nr)
		return
	}

	start, ok := obis.DequantizeIndex(collector.ProfileOBIS, int64(op.LowerBound))
	if !ok {
		return
	}
	rows, err := s.profiles.QueryProfile(op.SrvID, collector.ProfileOBIS, start, now)
	if err != nil {
		log.Warnf("pushsched: query profile for %s/%d: %v", op.SrvID, op.Nr, err)
		return
	}
	if len(rows) == 0 {
		// Spec §4.11: empty windows are skipped, not pushed as a
		// zero-length file.
		return
	}

	file, maxIndex := encodeProfileFile(op, collector, rows)

	if err := s.transfer(transport, op, file); err != nil {
		log.Warnf("pushsched: push %s/%d: %v", op.SrvID, op.Nr, err)
		return
	}

	if s.archiver != nil {
		s.archiver.ArchivePush(op.SrvID.String(), collector.ProfileOBIS.Dotted(), op.LowerBound, maxIndex, rows)
	}

	s.cache.PushOps.Modify(key, "pushsched", func(op cfgcache.PushOp) cfgcache.PushOp {
		op.LowerBound = maxIndex
		return op
	})
}

// encodeProfileFile wraps the queried rows in GET_PROFILE_LIST_RES
// messages under one SML file, the same wire shape the SML router itself
// returns for a live query (spec §4.5/§4.11), and reports the largest
// time-index among the rows pushed.
func encodeProfileFile(op cfgcache.PushOp, collector cfgcache.DataCollector, rows []smlrouter.ProfileRow) ([]byte, uint64) {
	msgs := make([]smlcodec.Message, 0, len(rows))
	var maxIndex uint64
	for _, row := range rows {
		idx, ok := obis.QuantizeIndex(collector.ProfileOBIS, row.TimeIndex)
		if !ok {
			continue
		}
		if u := uint64(idx); u > maxIndex {
			maxIndex = u
		}

		values := make([]smlcodec.Value, 0, len(row.Values))
		for _, v := range row.Values {
			values = append(values, smlcodec.List(
				smlcodec.Octets(v.OBIS.Bytes()),
				smlcodec.OctetsString(v.Value),
				smlcodec.Int(int64(v.Scaler)),
				smlcodec.Uint(uint64(v.Unit)),
			))
		}
		msgs = append(msgs, smlcodec.Message{
			TransactionID: []byte(op.SrvID.String()),
			BodyCode:      smlcodec.BodyGetProfileListRes,
			Body: smlcodec.List(
				smlcodec.Octets(op.SrvID),
				smlcodec.Uint(uint64(row.TimeIndex.Unix())),
				smlcodec.List(values...),
			),
		})
	}
	return smlcodec.EncodeFile(msgs), maxIndex
}

// transfer opens the push channel, sends the file in packet_size-sized
// blocks, and closes the channel (spec §4.11). Each block is sent only
// after the previous TransferPushData call has returned; the response's
// WindowSize is not consulted. A
// failure at any step leaves the low-water mark untouched so the next
// tick retries the whole window.
func (s *Scheduler) transfer(t Transport, op cfgcache.PushOp, file []byte) error {
	resp, err := t.OpenPushChannel(iptsession.OpenPushChannelRequest{
		Target:   op.TargetName,
		Account:  op.SrvID.String(),
		Number:   "",
		Version:  1,
		DeviceID: op.SrvID.String(),
		Timeout:  pushChannelTimeout,
	})
	if err != nil {
		return err
	}

	packetSize := int(resp.PacketSize)
	if packetSize <= 0 {
		packetSize = len(file)
	}
	for off := 0; off < len(file); off += packetSize {
		end := off + packetSize
		if end > len(file) {
			end = len(file)
		}
		if _, err := t.TransferPushData(file[off:end]); err != nil {
			return err
		}
	}
	return t.ClosePushChannel()
}
