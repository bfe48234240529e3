package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/config"
	"github.com/segw-project/segw/internal/gatewayproxy"
	"github.com/segw-project/segw/internal/iptframe"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/opauth"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/segw-project/segw/internal/store"
	"github.com/segw-project/segw/internal/supervisor"
	"github.com/segw-project/segw/internal/telemetry"
	"github.com/segw-project/segw/pkg/log"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitStorageError = 2
	exitNetworkError = 3
)

// run wires every master-side component and blocks until SIGINT/SIGTERM,
// following the teacher's cmd/cc-backend/main.go shutdown shape
// (sync.WaitGroup plus signal.Notify).
func run() int {
	conn, err := store.Connect(config.Keys.DBDriver, config.Keys.DB)
	if err != nil {
		log.Errorf("store: connect: %v", err)
		return exitStorageError
	}
	cache := cfgcache.New()
	mirror := store.NewMirror(conn, cache)
	if err := mirror.Start(); err != nil {
		log.Errorf("store: bulk load: %v", err)
		return exitStorageError
	}

	pub := telemetry.NewPublisher(telemetry.Config{
		Address:       config.Keys.Telemetry.Nats.Address,
		Username:      config.Keys.Telemetry.Nats.Username,
		Password:      config.Keys.Telemetry.Nats.Password,
		CredsFilePath: config.Keys.Telemetry.Nats.CredsFilePath,
	})
	defer pub.Close()

	jwtTTL := config.ParseDuration(config.Keys.JWT.TTL, time.Hour)
	issuer, err := opauth.NewJWTIssuer(config.Keys.JWT.Issuer, jwtTTL)
	if err != nil {
		log.Errorf("opauth: new jwt issuer: %v", err)
		return exitConfigError
	}
	authenticator := opauth.NewAuthenticator(issuer)

	stop := make(chan struct{})
	if config.Keys.LDAP != nil {
		ldapCfg := opauth.LdapConfig{
			URL:             config.Keys.LDAP.URL,
			UserBase:        config.Keys.LDAP.UserBase,
			UserFilter:      config.Keys.LDAP.UserFilter,
			SearchDN:        config.Keys.LDAP.SearchDN,
			SyncInterval:    config.ParseDuration(config.Keys.LDAP.SyncInterval, 0),
			SyncDelOldUsers: config.Keys.LDAP.SyncDelOldUsers,
		}
		opauth.NewLdapSyncer(cache, ldapCfg).Start(stop)
	}

	proxy := gatewayproxy.New()
	api := gatewayproxy.NewAPI(proxy, authenticator, cache.Privileges, mirror)

	router := mux.NewRouter()
	api.Register(router)
	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	httpServer := &http.Server{
		Addr:         config.Keys.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	httpListener, err := net.Listen("tcp", config.Keys.HTTPAddr)
	if err != nil {
		log.Errorf("operator api: listen %s: %v", config.Keys.HTTPAddr, err)
		return exitNetworkError
	}

	iptListener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Errorf("ipt listener: listen %s: %v", config.Keys.Addr, err)
		return exitNetworkError
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("operator api listening at %s", config.Keys.HTTPAddr)
		if err := httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			log.Errorf("operator api: serve: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptGateways(iptListener, cache, proxy, pub, stop)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	close(stop)
	iptListener.Close()
	httpServer.Shutdown(context.Background())
	wg.Wait()
	log.Info("segw-master: shut down")
	return exitOK
}

// acceptGateways runs the master's IP-T listen loop: each connection
// authenticates as a gateway, attaches to the proxy for the device-proxy
// role, and answers the push-channel/register-target/push-data commands
// the gateway drives as a client (spec §4.3, §4.11, §4.12).
func acceptGateways(listener net.Listener, cache *cfgcache.Cache, proxy *gatewayproxy.Proxy, pub *telemetry.Publisher, stop <-chan struct{}) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				log.Warnf("ipt listener: accept: %v", err)
				continue
			}
		}
		go serveGateway(conn, cache, proxy, pub, stop)
	}
}

func serveGateway(conn net.Conn, cache *cfgcache.Cache, proxy *gatewayproxy.Proxy, pub *telemetry.Publisher, stop <-chan struct{}) {
	defer conn.Close()

	maxBody := config.Keys.MaxBodyLength
	if maxBody == 0 {
		maxBody = iptframe.DefaultMaxBodyLength
	}
	sess := iptsession.New(conn, maxBody)

	var srv meterid.ServerID
	var watchdog time.Duration
	loggedIn := false

	authenticate := func(req iptsession.LoginRequest) (bool, time.Duration, string) {
		for _, g := range config.Keys.Gateways {
			if g.SrvID == req.User && g.Password == req.Password {
				parsed, err := meterid.ParseServerID(g.SrvID)
				if err != nil {
					log.Warnf("segw-master: gateway allow-list entry %q is not a valid srv_id: %v", g.SrvID, err)
					return false, 0, ""
				}
				srv = parsed
				watchdog = config.ParseDuration(g.Watchdog, 5*time.Minute)
				loggedIn = true
				return true, watchdog, ""
			}
		}
		return false, 0, ""
	}

	targets := make(map[string]uint32)
	sessionStop := make(chan struct{})
	var watchdogTask *supervisor.Task

	handle := func(f iptframe.Frame) (bool, error) {
		switch f.Command {
		case iptframe.CtrlReqLoginPublic, iptframe.CtrlReqLoginScrambled:
			_, err := sess.ServeLogin(f, authenticate)
			if err == nil && loggedIn {
				proxy.Attach(srv, sess)
				watchdogTask = startWatchdogTask(sess, srv, watchdog)
			}
			return true, err
		case iptframe.CtrlReqRegisterTarget:
			return true, sess.HandleRegisterTarget(f, func(name string) uint32 {
				ch := allocateChannel()
				targets[name] = ch
				return ch
			})
		case iptframe.TPReqOpenPushChannel:
			return true, sess.HandleOpenPushChannel(f, func(req iptsession.OpenPushChannelRequest) iptsession.OpenPushChannelResponse {
				return iptsession.OpenPushChannelResponse{
					Source:     allocateChannel(),
					PacketSize: 0xFFFF,
					WindowSize: 1,
					Status:     0,
					Count:      1,
				}
			})
		case iptframe.TPReqClosePushChan:
			return true, sess.HandleClosePushChannel(f)
		case iptframe.TPReqPushData:
			return true, sess.HandlePushData(f, func(block []byte) byte {
				forwardPushData(block, pub)
				return 0
			})
		}
		return false, nil
	}

	go func() {
		select {
		case <-stop:
			sess.Close()
		case <-sessionStop:
		}
	}()

	err := sess.Run(handle)
	close(sessionStop)
	if watchdogTask != nil {
		watchdogTask.Stop()
	}
	if err != nil {
		log.Debugf("segw-master: gateway session ended: %v", err)
	}
	if loggedIn {
		proxy.Detach(srv)
	}
}

// watchdogTick is the only message ever posted to a watchdog task's slot.
type watchdogTick struct{}

// startWatchdogTask runs the per-connection watchdog send+await cycle as
// a supervisor task (C14, spec §5) instead of a bare goroutine: each tick
// is delivered through the task's own slot and handled to completion
// before the next Suspend is armed, so a slow/blocked watchdog round trip
// can never overlap with itself. sess.SendWatchdogAndAwait itself blocks
// on socket I/O, which is normally forbidden inside a handler (spec §5),
// but a watchdog task's only job *is* that one blocking round trip — it
// never shares a slot with other session state, so there is nothing else
// for it to stall.
func startWatchdogTask(sess *iptsession.Session, srv meterid.ServerID, period time.Duration) *supervisor.Task {
	var task *supervisor.Task
	task = supervisor.NewTask("watchdog:"+srv.String(), 1, func(msg any) {
		if err := sess.SendWatchdogAndAwait(period); err != nil {
			log.Debugf("segw-master: watchdog for %s: %v", srv, err)
			return
		}
		task.Suspend(period, watchdogTick{})
	})
	task.Start()
	task.Suspend(period, watchdogTick{})
	return task
}

// allocateChannel draws a random push/register channel id (spec §8
// scenario S3's channel ids, 0xA1E24BBA/0x474BA8C4, are opaque 32-bit
// handles with no documented allocation rule; a random draw keeps one
// gateway's concurrent channels from colliding without needing a shared
// sequence across connections).
func allocateChannel() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// forwardPushData decodes a delivered push file and republishes its
// readouts through the same best-effort telemetry fan-out the gateway
// side uses, rather than reconstructing TProfile_*/TStorage_* rows: the
// wire format (internal/pushsched.encodeProfileFile) carries srv_id, a
// time index, and flat OBIS/value tuples but no collector or profile
// identity, which WriteProfileRow requires and this format does not
// supply.
func forwardPushData(block []byte, pub *telemetry.Publisher) {
	messages, err := smlcodec.DecodeFile(block)
	if err != nil {
		log.Warnf("segw-master: decode push data: %v", err)
		return
	}
	for _, msg := range messages {
		if msg.BodyCode != smlcodec.BodyGetProfileListRes {
			continue
		}
		if len(msg.Body.List) != 3 {
			continue
		}
		srv := meterid.ServerID(msg.Body.List[0].Bytes)
		ts := time.Unix(int64(msg.Body.List[1].Uint), 0).UTC()
		var fields []cfgcache.ReadoutData
		for _, v := range msg.Body.List[2].List {
			if len(v.List) != 4 {
				continue
			}
			id, err := obis.FromBytes(v.List[0].Bytes)
			if err != nil {
				continue
			}
			fields = append(fields, cfgcache.ReadoutData{
				OBIS:   id,
				Value:  string(v.List[1].Bytes),
				Scaler: int8(v.List[2].Int),
				Unit:   byte(v.List[3].Uint),
			})
		}
		pub.PublishReadout(srv.String(), fields, ts)
	}
}
