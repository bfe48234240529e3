package main

import (
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/config"
	"github.com/segw-project/segw/internal/dispatcher"
	"github.com/segw-project/segw/internal/iptframe"
	"github.com/segw-project/segw/internal/iptsession"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/pushsched"
	"github.com/segw-project/segw/internal/scramble"
	"github.com/segw-project/segw/internal/smlcodec"
	"github.com/segw-project/segw/internal/smlrouter"
	"github.com/segw-project/segw/internal/telemetry"
	"github.com/segw-project/segw/internal/wmbus"
	"github.com/segw-project/segw/pkg/log"
)

// upstreamProvider resolves the gateway's single upstream session for
// pushsched.TransportProvider (internal/pushsched: "a gateway has exactly
// one upstream session... modelled as a lookup").
type upstreamProvider struct {
	mu      sync.Mutex
	srv     meterid.ServerID
	session *iptsession.Session
}

func (p *upstreamProvider) set(srv meterid.ServerID, s *iptsession.Session) {
	p.mu.Lock()
	p.srv, p.session = srv, s
	p.mu.Unlock()
}

func (p *upstreamProvider) Transport(srv meterid.ServerID) (pushsched.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil || string(p.srv) != string(srv) {
		return nil, false
	}
	return p.session, true
}

// cmdRun starts the gateway service: relational mirror, wireless/wired
// M-Bus ingest, readout dispatcher, push scheduler, the upstream IP-T
// client session to the master, and the local customer-interface IP-T
// listener (spec §3's component diagram, C1-C12).
func cmdRun() int {
	cache, mirror, code := connectMirror()
	if code != exitOK {
		return code
	}

	pub := telemetry.NewPublisher(telemetry.Config{
		Address:       config.Keys.Telemetry.Nats.Address,
		Username:      config.Keys.Telemetry.Nats.Username,
		Password:      config.Keys.Telemetry.Nats.Password,
		CredsFilePath: config.Keys.Telemetry.Nats.CredsFilePath,
	})
	defer pub.Close()
	archiver := telemetry.NewArchiver(telemetry.S3Config{
		Endpoint:     config.Keys.Telemetry.S3.Endpoint,
		Bucket:       config.Keys.Telemetry.S3.Bucket,
		AccessKey:    config.Keys.Telemetry.S3.AccessKey,
		SecretKey:    config.Keys.Telemetry.S3.SecretKey,
		Region:       config.Keys.Telemetry.S3.Region,
		UsePathStyle: config.Keys.Telemetry.S3.UsePathStyle,
	})

	dispatchInterval := config.ParseDuration(config.Keys.DispatchInterval, dispatcher.DefaultInterval)
	disp := dispatcher.New(cache, mirror, dispatchInterval)
	if err := disp.Start(); err != nil {
		log.Errorf("dispatcher: start: %v", err)
		return exitStorageError
	}
	defer disp.Stop()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	if config.Keys.SerialDevice != "" {
		serial, err := os.OpenFile(config.Keys.SerialDevice, os.O_RDWR, 0)
		if err != nil {
			log.Errorf("wmbus: open %s: %v", config.Keys.SerialDevice, err)
			return exitNetworkError
		}
		defer serial.Close()
		rcv := wmbus.NewReceiver(serial, cache, func(meterid.ServerID) { disp.RunOnce() }, pub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rcv.Run(); err != nil {
				log.Warnf("wmbus: receiver stopped: %v", err)
			}
		}()
	}

	router := smlrouter.New(cache)
	router.ProfileStore = mirror

	provider := &upstreamProvider{}
	sched := pushsched.New(cache, mirror, provider, config.ParseDuration(config.Keys.PushTick, pushsched.DefaultTick), archiver)
	if err := sched.Start(); err != nil {
		log.Errorf("pushsched: start: %v", err)
		return exitStorageError
	}
	defer sched.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runUpstreamClient(cache, router, provider, stop)
	}()

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Errorf("customer interface: listen %s: %v", config.Keys.Addr, err)
		return exitNetworkError
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptCustomerConnections(listener, cache, router, stop)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	close(stop)
	listener.Close()
	wg.Wait()
	log.Info("segw-gateway: shut down")
	return exitOK
}

// runUpstreamClient dials the master, logs in, and serves the
// connection/transmit-data and push-channel/register-target roles the
// gateway plays as a C3 client/server pair over the one session (spec
// §4.3): OpenConnection/CloseConnection/RelayTransmitData are driven by
// the master; RegisterTarget/OpenPushChannel/TransferPushData/
// ClosePushChannel are driven by this gateway's own push scheduler.
func runUpstreamClient(cache *cfgcache.Cache, router *smlrouter.Router, provider *upstreamProvider, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, err := net.Dial("tcp", config.Keys.MasterAddr)
		if err != nil {
			log.Warnf("segw-gateway: dial master %s: %v", config.Keys.MasterAddr, err)
			time.Sleep(5 * time.Second)
			continue
		}

		maxBody := config.Keys.MaxBodyLength
		if maxBody == 0 {
			maxBody = iptframe.DefaultMaxBodyLength
		}
		sess := iptsession.New(conn, maxBody)

		var loginErr error
		if config.Keys.GatewayScrambled {
			_, loginErr = sess.ClientLoginScrambled(config.Keys.GatewaySrvID, config.Keys.GatewayPassword, scramble.DefaultKey())
		} else {
			_, loginErr = sess.ClientLoginPublic(config.Keys.GatewaySrvID, config.Keys.GatewayPassword)
		}
		if loginErr != nil {
			log.Warnf("segw-gateway: login to master: %v", loginErr)
			sess.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		srv, err := meterid.ParseServerID(config.Keys.GatewaySrvID)
		if err != nil {
			log.Errorf("segw-gateway: invalid gateway-srv-id: %v", err)
			sess.Close()
			return
		}
		provider.set(srv, sess)

		sessionStop := make(chan struct{})
		go func() {
			select {
			case <-stop:
			case <-sessionStop:
			}
			sess.Close()
		}()

		handle := func(f iptframe.Frame) (bool, error) {
			switch f.Command {
			case iptframe.CtrlReqWatchdog:
				return true, sess.HandleWatchdogRequest(f)
			case iptframe.TPReqOpenConnection:
				return true, sess.HandleOpenConnection(f, func(target string) bool { return true })
			case iptframe.TPReqCloseConnection:
				return true, sess.HandleCloseConnection(f)
			case iptframe.TPReqTransmitData:
				return true, sess.HandleTransmitData(f, func(block []byte) {
					reply, err := dispatchSML(cache, router, block, meterid.ServerID(nil), false)
					if err != nil {
						log.Warnf("segw-gateway: dispatch transmit data: %v", err)
						return
					}
					if err := sess.RelayTransmitData(reply); err != nil {
						log.Warnf("segw-gateway: relay reply: %v", err)
					}
				})
			}
			return false, nil
		}

		err = sess.Run(handle)
		close(sessionStop)
		if err != nil {
			log.Warnf("segw-gateway: upstream session ended: %v", err)
		}
		provider.set(nil, nil)
		time.Sleep(2 * time.Second)
	}
}

// acceptCustomerConnections serves the local customer interface (spec §3:
// "TCP bytes -> C1 descramble -> C2 deframe -> C4 SML parse -> C5
// router"). It is treated as a degenerate proxy-tunnel connection: each
// accepted socket runs the same C1-C3 session stack as the upstream link,
// with TPReqTransmitData routed straight through the SML router.
func acceptCustomerConnections(listener net.Listener, cache *cfgcache.Cache, router *smlrouter.Router, stop <-chan struct{}) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				log.Warnf("customer interface: accept: %v", err)
				continue
			}
		}
		go serveCustomerConnection(conn, cache, router)
	}
}

func serveCustomerConnection(conn net.Conn, cache *cfgcache.Cache, router *smlrouter.Router) {
	defer conn.Close()
	maxBody := config.Keys.MaxBodyLength
	if maxBody == 0 {
		maxBody = iptframe.DefaultMaxBodyLength
	}
	sess := iptsession.New(conn, maxBody)

	auth := func(req iptsession.LoginRequest) (bool, time.Duration, string) {
		return true, 0, ""
	}

	handle := func(f iptframe.Frame) (bool, error) {
		switch f.Command {
		case iptframe.CtrlReqLoginPublic, iptframe.CtrlReqLoginScrambled:
			_, err := sess.ServeLogin(f, auth)
			return true, err
		case iptframe.TPReqOpenConnection:
			return true, sess.HandleOpenConnection(f, func(target string) bool { return true })
		case iptframe.TPReqCloseConnection:
			return true, sess.HandleCloseConnection(f)
		case iptframe.TPReqTransmitData:
			return true, sess.HandleTransmitData(f, func(block []byte) {
				reply, err := dispatchSML(cache, router, block, nil, true)
				if err != nil {
					log.Warnf("customer interface: dispatch: %v", err)
					return
				}
				if err := sess.RelayTransmitData(reply); err != nil {
					log.Warnf("customer interface: relay reply: %v", err)
				}
			})
		}
		return false, nil
	}

	if err := sess.Run(handle); err != nil {
		log.Debugf("customer interface: session ended: %v", err)
	}
}

// dispatchSML decodes one transparent SML file, routes every message
// through the shared router, and re-encodes the responses as a new SML
// file (spec §4.5, C5). acceptAll permits PUBLIC_OPEN_REQ against any
// meter srv_id, matching the customer interface's local trust boundary;
// the upstream link instead authenticates per message body via the
// PUBLIC_OPEN_REQ credentials already checked in internal/smlrouter.
func dispatchSML(cache *cfgcache.Cache, router *smlrouter.Router, block []byte, srv meterid.ServerID, acceptAll bool) ([]byte, error) {
	messages, err := smlcodec.DecodeFile(block)
	if err != nil {
		return nil, err
	}
	sctx := &smlrouter.SessionContext{Source: "customer", AcceptAll: acceptAll}
	if srv != nil {
		sctx.ServerID = srv.String()
	}
	var out []smlcodec.Message
	for _, msg := range messages {
		out = append(out, router.Dispatch(msg, sctx)...)
	}
	return smlcodec.EncodeFile(out), nil
}
