package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segw-project/segw/internal/cfgcache"
	"github.com/segw-project/segw/internal/config"
	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
	"github.com/segw-project/segw/internal/store"
	"github.com/segw-project/segw/pkg/log"
)

// epoch bounds dump-profile's range query from the start; every stored
// row postdates the protocol's own existence.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// connectMirror opens the relational mirror and bulk-loads it into a
// fresh cache, the same sequence cmdRun performs before accepting any
// connection (spec §6's offline subcommands operate on the same
// persisted state a running gateway would see).
func connectMirror() (*cfgcache.Cache, *store.Mirror, int) {
	conn, err := store.Connect(config.Keys.DBDriver, config.Keys.DB)
	if err != nil {
		log.Errorf("store: connect: %v", err)
		return nil, nil, exitStorageError
	}
	cache := cfgcache.New()
	mirror := store.NewMirror(conn, cache)
	if err := mirror.Start(); err != nil {
		log.Errorf("store: bulk load: %v", err)
		return nil, nil, exitStorageError
	}
	return cache, mirror, exitOK
}

// cmdInitDB applies pending migrations and returns (spec §6's "init-db").
func cmdInitDB() int {
	if _, err := store.Connect(config.Keys.DBDriver, config.Keys.DB); err != nil {
		log.Errorf("store: connect: %v", err)
		return exitStorageError
	}
	return exitOK
}

// cmdTransferConfig seeds the persisted config tree from the JSON
// bootstrap config (spec §6's "transfer-config", grounded on the
// original's transfer_config_to_storage: it writes the IP-T connection
// parameters — host, port, account, password, scrambled flag — as
// individual TCfg leaves under obis.RootIPTParam, not a push-data
// trigger). The original loops over a vector of IP-T targets with one
// config sub-node per target index; this gateway dials exactly one
// master (config.Keys.MasterAddr), so the per-index target node is
// dropped and the leaves hang directly off RootIPTParam.
func cmdTransferConfig() int {
	cache, mirror, code := connectMirror()
	if code != exitOK {
		return code
	}

	host, port, err := net.SplitHostPort(config.Keys.MasterAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transfer-config: invalid master address %q: %v\n", config.Keys.MasterAddr, err)
		return exitConfigError
	}

	root := obis.Path{obis.RootIPTParam}
	cache.PutConfig(root.Append(obis.IPTTargetHost), cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: host}, "transfer-config")
	cache.PutConfig(root.Append(obis.IPTTargetPort), cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: port}, "transfer-config")
	cache.PutConfig(root.Append(obis.IPTTargetAccount), cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: config.Keys.GatewaySrvID}, "transfer-config")
	cache.PutConfig(root.Append(obis.IPTTargetPassword), cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: config.Keys.GatewayPassword}, "transfer-config")
	cache.PutConfig(root.Append(obis.IPTTargetScrambled), cfgcache.ConfigValue{Type: cfgcache.TypeBool, Bool: config.Keys.GatewayScrambled}, "transfer-config")

	mirror.FlushOpLog()
	return exitOK
}

// cmdClearConfig truncates the persisted configuration tree by deleting
// every TCfg row (spec §6's "clear-config"); no cache is loaded.
func cmdClearConfig() int {
	conn, err := store.Connect(config.Keys.DBDriver, config.Keys.DB)
	if err != nil {
		log.Errorf("store: connect: %v", err)
		return exitStorageError
	}
	if _, err := conn.DB.Exec("DELETE FROM TCfg"); err != nil {
		log.Errorf("store: clear TCfg: %v", err)
		return exitStorageError
	}
	return exitOK
}

// cmdListConfig dumps every configuration-tree leaf as "<path> = <value>"
// (spec §6's "list-config").
func cmdListConfig() int {
	cache, _, code := connectMirror()
	if code != exitOK {
		return code
	}
	cache.ConfigTree.Loop(func(path string, v cfgcache.ConfigValue) bool {
		fmt.Println(path, "=", formatConfigValue(v))
		return true
	})
	return exitOK
}

// cmdDumpDevices lists every known M-Bus device (spec §6's "dump-devices").
func cmdDumpDevices() int {
	cache, _, code := connectMirror()
	if code != exitOK {
		return code
	}
	cache.MBus.Loop(func(srv string, d cfgcache.MBusDevice) bool {
		fmt.Printf("%s  class=%d active=%t manufacturer=%s lastSeen=%s\n",
			srv, d.DeviceClass, d.Active, d.Manufacturer, d.LastSeen.Format("2006-01-02T15:04:05Z"))
		return true
	})
	return exitOK
}

// cmdDumpPushOps lists every configured push operation (spec §6's
// "dump-push-ops").
func cmdDumpPushOps() int {
	cache, _, code := connectMirror()
	if code != exitOK {
		return code
	}
	cache.PushOps.Loop(func(key cfgcache.DataCollectorKey, op cfgcache.PushOp) bool {
		fmt.Printf("%s/%d -> target=%s interval=%s delay=%s lowerBound=%d\n",
			key.SrvID, key.Nr, op.TargetName, op.PushInterval, op.PushDelay, op.LowerBound)
		return true
	})
	return exitOK
}

// cmdDumpProfile prints every stored row of one profile for one meter
// (spec §6's "dump-profile <profile-id>").
func cmdDumpProfile(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: dump-profile <profile-id>")
		return exitUsageError
	}
	profile, err := obis.ParseID(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump-profile: %v\n", err)
		return exitUsageError
	}

	_, mirror, code := connectMirror()
	if code != exitOK {
		return code
	}

	srv, err := meterid.ParseServerID(config.Keys.GatewaySrvID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump-profile: gateway-srv-id not configured: %v\n", err)
		return exitConfigError
	}

	rows, err := mirror.QueryProfile(srv, profile, epoch, time.Now().UTC())
	if err != nil {
		log.Errorf("dump-profile: %v", err)
		return exitStorageError
	}
	for _, row := range rows {
		fmt.Println(row.TimeIndex.Format("2006-01-02T15:04:05Z"))
		for _, v := range row.Values {
			fmt.Printf("  %s = %s\n", v.OBIS, v.Value)
		}
	}
	return exitOK
}

// cmdSet writes a single configuration-tree leaf (spec §6's "set
// <obis-path> <value>"). Every leaf is stored as a string value. The
// router's toSMLValue (internal/smlrouter/values.go) serves such a leaf
// as an octet string, and fromSMLValue coerces later SML SETs to the
// leaf's existing string type; no per-path type is applied.
func cmdSet(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: set <obis-path> <value>")
		return exitUsageError
	}
	path, err := parseObisPath(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "set: %v\n", err)
		return exitUsageError
	}

	cache, mirror, code := connectMirror()
	if code != exitOK {
		return code
	}
	cache.PutConfig(path, cfgcache.ConfigValue{Type: cfgcache.TypeString, Str: args[1]}, "cli")
	mirror.FlushOpLog()
	return exitOK
}

func parseObisPath(s string) (obis.Path, error) {
	segments := strings.Split(s, "/")
	path := make(obis.Path, 0, len(segments))
	for _, seg := range segments {
		id, err := obis.ParseID(seg)
		if err != nil {
			return nil, fmt.Errorf("invalid obis path %q: %w", s, err)
		}
		path = append(path, id)
	}
	return path, nil
}

func formatConfigValue(v cfgcache.ConfigValue) string {
	switch v.Type {
	case cfgcache.TypeString, cfgcache.TypeBuffer, cfgcache.TypeAESKey, cfgcache.TypeEndpoint, cfgcache.TypeMAC:
		if v.Str != "" {
			return v.Str
		}
		return fmt.Sprintf("%x", v.Buf)
	case cfgcache.TypeBool:
		return strconv.FormatBool(v.Bool)
	case cfgcache.TypeTimestamp:
		return v.Timestamp.Format("2006-01-02T15:04:05Z")
	case cfgcache.TypeDuration:
		return v.Duration.String()
	case cfgcache.TypeUint8, cfgcache.TypeUint16, cfgcache.TypeUint32, cfgcache.TypeUint64:
		return strconv.FormatUint(v.Uint, 10)
	default:
		return strconv.FormatInt(v.Int, 10)
	}
}
