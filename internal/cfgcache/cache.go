package cfgcache

import (
	"sync"

	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
)

// TxnKind distinguishes the bracket events emitted around a batch
// mutation (spec §4.6: "A transaction bracket ... is emitted to
// downstream listeners before/after a batch mutation").
type TxnKind int

const (
	TxnStart TxnKind = iota
	TxnCommit
	TxnRollback
)

// TxnListener observes transaction brackets.
type TxnListener func(kind TxnKind, source string)

// OpLogEntry records a status-word bit write that is covered by a
// meter's change mask (spec §6).
type OpLogEntry struct {
	SrvID    string
	Bit      uint
	OldValue bool
	NewValue bool
	Source   string
}

// Cache is the process-wide configuration cache (C7). Sessions hold a
// reference to it but never own it (spec §3 Ownership).
type Cache struct {
	ConfigTree *Table[string, ConfigValue]
	MBus       *Table[string, MBusDevice]
	Readouts   *Table[string, Readout]
	ReadoutData *Table[string, []ReadoutData]
	Collectors *Table[DataCollectorKey, DataCollector]
	Mirrors    *Table[DataMirrorKey, DataMirror]
	PushOps    *Table[DataCollectorKey, PushOp]
	IECDevs    *Table[int, IECDev]
	Users      *Table[string, User]
	Privileges *Table[string, Privilege]

	mu          sync.Mutex
	txnListeners []TxnListener
	opLog        []OpLogEntry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		ConfigTree:  NewTable[string, ConfigValue](),
		MBus:        NewTable[string, MBusDevice](),
		Readouts:    NewTable[string, Readout](),
		ReadoutData: NewTable[string, []ReadoutData](),
		Collectors:  NewTable[DataCollectorKey, DataCollector](),
		Mirrors:     NewTable[DataMirrorKey, DataMirror](),
		PushOps:     NewTable[DataCollectorKey, PushOp](),
		IECDevs:     NewTable[int, IECDev](),
		Users:       NewTable[string, User](),
		Privileges:  NewTable[string, Privilege](),
	}
}

// SubscribeTxn registers a listener for transaction brackets.
func (c *Cache) SubscribeTxn(l TxnListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnListeners = append(c.txnListeners, l)
}

// Begin/Commit/Rollback bracket a batch mutation for downstream listeners
// (the relational mirror maps these 1:1 to SQL transactions, spec §4.7).
func (c *Cache) Begin(source string)    { c.fireTxn(TxnStart, source) }
func (c *Cache) Commit(source string)   { c.fireTxn(TxnCommit, source) }
func (c *Cache) Rollback(source string) { c.fireTxn(TxnRollback, source) }

func (c *Cache) fireTxn(kind TxnKind, source string) {
	c.mu.Lock()
	listeners := append([]TxnListener(nil), c.txnListeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(kind, source)
	}
}

// AESKeyFor looks up the mode-5 AES key for a meter directly from the
// _DeviceMBUS table: a cheap map read taken fresh on every frame, never
// held across a suspension point (spec §5).
func (c *Cache) AESKeyFor(srv meterid.ServerID) ([]byte, bool) {
	dev, ok := c.MBus.Get(srv.String())
	if !ok || len(dev.AESKey) == 0 {
		return nil, false
	}
	return dev.AESKey, true
}

// LogStatusWrite appends an operational-log entry for a status-bit write
// that is covered by the meter's change mask.
func (c *Cache) LogStatusWrite(e OpLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opLog = append(c.opLog, e)
}

// DrainOpLog removes and returns all pending operational-log entries, for
// the relational mirror to flush to TOpLog.
func (c *Cache) DrainOpLog() []OpLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.opLog
	c.opLog = nil
	return out
}

// PutConfig stores a value at an OBIS path.
func (c *Cache) PutConfig(path obis.Path, v ConfigValue, source string) {
	c.ConfigTree.Merge(path.String(), v, source)
}

// GetConfig reads a value at an OBIS path.
func (c *Cache) GetConfig(path obis.Path) (ConfigValue, bool) {
	return c.ConfigTree.Get(path.String())
}
