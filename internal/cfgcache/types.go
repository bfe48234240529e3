// Package cfgcache implements the in-memory configuration cache (C7):
// named tables with row-level change notifications, and the OBIS-path
// configuration tree itself. The relational mirror (internal/store)
// listens on these tables and writes through to SQL.
package cfgcache

import (
	"time"

	"github.com/segw-project/segw/internal/meterid"
	"github.com/segw-project/segw/internal/obis"
)

// ValueType tags the run-time type of a configuration-tree leaf value
// (spec §3).
type ValueType int

const (
	TypeInt8 ValueType = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeString
	TypeBuffer
	TypeBool
	TypeTimestamp
	TypeDuration
	TypeAESKey
	TypeEndpoint
	TypeMAC
)

// ConfigValue is one configuration-tree leaf: a run-time typed value
// addressed by an OBIS path.
type ConfigValue struct {
	Type      ValueType
	Int       int64
	Uint      uint64
	Str       string
	Buf       []byte
	Bool      bool
	Timestamp time.Time
	Duration  time.Duration
}

// MBusDevice is the _DeviceMBUS row (spec §3).
type MBusDevice struct {
	SrvID         meterid.ServerID
	LastSeen      time.Time
	DeviceClass   int
	Active        bool
	Manufacturer  string
	Status        uint32
	ChangeMask    uint16
	Interval      time.Duration
	PublicKey     []byte
	AESKey        []byte
	User          string
	Pwd           string
}

// DataCollector is the _DataCollector row, keyed by (SrvID, Nr).
type DataCollector struct {
	SrvID       meterid.ServerID
	Nr          int
	ProfileOBIS obis.ID
	Active      bool
	MaxSize     int
	RegPeriod   time.Duration
}

// DataCollectorKey identifies one data collector.
type DataCollectorKey struct {
	SrvID string
	Nr    int
}

// DataMirror is a _DataMirror row, keyed by (SrvID, Nr, Reg).
type DataMirror struct {
	SrvID meterid.ServerID
	Nr    int
	Reg   int
	OBIS  obis.ID
}

// DataMirrorKey identifies one mirror entry.
type DataMirrorKey struct {
	SrvID string
	Nr    int
	Reg   int
}

// PushOp is a _PushOps row, keyed by (SrvID, Nr).
type PushOp struct {
	SrvID        meterid.ServerID
	Nr           int
	PushInterval time.Duration
	PushDelay    time.Duration
	SourceOBIS   obis.ID
	TargetName   string
	ServiceOBIS  obis.ID
	LowerBound   uint64
}

// Readout is a transient _Readout row: one meter observation.
type Readout struct {
	PK           string
	SrvID        meterid.ServerID
	Manufacturer string
	Version      byte
	Medium       byte
	DeviceID     string
	FrameType    byte
	Raw          []byte
	Timestamp    time.Time
}

// ReadoutData is a _ReadoutData row accompanying a Readout.
type ReadoutData struct {
	PK     string
	OBIS   obis.ID
	Value  string
	Type   ValueType
	Scaler int8
	Unit   byte
}

// IECDev is an _IECDevs row.
type IECDev struct {
	Nr       int
	SrvID    meterid.ServerID
	Baudrate int
}

// User is a _User row.
type User struct {
	Username string
	PwdHash  string
	LDAP     bool
	FullName string
}

// Privilege is a _Privileges row, keyed by (User, Meter, Reg).
type Privilege struct {
	User  string
	Meter string
	Reg   string
	Rule  string
}
