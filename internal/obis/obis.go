// Package obis implements the OBIS identifier and OBIS path types used
// throughout the configuration tree (spec §3, §6) and the GLOSSARY entry
// "OBIS" (IEC 62056-6-1).
package obis

import "fmt"

// WildcardByte matches any value in the last identifier position.
const WildcardByte = 0xFF

// ID is a fixed 6-byte OBIS identifier {A,B,C,D,E,F}.
type ID [6]byte

// New builds an ID from its six components.
func New(a, b, c, d, e, f byte) ID {
	return ID{a, b, c, d, e, f}
}

// Equal compares two identifiers byte-wise, honoring a WildcardByte in the
// last position of either operand.
func (id ID) Equal(other ID) bool {
	for i := 0; i < 5; i++ {
		if id[i] != other[i] {
			return false
		}
	}
	if id[5] == WildcardByte || other[5] == WildcardByte {
		return true
	}
	return id[5] == other[5]
}

// String renders the canonical hex-dash form AA-BB-CC-DD-EE-FF.
func (id ID) String() string {
	return fmt.Sprintf("%02X-%02X-%02X-%02X-%02X-%02X", id[0], id[1], id[2], id[3], id[4], id[5])
}

// Dotted renders the DLMS/COSEM "A-B:C.D.E*F" notation.
func (id ID) Dotted() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d*%d", id[0], id[1], id[2], id[3], id[4], id[5])
}

// Bytes returns the 6 raw bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, 6)
	copy(b, id[:])
	return b
}

// FromBytes parses a 6-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != 6 {
		return id, fmt.Errorf("obis: identifier must be 6 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseID parses the canonical hex-dash form produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	n, err := fmt.Sscanf(s, "%02X-%02X-%02X-%02X-%02X-%02X", &id[0], &id[1], &id[2], &id[3], &id[4], &id[5])
	if err != nil || n != 6 {
		return id, fmt.Errorf("obis: invalid identifier string %q", s)
	}
	return id, nil
}

// Path names a node in the configuration tree: an ordered sequence of
// identifiers from a root section down to a leaf.
type Path []ID

// String joins the path's identifiers with '/'.
func (p Path) String() string {
	s := ""
	for i, id := range p {
		if i > 0 {
			s += "/"
		}
		s += id.String()
	}
	return s
}

// Append returns a new path with id appended, leaving p untouched.
func (p Path) Append(id ID) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = id
	return out
}

// Equal compares two paths element-wise using ID.Equal (wildcard-aware).
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Root sections the core recognises (spec §3).
var (
	RootIPTParam         = New(0, 0, 96, 50, 0, 1)
	RootNTP              = New(0, 0, 96, 50, 0, 2)
	RootSecurity         = New(0, 0, 96, 50, 0, 3)
	RootAccessRights     = New(0, 0, 96, 50, 0, 4)
	RootSensorParams     = New(0, 0, 96, 50, 0, 5)
	RootDataCollector    = New(0, 0, 96, 50, 0, 6)
	RootPushOperations   = New(0, 0, 96, 50, 0, 7)
	RootBroker           = New(0, 0, 96, 50, 0, 8)
	RootSerial           = New(0, 0, 96, 50, 0, 9)
	IfWMBus              = New(0, 0, 96, 50, 1, 1)
	If1107               = New(0, 0, 96, 50, 1, 2)
	ClassMBus            = New(0, 0, 96, 50, 1, 3)

	// IP-T target leaves under RootIPTParam (spec §6 "transfer-config":
	// the bootstrap IP-T host/port/account/credentials written into the
	// config tree as individual leaves).
	IPTTargetHost      = New(0, 0, 96, 50, 0, 11)
	IPTTargetPort      = New(0, 0, 96, 50, 0, 12)
	IPTTargetAccount   = New(0, 0, 96, 50, 0, 13)
	IPTTargetPassword  = New(0, 0, 96, 50, 0, 14)
	IPTTargetScrambled = New(0, 0, 96, 50, 0, 15)
	RootCustomInterface  = New(0, 0, 96, 50, 2, 1)
	RootCustomParam      = New(0, 0, 96, 50, 2, 2)
	ClassOpLogStatusWord = New(0, 0, 96, 50, 3, 1)

	Reboot = New(0, 0, 96, 50, 4, 1)

	// Profile root OBIS codes (spec §3 time-index table).
	Profile1Minute  = New(1, 0, 99, 1, 0, 255)
	Profile15Minute = New(1, 0, 99, 2, 0, 255)
	Profile60Minute = New(1, 0, 99, 3, 0, 255)
	Profile24Hour   = New(1, 0, 99, 4, 0, 255)
	Profile1Month   = New(1, 0, 99, 5, 0, 255)
	Profile1Year    = New(1, 0, 99, 6, 0, 255)
)

// ProfileName maps a profile root OBIS to the table-name suffix used by
// the relational mirror (TProfile_<name> / TStorage_<name>).
func ProfileName(root ID) (string, bool) {
	switch root {
	case Profile1Minute:
		return "1_MINUTE", true
	case Profile15Minute:
		return "15_MINUTE", true
	case Profile60Minute:
		return "60_MINUTE", true
	case Profile24Hour:
		return "24_HOUR", true
	case Profile1Month:
		return "1_MONTH", true
	case Profile1Year:
		return "1_YEAR", true
	default:
		return "", false
	}
}
