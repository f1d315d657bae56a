package mstp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// -------------------------------------------------------------------------
// Identifiers: 802.1Q-2011 Section 13.24.1, 13.24.2
// -------------------------------------------------------------------------

// MAC is an IEEE 802 48-bit address.
type MAC [6]byte

// String returns the colon separated lowercase form.
func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether all octets are zero.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// ErrInvalidMAC indicates a string that is not a 48-bit MAC address.
var ErrInvalidMAC = errors.New("invalid MAC address")

// ParseMAC parses a 48-bit address in any form accepted by net.ParseMAC.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, fmt.Errorf("parse %q: %w", s, ErrInvalidMAC)
	}
	if len(hw) != len(MAC{}) {
		return MAC{}, fmt.Errorf("parse %q: %d octets: %w", s, len(hw), ErrInvalidMAC)
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

// MSTID is the protocol-visible identifier of a spanning tree instance.
// Zero identifies the CIST; 1..4094 identify MSTIs.
type MSTID uint16

// Instance identifier limits (802.1Q-2011 Section 8.9).
const (
	CISTID   MSTID = 0
	MinMSTID MSTID = 1
	MaxMSTID MSTID = 4094
)

// Valid reports whether id names an MSTI.
func (id MSTID) Valid() bool {
	return id >= MinMSTID && id <= MaxMSTID
}

// Bridge priority encoding (802.1Q-2011 Section 13.24.2). The four most
// significant bits of the bridge identifier are settable in steps of 4096.
const (
	PriorityStep    = 4096
	MaxPriority     = 61440
	DefaultPriority = 32768
)

// BridgeID is an 8-octet bridge identifier: a 4-bit priority, a 12-bit
// system id extension carrying the MSTID, and the bridge MAC address.
type BridgeID struct {
	// Priority holds the settable priority, a multiple of 4096.
	Priority uint16
	// SystemID is the 12-bit system id extension.
	SystemID uint16
	Addr     MAC
}

// NewBridgeID builds an identifier for a tree of the given bridge.
func NewBridgeID(priority uint16, id MSTID, addr MAC) BridgeID {
	return BridgeID{Priority: priority & 0xF000, SystemID: uint16(id) & 0x0FFF, Addr: addr}
}

// Uint64 returns the identifier as compared on the wire.
func (b BridgeID) Uint64() uint64 {
	v := uint64(b.Priority&0xF000|b.SystemID&0x0FFF) << 48
	for i, o := range b.Addr {
		v |= uint64(o) << (8 * (5 - i))
	}
	return v
}

// Compare orders two identifiers numerically.
func (b BridgeID) Compare(o BridgeID) Ordering {
	return compareUint(b.Uint64(), o.Uint64())
}

// String renders the identifier as priority.system-id.mac.
func (b BridgeID) String() string {
	return fmt.Sprintf("%x.%03x.%s", b.Priority>>12, b.SystemID, b.Addr)
}

func putBridgeID(buf []byte, b BridgeID) {
	binary.BigEndian.PutUint16(buf[0:2], b.Priority&0xF000|b.SystemID&0x0FFF)
	copy(buf[2:8], b.Addr[:])
}

func readBridgeID(buf []byte) BridgeID {
	v := binary.BigEndian.Uint16(buf[0:2])
	var b BridgeID
	b.Priority = v & 0xF000
	b.SystemID = v & 0x0FFF
	copy(b.Addr[:], buf[2:8])
	return b
}

// PortNum is the 12-bit port number of a bridge port, 1..4095.
type PortNum uint16

// MaxPortNum is the largest port number representable in a PortID.
const MaxPortNum PortNum = 4095

// Port priority encoding (802.1Q-2011 Section 13.24.12).
const (
	PortPriorityStep    = 16
	MaxPortPriority     = 240
	DefaultPortPriority = 128
)

// PortID is a 16-bit port identifier: a 4-bit priority followed by the
// 12-bit port number.
type PortID uint16

// NewPortID combines a port priority (multiple of 16) and number.
func NewPortID(priority uint8, num PortNum) PortID {
	return PortID(uint16(priority&0xF0)<<8 | uint16(num)&0x0FFF)
}

// Priority returns the port priority, a multiple of 16.
func (p PortID) Priority() uint8 { return uint8(p>>8) & 0xF0 }

// Number returns the 12-bit port number.
func (p PortID) Number() PortNum { return PortNum(p & 0x0FFF) }

// String renders the identifier as priority.number.
func (p PortID) String() string {
	return fmt.Sprintf("%d.%d", p.Priority(), p.Number())
}
