package mstp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// BPDU Constants: 802.1Q-2011 Clause 14
// -------------------------------------------------------------------------

// BPDUType is the BPDU Type octet.
type BPDUType uint8

const (
	TypeConfig BPDUType = 0x00
	TypeRST    BPDUType = 0x02
	TypeTCN    BPDUType = 0x80
)

// String returns the BPDU type as used in metric labels.
func (t BPDUType) String() string {
	switch t {
	case TypeConfig:
		return "config"
	case TypeRST:
		return "rst"
	case TypeTCN:
		return "tcn"
	default:
		return fmt.Sprintf(unknownFmt, uint8(t))
	}
}

// Protocol Version Identifier values (802.1Q-2011 Section 14.2).
const (
	VersionSTP  uint8 = 0
	VersionRSTP uint8 = 2
	VersionMSTP uint8 = 3
)

// Encoded sizes in octets, excluding the LLC header.
const (
	TCNSize         = 4
	ConfigSize      = 35
	RSTSize         = 36
	MSTBaseSize     = 102
	MSTIMessageSize = 16

	// v3BaseLength is the Version 3 Length of an MST BPDU that carries no
	// MSTI Configuration Messages.
	v3BaseLength = 64

	// MaxMSTIMessages bounds the MSTI Configuration Messages in one BPDU
	// (802.1Q-2011 Section 13.4).
	MaxMSTIMessages = 64

	// MaxBPDUSize is the largest valid MST BPDU.
	MaxBPDUSize = MSTBaseSize + MaxMSTIMessages*MSTIMessageSize
)

// Flags is a CIST or MSTI flags octet (802.1Q-2011 Section 14.4).
//
//	Bit 1: Topology Change
//	Bit 2: Proposal
//	Bits 3-4: Port Role
//	Bit 5: Learning
//	Bit 6: Forwarding
//	Bit 7: Agreement
//	Bit 8: Topology Change Ack (CIST) / Master (MSTI)
type Flags uint8

const (
	FlagTC         Flags = 1 << 0
	FlagProposal   Flags = 1 << 1
	FlagLearning   Flags = 1 << 4
	FlagForwarding Flags = 1 << 5
	FlagAgreement  Flags = 1 << 6
	FlagTCAck      Flags = 1 << 7
	FlagMaster     Flags = 1 << 7

	flagRoleShift       = 2
	flagRoleMask  Flags = 0x03 << flagRoleShift
)

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// Role decodes the port role field.
func (f Flags) Role() Role { return roleFromWire(uint8(f&flagRoleMask) >> flagRoleShift) }

// WithRole returns f with the port role field replaced.
func (f Flags) WithRole(r Role) Flags {
	return f&^flagRoleMask | Flags(r.wire()<<flagRoleShift)&flagRoleMask
}

func (f Flags) with(x Flags, on bool) Flags {
	if on {
		return f | x
	}
	return f &^ x
}

// -------------------------------------------------------------------------
// BPDU: 802.1Q-2011 Section 14.6
// -------------------------------------------------------------------------

// MSTIMessage is one MSTI Configuration Message (802.1Q-2011 Section 14.6.1).
type MSTIMessage struct {
	Flags        Flags
	RegionalRoot BridgeID
	IntPathCost  uint32
	// BridgePriority holds the four priority bits of the transmitting
	// bridge in the high nibble.
	BridgePriority uint8
	// PortPriority holds the four priority bits of the transmitting port
	// in the high nibble.
	PortPriority  uint8
	RemainingHops uint8
}

// MSTID returns the instance this message belongs to. It is carried in
// the system id extension of the regional root identifier.
func (m *MSTIMessage) MSTID() MSTID { return MSTID(m.RegionalRoot.SystemID) }

// BPDU is a decoded Configuration, TCN, RST or MST BPDU. Time fields are
// whole seconds. Fields that the received type does not carry are zero.
type BPDU struct {
	Version uint8
	Type    BPDUType
	Flags   Flags

	Root         BridgeID
	ExtPathCost  uint32
	RegionalRoot BridgeID
	PortID       PortID

	MessageAge uint16
	MaxAge     uint16
	HelloTime  uint16
	FwdDelay   uint16

	// MST only.
	ConfigID      ConfigID
	IntPathCost   uint32
	BridgeID      BridgeID
	RemainingHops uint8
	MSTI          []MSTIMessage
}

// IsMST reports whether the BPDU carries MST fields.
func (b *BPDU) IsMST() bool {
	return b.Type == TypeRST && b.Version >= VersionMSTP
}

// Size returns the encoded size of b in octets.
func (b *BPDU) Size() int {
	switch {
	case b.Type == TypeTCN:
		return TCNSize
	case b.Type == TypeConfig:
		return ConfigSize
	case b.IsMST():
		return MSTBaseSize + len(b.MSTI)*MSTIMessageSize
	default:
		return RSTSize
	}
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for BPDU validation (802.1Q-2011 Section 14.4).
var (
	// ErrBPDUTooShort indicates fewer octets than the declared type needs.
	ErrBPDUTooShort = errors.New("bpdu too short")

	// ErrBadProtocolID indicates a Protocol Identifier other than zero.
	ErrBadProtocolID = errors.New("bpdu protocol identifier is not zero")

	// ErrBadType indicates an unknown BPDU type or a type that does not
	// match the protocol version.
	ErrBadType = errors.New("bpdu type invalid for version")

	// ErrBadV3Length indicates a Version 3 Length that is not 64 plus a
	// whole number of MSTI Configuration Messages.
	ErrBadV3Length = errors.New("bpdu version 3 length malformed")

	// ErrTooManyMSTI indicates a Version 3 Length implying more than
	// MaxMSTIMessages MSTI Configuration Messages.
	ErrTooManyMSTI = errors.New("bpdu carries more than 64 msti messages")

	// ErrLengthMismatch indicates a Version 3 Length larger than the frame.
	ErrLengthMismatch = errors.New("bpdu declared length exceeds frame")

	// ErrBufTooSmall indicates the caller-provided buffer is too small for
	// MarshalBPDU.
	ErrBufTooSmall = errors.New("buffer too small for bpdu")
)

// unmarshalErrPrefix is the common error prefix for BPDU decoding failures.
const unmarshalErrPrefix = "unmarshal bpdu"

// DropReason maps a validation error to a short metric label.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrBPDUTooShort):
		return "too_short"
	case errors.Is(err, ErrBadProtocolID):
		return "protocol_id"
	case errors.Is(err, ErrBadType):
		return "type"
	case errors.Is(err, ErrBadV3Length):
		return "v3_length"
	case errors.Is(err, ErrTooManyMSTI):
		return "too_many_msti"
	case errors.Is(err, ErrLengthMismatch):
		return "length"
	default:
		return "other"
	}
}

// -------------------------------------------------------------------------
// UnmarshalBPDU: 802.1Q-2011 Section 14.4
// -------------------------------------------------------------------------

// UnmarshalBPDU decodes and validates the BPDU in buf, which starts at the
// Protocol Identifier (the LLC header already stripped). buf may carry
// trailing padding.
//
// Validation follows Section 14.4 and rejects, before any MSTI message is
// read, a Version 3 Length implying more than 64 messages. An MST BPDU
// shorter than MSTBaseSize is decoded as an RST BPDU. b.MSTI is reused
// when it has capacity.
//
// Wire format of the MST BPDU (octet offsets):
//
//	0-1:    Protocol Identifier
//	2:      Protocol Version Identifier
//	3:      BPDU Type
//	4:      CIST Flags
//	5-12:   CIST Root Identifier
//	13-16:  CIST External Root Path Cost
//	17-24:  CIST Regional Root Identifier
//	25-26:  CIST Port Identifier
//	27-34:  Message Age, Max Age, Hello Time, Forward Delay
//	35:     Version 1 Length
//	36-37:  Version 3 Length
//	38-88:  MST Configuration Identifier
//	89-92:  CIST Internal Root Path Cost
//	93-100: CIST Bridge Identifier
//	101:    CIST Remaining Hops
//	102+:   MSTI Configuration Messages, 16 octets each
func UnmarshalBPDU(buf []byte, b *BPDU) error {
	if len(buf) < TCNSize {
		return fmt.Errorf("%s: received %d bytes, minimum %d: %w",
			unmarshalErrPrefix, len(buf), TCNSize, ErrBPDUTooShort)
	}
	if id := binary.BigEndian.Uint16(buf[0:2]); id != 0 {
		return fmt.Errorf("%s: protocol id %#04x: %w", unmarshalErrPrefix, id, ErrBadProtocolID)
	}

	*b = BPDU{MSTI: b.MSTI[:0]}
	b.Version = buf[2]
	b.Type = BPDUType(buf[3])

	switch b.Type {
	case TypeTCN:
		return nil
	case TypeConfig:
		if len(buf) < ConfigSize {
			return fmt.Errorf("%s: config bpdu %d bytes, minimum %d: %w",
				unmarshalErrPrefix, len(buf), ConfigSize, ErrBPDUTooShort)
		}
		decodeCommon(buf, b)
		return nil
	case TypeRST:
		if b.Version < VersionRSTP {
			return fmt.Errorf("%s: rst type with version %d: %w", unmarshalErrPrefix, b.Version, ErrBadType)
		}
		if len(buf) < RSTSize {
			return fmt.Errorf("%s: rst bpdu %d bytes, minimum %d: %w",
				unmarshalErrPrefix, len(buf), RSTSize, ErrBPDUTooShort)
		}
		decodeCommon(buf, b)
		if b.Version < VersionMSTP {
			return nil
		}
		if len(buf) < MSTBaseSize {
			// Section 14.4 c): too short for MST, treated as RST.
			b.Version = VersionRSTP
			return nil
		}
		return decodeMST(buf, b)
	default:
		return fmt.Errorf("%s: type %#02x: %w", unmarshalErrPrefix, uint8(b.Type), ErrBadType)
	}
}

func decodeCommon(buf []byte, b *BPDU) {
	b.Flags = Flags(buf[4])
	b.Root = readBridgeID(buf[5:13])
	b.ExtPathCost = binary.BigEndian.Uint32(buf[13:17])
	b.RegionalRoot = readBridgeID(buf[17:25])
	b.PortID = PortID(binary.BigEndian.Uint16(buf[25:27]))
	b.MessageAge = binary.BigEndian.Uint16(buf[27:29]) >> 8
	b.MaxAge = binary.BigEndian.Uint16(buf[29:31]) >> 8
	b.HelloTime = binary.BigEndian.Uint16(buf[31:33]) >> 8
	b.FwdDelay = binary.BigEndian.Uint16(buf[33:35]) >> 8
	if b.Type == TypeConfig {
		// Only the TC and TC Ack bits are defined in a Configuration BPDU.
		b.Flags &= FlagTC | FlagTCAck
	}
}

func decodeMST(buf []byte, b *BPDU) error {
	v3 := int(binary.BigEndian.Uint16(buf[36:38]))
	if v3 < v3BaseLength || (v3-v3BaseLength)%MSTIMessageSize != 0 {
		return fmt.Errorf("%s: version 3 length %d: %w", unmarshalErrPrefix, v3, ErrBadV3Length)
	}
	n := (v3 - v3BaseLength) / MSTIMessageSize
	if n > MaxMSTIMessages {
		return fmt.Errorf("%s: %d msti messages, maximum %d: %w",
			unmarshalErrPrefix, n, MaxMSTIMessages, ErrTooManyMSTI)
	}
	if need := MSTBaseSize + n*MSTIMessageSize; len(buf) < need {
		return fmt.Errorf("%s: version 3 length needs %d bytes, frame has %d: %w",
			unmarshalErrPrefix, need, len(buf), ErrLengthMismatch)
	}

	b.ConfigID = readConfigID(buf[38:89])
	b.IntPathCost = binary.BigEndian.Uint32(buf[89:93])
	b.BridgeID = readBridgeID(buf[93:101])
	b.RemainingHops = buf[101]

	for i := range n {
		off := MSTBaseSize + i*MSTIMessageSize
		m := buf[off : off+MSTIMessageSize]
		b.MSTI = append(b.MSTI, MSTIMessage{
			Flags:          Flags(m[0]),
			RegionalRoot:   readBridgeID(m[1:9]),
			IntPathCost:    binary.BigEndian.Uint32(m[9:13]),
			BridgePriority: m[13] & 0xF0,
			PortPriority:   m[14] & 0xF0,
			RemainingHops:  m[15],
		})
	}
	return nil
}

// -------------------------------------------------------------------------
// MarshalBPDU
// -------------------------------------------------------------------------

// MarshalBPDU encodes b into buf and returns the number of octets written.
// buf must hold b.Size() octets; BufPool buffers always do.
func MarshalBPDU(b *BPDU, buf []byte) (int, error) {
	if len(b.MSTI) > MaxMSTIMessages {
		return 0, fmt.Errorf("marshal bpdu: %d msti messages: %w", len(b.MSTI), ErrTooManyMSTI)
	}
	size := b.Size()
	if len(buf) < size {
		return 0, fmt.Errorf("marshal bpdu: need %d bytes, got %d: %w", size, len(buf), ErrBufTooSmall)
	}
	clear(buf[:size])

	binary.BigEndian.PutUint16(buf[0:2], 0)
	buf[2] = b.Version
	buf[3] = uint8(b.Type)
	if b.Type == TypeTCN {
		return size, nil
	}

	buf[4] = uint8(b.Flags)
	putBridgeID(buf[5:13], b.Root)
	binary.BigEndian.PutUint32(buf[13:17], b.ExtPathCost)
	putBridgeID(buf[17:25], b.RegionalRoot)
	binary.BigEndian.PutUint16(buf[25:27], uint16(b.PortID))
	binary.BigEndian.PutUint16(buf[27:29], b.MessageAge<<8)
	binary.BigEndian.PutUint16(buf[29:31], b.MaxAge<<8)
	binary.BigEndian.PutUint16(buf[31:33], b.HelloTime<<8)
	binary.BigEndian.PutUint16(buf[33:35], b.FwdDelay<<8)
	if b.Type == TypeConfig {
		return size, nil
	}

	buf[35] = 0 // Version 1 Length
	if !b.IsMST() {
		return size, nil
	}

	binary.BigEndian.PutUint16(buf[36:38], uint16(v3BaseLength+len(b.MSTI)*MSTIMessageSize))
	putConfigID(buf[38:89], b.ConfigID)
	binary.BigEndian.PutUint32(buf[89:93], b.IntPathCost)
	putBridgeID(buf[93:101], b.BridgeID)
	buf[101] = b.RemainingHops

	for i := range b.MSTI {
		m := &b.MSTI[i]
		off := MSTBaseSize + i*MSTIMessageSize
		out := buf[off : off+MSTIMessageSize]
		out[0] = uint8(m.Flags)
		putBridgeID(out[1:9], m.RegionalRoot)
		binary.BigEndian.PutUint32(out[9:13], m.IntPathCost)
		out[13] = m.BridgePriority & 0xF0
		out[14] = m.PortPriority & 0xF0
		out[15] = m.RemainingHops
	}
	return size, nil
}

// -------------------------------------------------------------------------
// BufPool: sync.Pool for BPDU encode buffers
// -------------------------------------------------------------------------

// BufPool provides MaxBPDUSize buffers for BPDU encoding. The pool stores
// *[]byte to avoid an interface allocation on Get and Put.
var BufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxBPDUSize)
		return &buf
	},
}
