package mstp

import (
	"fmt"
	"strings"
)

// unknownFmt is the format string for unrecognized enum values.
const unknownFmt = "Unknown(%d)"

func enumString(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf(unknownFmt, v)
}

func enumParse[T ~uint8](names []string, s string) (T, bool) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return T(i), true
		}
	}
	return 0, false
}

// -------------------------------------------------------------------------
// Port Roles: 802.1Q-2011 Section 13.12
// -------------------------------------------------------------------------

// Role is the role of a port in one spanning tree.
type Role uint8

const (
	RoleDisabled Role = iota
	RoleRoot
	RoleDesignated
	RoleAlternate
	RoleBackup
	RoleMaster
)

var roleNames = []string{"Disabled", "Root", "Designated", "Alternate", "Backup", "Master"}

// String returns the role name.
func (r Role) String() string { return enumString(roleNames, uint8(r)) }

// Port role encoding in the BPDU flags octet (802.1Q-2011 Section 14.2.1).
// Alternate and Backup share a code; Master shares the Unknown code.
const (
	wireRoleMaster     uint8 = 0
	wireRoleAlternate  uint8 = 1
	wireRoleRoot       uint8 = 2
	wireRoleDesignated uint8 = 3
)

func (r Role) wire() uint8 {
	switch r {
	case RoleRoot:
		return wireRoleRoot
	case RoleDesignated:
		return wireRoleDesignated
	case RoleAlternate, RoleBackup:
		return wireRoleAlternate
	default:
		return wireRoleMaster
	}
}

func roleFromWire(v uint8) Role {
	switch v & 0x03 {
	case wireRoleRoot:
		return RoleRoot
	case wireRoleDesignated:
		return RoleDesignated
	case wireRoleAlternate:
		return RoleAlternate
	default:
		return RoleMaster
	}
}

// InfoIs records the origin of the port priority vector
// (802.1Q-2011 Section 13.24.6).
type InfoIs uint8

const (
	InfoDisabled InfoIs = iota
	InfoAged
	InfoMine
	InfoReceived
)

var infoIsNames = []string{"Disabled", "Aged", "Mine", "Received"}

func (i InfoIs) String() string { return enumString(infoIsNames, uint8(i)) }

// RcvdInfo is the outcome of classifying a received message against the
// port priority vector (802.1Q-2011 Section 13.27.12).
type RcvdInfo uint8

const (
	OtherInfo RcvdInfo = iota
	SuperiorDesignatedInfo
	RepeatedDesignatedInfo
	InferiorDesignatedInfo
	RootInfo
)

var rcvdInfoNames = []string{"Other", "SuperiorDesignated", "RepeatedDesignated", "InferiorDesignated", "Root"}

func (r RcvdInfo) String() string { return enumString(rcvdInfoNames, uint8(r)) }

// PortState is the forwarding state applied to the data plane for one
// (tree, port) pair.
type PortState uint8

const (
	StateDisabled PortState = iota
	StateDiscarding
	StateLearning
	StateForwarding
)

var portStateNames = []string{"Disabled", "Discarding", "Learning", "Forwarding"}

func (s PortState) String() string { return enumString(portStateNames, uint8(s)) }

// ForceVersion selects the protocol version the bridge speaks
// (802.1Q-2011 Section 13.7.2).
type ForceVersion uint8

const (
	ForceSTP  ForceVersion = 0
	ForceRSTP ForceVersion = 2
	ForceMSTP ForceVersion = 3
)

// String returns the lowercase protocol name.
func (v ForceVersion) String() string {
	switch v {
	case ForceSTP:
		return "stp"
	case ForceRSTP:
		return "rstp"
	case ForceMSTP:
		return "mstp"
	default:
		return fmt.Sprintf(unknownFmt, uint8(v))
	}
}

// ParseForceVersion maps "stp", "rstp" or "mstp" to a ForceVersion.
func ParseForceVersion(s string) (ForceVersion, error) {
	switch strings.ToLower(s) {
	case "stp":
		return ForceSTP, nil
	case "rstp":
		return ForceRSTP, nil
	case "mstp", "":
		return ForceMSTP, nil
	default:
		return 0, fmt.Errorf("force version %q: %w", s, ErrInvalidParameter)
	}
}

// LinkType is the administrative point-to-point setting of a port.
type LinkType uint8

const (
	LinkAuto LinkType = iota
	LinkPointToPoint
	LinkShared
)

var linkTypeNames = []string{"auto", "point_to_point", "shared"}

func (l LinkType) String() string { return enumString(linkTypeNames, uint8(l)) }

// ParseLinkType maps "auto", "point_to_point" or "shared" to a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	if s == "" {
		return LinkAuto, nil
	}
	l, ok := enumParse[LinkType](linkTypeNames, s)
	if !ok {
		return 0, fmt.Errorf("link type %q: %w", s, ErrInvalidParameter)
	}
	return l, nil
}

// -------------------------------------------------------------------------
// Machine States: 802.1Q-2011 Section 13.28 - 13.36
// -------------------------------------------------------------------------

type pimState uint8

const (
	pimDisabled pimState = iota
	pimAged
	pimUpdate
	pimCurrent
	pimReceive
	pimSuperiorDesignated
	pimRepeatedDesignated
	pimInferiorDesignated
	pimRoot
	pimOther
)

var pimStateNames = []string{
	"Disabled", "Aged", "Update", "Current", "Receive",
	"SuperiorDesignated", "RepeatedDesignated", "InferiorDesignated", "Root", "Other",
}

func (s pimState) String() string { return enumString(pimStateNames, uint8(s)) }

type prsState uint8

const (
	prsInitTree prsState = iota
	prsRoleSelection
)

var prsStateNames = []string{"InitTree", "RoleSelection"}

func (s prsState) String() string { return enumString(prsStateNames, uint8(s)) }

type prtState uint8

const (
	prtInitPort prtState = iota
	prtBlockPort
	prtBlockedPort
	prtBackupPort
	prtProposed
	prtProposing
	prtAgrees
	prtSynced
	prtReroot
	prtForward
	prtLearn
	prtDiscard
	prtRerooted
	prtRoot
	prtActivePort
)

var prtStateNames = []string{
	"InitPort", "BlockPort", "BlockedPort", "BackupPort", "Proposed", "Proposing",
	"Agrees", "Synced", "Reroot", "Forward", "Learn", "Discard", "Rerooted", "Root", "ActivePort",
}

func (s prtState) String() string { return enumString(prtStateNames, uint8(s)) }

type pstState uint8

const (
	pstDiscarding pstState = iota
	pstLearning
	pstForwarding
)

var pstStateNames = []string{"Discarding", "Learning", "Forwarding"}

func (s pstState) String() string { return enumString(pstStateNames, uint8(s)) }

type tcmState uint8

const (
	tcmInactive tcmState = iota
	tcmLearning
	tcmDetected
	tcmNotifiedTCN
	tcmNotifiedTC
	tcmPropagating
	tcmAcknowledged
	tcmActive
)

var tcmStateNames = []string{
	"Inactive", "Learning", "Detected", "NotifiedTCN", "NotifiedTC", "Propagating", "Acknowledged", "Active",
}

func (s tcmState) String() string { return enumString(tcmStateNames, uint8(s)) }

type ppmState uint8

const (
	ppmCheckingRSTP ppmState = iota
	ppmSelectingSTP
	ppmSensing
)

var ppmStateNames = []string{"CheckingRSTP", "SelectingSTP", "Sensing"}

func (s ppmState) String() string { return enumString(ppmStateNames, uint8(s)) }

type prxState uint8

const (
	prxDiscard prxState = iota
	prxReceive
)

var prxStateNames = []string{"Discard", "Receive"}

func (s prxState) String() string { return enumString(prxStateNames, uint8(s)) }

type ptxState uint8

const (
	ptxInit ptxState = iota
	ptxIdle
	ptxPeriodic
	ptxConfig
	ptxTCN
	ptxRSTP
)

var ptxStateNames = []string{"TransmitInit", "Idle", "TransmitPeriodic", "TransmitConfig", "TransmitTcn", "TransmitRstp"}

func (s ptxState) String() string { return enumString(ptxStateNames, uint8(s)) }
