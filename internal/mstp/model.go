package mstp

import (
	"iter"
	"slices"
)

// -------------------------------------------------------------------------
// Tree Arena
// -------------------------------------------------------------------------

// Index addresses a tree slot in the bridge arena. It is independent of
// the protocol-visible MSTID.
type Index uint8

const (
	// CISTIndex is the slot of the CIST.
	CISTIndex Index = 0

	// MaxInstances is the number of MSTI slots (802.1Q-2011 Section 13.4).
	MaxInstances = 64

	numTrees = MaxInstances + 1

	// InvalidIndex marks an MSTID with no allocated slot.
	InvalidIndex Index = 0xFF
)

// Default port path cost for a port of unknown speed (802.1Q-2011
// Table 13-4, 1 Gb/s).
const DefaultPathCost = 20000

// Tree is the bridge-wide record of one spanning tree: the CIST or an MSTI.
type Tree struct {
	b     *Bridge
	index Index
	mstid MSTID
	rules treeRules

	bridgeID       BridgeID
	bridgePriority Vector
	bridgeTimes    Times

	rootPriority Vector
	rootPortID   PortID
	rootTimes    Times

	reselect bool
	prs      prsState

	vlans VLANSet

	// members is sorted by port number.
	members []*TreePort

	topologyChanges uint64
	dirty           TreeDirty
}

// MSTID returns the protocol identifier; zero for the CIST.
func (t *Tree) MSTID() MSTID { return t.mstid }

func (t *Tree) isCIST() bool { return t.index == CISTIndex }

// rootPort returns the port number of the root port, zero when this
// bridge is the root of the tree.
func (t *Tree) rootPort() PortNum { return t.rootPortID.Number() }

// enabled yields every member whose port is enabled, in port order.
func (t *Tree) enabled() iter.Seq[*TreePort] {
	return func(yield func(*TreePort) bool) {
		for _, tp := range t.members {
			if tp.port.enabled && !yield(tp) {
				return
			}
		}
	}
}

func (t *Tree) member(num PortNum) *TreePort {
	i, ok := slices.BinarySearchFunc(t.members, num, func(tp *TreePort, n PortNum) int {
		return int(tp.port.num) - int(n)
	})
	if !ok {
		return nil
	}
	return t.members[i]
}

func (t *Tree) addMember(tp *TreePort) {
	i, _ := slices.BinarySearchFunc(t.members, tp.port.num, func(x *TreePort, n PortNum) int {
		return int(x.port.num) - int(n)
	})
	t.members = slices.Insert(t.members, i, tp)
}

func (t *Tree) removeMember(num PortNum) {
	t.members = slices.DeleteFunc(t.members, func(tp *TreePort) bool { return tp.port.num == num })
}

// -------------------------------------------------------------------------
// Port
// -------------------------------------------------------------------------

// PortStats counts BPDUs on one port.
type PortStats struct {
	RxConfig  uint64
	RxTCN     uint64
	RxRST     uint64
	RxMST     uint64
	RxDropped uint64
	TxConfig  uint64
	TxTCN     uint64
	TxRST     uint64
	TxMST     uint64
}

// Port is the per-port record shared by all trees (802.1Q-2011 Section
// 13.25).
type Port struct {
	num  PortNum
	name string

	enabled        bool
	adminEdge      bool
	operEdge       bool
	linkType       LinkType
	operPt2Pt      bool
	restrictedRole bool
	priority       uint8
	pathCost       uint32

	rcvdBpdu     bool
	rcvdRSTP     bool
	rcvdSTP      bool
	rcvdTcAck    bool
	rcvdTcn      bool
	rcvdInternal bool
	infoInternal bool
	sendRSTP     bool
	mcheck       bool
	tcAck        bool
	newInfoCist  bool
	newInfoMsti  bool

	helloWhen   uint16
	mdelayWhile uint16
	txCount     uint16

	ptx ptxState
	ppm ppmState
	prx prxState

	// trees is indexed by arena slot; nil where the port is not a member.
	trees [numTrees]*TreePort

	// bpdu is the frame being processed by the current receive cascade.
	bpdu BPDU

	stats PortStats
}

// Num returns the port number.
func (p *Port) Num() PortNum { return p.num }

// Name returns the interface name.
func (p *Port) Name() string { return p.name }

func (p *Port) cist() *TreePort { return p.trees[CISTIndex] }

// mstis yields the MSTI members of this port in slot order.
func (p *Port) mstis() iter.Seq[*TreePort] {
	return func(yield func(*TreePort) bool) {
		for _, tp := range p.trees[CISTIndex+1:] {
			if tp != nil && !yield(tp) {
				return
			}
		}
	}
}

// all yields the CIST member followed by every MSTI member.
func (p *Port) all() iter.Seq[*TreePort] {
	return func(yield func(*TreePort) bool) {
		for _, tp := range p.trees {
			if tp != nil && !yield(tp) {
				return
			}
		}
	}
}

func (p *Port) hasMSTIs() bool {
	for range p.mstis() {
		return true
	}
	return false
}

// -------------------------------------------------------------------------
// TreePort
// -------------------------------------------------------------------------

// TreePort is the state of one port in one tree (802.1Q-2011 Section
// 13.24).
type TreePort struct {
	port *Port
	tree *Tree

	portID       PortID
	intPathCost  uint32
	extPathCost  uint32
	role         Role
	selectedRole Role
	infoIs       InfoIs
	rcvdInfo     RcvdInfo

	portPriority       Vector
	portTimes          Times
	designatedPriority Vector
	designatedTimes    Times
	msgPriority        Vector
	msgTimes           Times
	msg                Message

	agree         bool
	agreed        bool
	proposing     bool
	proposed      bool
	synced        bool
	sync          bool
	disputed      bool
	reRoot        bool
	rcvdMsg       bool
	selected      bool
	updtInfo      bool
	changedMaster bool
	master        bool
	mastered      bool
	learn         bool
	learning      bool
	forward       bool
	forwarding    bool
	rcvdTc        bool
	tcProp        bool
	fdbFlush      bool

	// rootGuarded is set while root guard keeps this port from
	// becoming Root.
	rootGuarded bool

	rcvdInfoWhile uint16
	tcWhile       uint16
	rrWhile       uint16
	rbWhile       uint16
	fdWhile       uint16

	pim pimState
	prt prtState
	pst pstState
	tcm tcmState

	state              PortState
	forwardTransitions uint64
	dirty              DirtyFlags
}

func (tp *TreePort) isCIST() bool { return tp.tree.isCIST() }

// cist returns the CIST member of the same port.
func (tp *TreePort) cist() *TreePort { return tp.port.cist() }

func (tp *TreePort) setRole(r Role) {
	if tp.role == r {
		return
	}
	old := tp.role
	tp.role = r
	tp.markDirty(DirtyRole)
	tp.tree.b.emitPort(EventRoleChange, tp, old.String(), r.String())
}

// setDisputed records a dispute for the recordDispute procedure.
func (tp *TreePort) setDisputed() {
	tp.agreed = false
	tp.disputed = true
	tp.markDirty(DirtyDisputed)
}

func (tp *TreePort) markDirty(f DirtyFlags) {
	tp.dirty |= f
	tp.tree.dirty |= TreeDirtyPorts
}
