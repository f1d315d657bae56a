package mstp

import (
	"cmp"
	"slices"
)

// BridgeSnapshot is a read-only view of bridge-wide state.
type BridgeSnapshot struct {
	Config          BridgeConfig
	ConfigID        ConfigID
	BridgeID        BridgeID
	Root            Vector
	RootPort        PortNum
	RootTimes       Times
	Instances       []MSTID
	PortCount       int
	TopologyChanges uint64
}

// TreeSnapshot is a read-only view of one tree.
type TreeSnapshot struct {
	MSTID           MSTID
	Slot            Index
	BridgeID        BridgeID
	Root            Vector
	RootPort        PortNum
	RootTimes       Times
	VLANs           VLANSet
	TopologyChanges uint64
	Ports           []TreePortSnapshot
}

// TreePortSnapshot is a read-only view of one port in one tree.
type TreePortSnapshot struct {
	MSTID              MSTID
	Port               PortNum
	PortName           string
	PortID             PortID
	Role               Role
	SelectedRole       Role
	State              PortState
	InfoIs             InfoIs
	PortPriority       Vector
	DesignatedPriority Vector
	PortTimes          Times
	IntPathCost        uint32
	ExtPathCost        uint32
	Learning           bool
	Forwarding         bool
	Agreed             bool
	Proposing          bool
	Disputed           bool
	RootGuarded        bool
	Master             bool
	TcWhile            uint16
	ForwardTransitions uint64
}

// PortSnapshot is a read-only view of one port across trees.
type PortSnapshot struct {
	Num       PortNum
	Name      string
	Enabled   bool
	AdminEdge bool
	OperEdge  bool
	LinkType  LinkType
	OperPt2Pt bool
	RootGuard bool
	Boundary  bool
	SendRSTP  bool
	Stats     PortStats
	Trees     []TreePortSnapshot
}

// Snapshot returns the bridge-wide view.
func (b *Bridge) Snapshot() BridgeSnapshot {
	c := b.cistTree()
	s := BridgeSnapshot{
		Config:          b.cfg,
		ConfigID:        b.configID,
		BridgeID:        c.bridgeID,
		Root:            c.rootPriority,
		RootPort:        c.rootPort(),
		RootTimes:       c.rootTimes,
		PortCount:       len(b.portOrder),
		TopologyChanges: c.topologyChanges,
	}
	s.Instances = b.instanceIDs()
	return s
}

func (b *Bridge) instanceIDs() []MSTID {
	var ids []MSTID
	b.mstiTrees(func(t *Tree) { ids = append(ids, t.mstid) })
	slices.Sort(ids)
	return ids
}

// Tree returns the view of mstid, zero for the CIST.
func (b *Bridge) Tree(mstid MSTID) (TreeSnapshot, error) {
	t, err := b.lookupTree(mstid)
	if err != nil {
		return TreeSnapshot{}, err
	}
	return t.snapshot(), nil
}

// Trees returns the CIST followed by every MSTI in MSTID order.
func (b *Bridge) Trees() []TreeSnapshot {
	out := []TreeSnapshot{b.cistTree().snapshot()}
	for _, id := range b.instanceIDs() {
		out = append(out, b.tree(id).snapshot())
	}
	return out
}

func (t *Tree) snapshot() TreeSnapshot {
	s := TreeSnapshot{
		MSTID:           t.mstid,
		Slot:            t.index,
		BridgeID:        t.bridgeID,
		Root:            t.rootPriority,
		RootPort:        t.rootPort(),
		RootTimes:       t.rootTimes,
		VLANs:           t.vlans,
		TopologyChanges: t.topologyChanges,
	}
	for _, tp := range t.members {
		s.Ports = append(s.Ports, tp.snapshot())
	}
	return s
}

func (tp *TreePort) snapshot() TreePortSnapshot {
	return TreePortSnapshot{
		MSTID:              tp.tree.mstid,
		Port:               tp.port.num,
		PortName:           tp.port.name,
		PortID:             tp.portID,
		Role:               tp.role,
		SelectedRole:       tp.selectedRole,
		State:              tp.state,
		InfoIs:             tp.infoIs,
		PortPriority:       tp.portPriority,
		DesignatedPriority: tp.designatedPriority,
		PortTimes:          tp.portTimes,
		IntPathCost:        tp.intPathCost,
		ExtPathCost:        tp.extPathCost,
		Learning:           tp.learning,
		Forwarding:         tp.forwarding,
		Agreed:             tp.agreed,
		Proposing:          tp.proposing,
		Disputed:           tp.disputed,
		RootGuarded:        tp.rootGuarded,
		Master:             tp.master,
		TcWhile:            tp.tcWhile,
		ForwardTransitions: tp.forwardTransitions,
	}
}

// Port returns the view of port num.
func (b *Bridge) Port(num PortNum) (PortSnapshot, error) {
	p, err := b.port(num)
	if err != nil {
		return PortSnapshot{}, err
	}
	return p.snapshot(), nil
}

// Ports returns every port in number order.
func (b *Bridge) Ports() []PortSnapshot {
	out := make([]PortSnapshot, 0, len(b.portOrder))
	for _, p := range b.portOrder {
		out = append(out, p.snapshot())
	}
	return out
}

func (p *Port) snapshot() PortSnapshot {
	s := PortSnapshot{
		Num:       p.num,
		Name:      p.name,
		Enabled:   p.enabled,
		AdminEdge: p.adminEdge,
		OperEdge:  p.operEdge,
		LinkType:  p.linkType,
		OperPt2Pt: p.operPt2Pt,
		RootGuard: p.restrictedRole,
		Boundary:  !p.rcvdInternal,
		SendRSTP:  p.sendRSTP,
		Stats:     p.stats,
	}
	for tp := range p.all() {
		s.Trees = append(s.Trees, tp.snapshot())
	}
	slices.SortFunc(s.Trees, func(x, y TreePortSnapshot) int { return cmp.Compare(x.MSTID, y.MSTID) })
	return s
}

// PortByName returns the number of the port called name.
func (b *Bridge) PortByName(name string) (PortNum, bool) {
	for _, p := range b.portOrder {
		if p.name == name {
			return p.num, true
		}
	}
	return 0, false
}
