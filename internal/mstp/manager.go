package mstp

import (
	"fmt"
	"log/slog"
	"slices"
)

// -------------------------------------------------------------------------
// Administrative Operations
// -------------------------------------------------------------------------

// refresh forces role selection on t; ports whose designated information
// changes get updtInfo and retransmit.
func (b *Bridge) refresh(t *Tree) {
	t.reselect = true
	b.prsGate(t)
}

func (b *Bridge) refreshAll() {
	b.refresh(b.cistTree())
	b.mstiTrees(b.refresh)
}

// restart re-initializes every enabled port. It is used when the region
// identity or protocol version changes.
func (b *Bridge) restart() {
	b.logger.Info("protocol restart")
	for _, p := range b.portOrder {
		if p.enabled {
			b.disablePort(p)
			b.enablePort(p)
		}
	}
}

// propagateTimes copies the bridge parameters into every tree's bridge
// times.
func (b *Bridge) propagateTimes() {
	b.allTrees(func(t *Tree) {
		t.bridgeTimes = b.bridgeTimes(t.isCIST())
	})
}

func (b *Bridge) port(num PortNum) (*Port, error) {
	p, ok := b.ports[num]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", num, ErrPortNotFound)
	}
	return p, nil
}

func (b *Bridge) lookupTree(mstid MSTID) (*Tree, error) {
	if mstid != CISTID && !mstid.Valid() {
		return nil, fmt.Errorf("mstid %d: %w", mstid, ErrInvalidMSTID)
	}
	t := b.tree(mstid)
	if t == nil {
		return nil, fmt.Errorf("mstid %d: %w", mstid, ErrInstanceNotFound)
	}
	return t, nil
}

// SetRegion changes the MST configuration name and revision and restarts
// the protocol.
func (b *Bridge) SetRegion(name string, revision uint16) error {
	if len(name) > ConfigNameSize {
		return fmt.Errorf("region name longer than %d bytes: %w", ConfigNameSize, ErrInvalidParameter)
	}
	if name == b.cfg.RegionName && revision == b.cfg.Revision {
		return nil
	}
	b.cfg.RegionName = name
	b.cfg.Revision = revision
	b.updateConfigID()
	b.logger.Info("region changed",
		slog.String("name", name),
		slog.Int("revision", int(revision)),
		slog.String("digest", b.configID.DigestString()),
	)
	b.restart()
	return nil
}

// SetForceVersion changes the protocol version and restarts the protocol.
func (b *Bridge) SetForceVersion(v ForceVersion) error {
	if v != ForceSTP && v != ForceRSTP && v != ForceMSTP {
		return fmt.Errorf("force version %d: %w", v, ErrInvalidParameter)
	}
	if v == b.cfg.ForceVersion {
		return nil
	}
	b.cfg.ForceVersion = v
	b.restart()
	return nil
}

// SetBridgeTimes changes hello time, max age and forward delay together
// since they are validated as a group.
func (b *Bridge) SetBridgeTimes(hello, maxAge, fwdDelay uint16) error {
	if err := validateTimes(hello, maxAge, fwdDelay); err != nil {
		return err
	}
	b.cfg.HelloTime = hello
	b.cfg.MaxAge = maxAge
	b.cfg.FwdDelay = fwdDelay
	b.propagateTimes()
	b.refreshAll()
	return nil
}

// SetMaxHops changes the MSTI and CIST internal hop limit.
func (b *Bridge) SetMaxHops(hops uint8) error {
	if hops < 1 || hops > 40 {
		return fmt.Errorf("max hops %d not in 1..40: %w", hops, ErrInvalidParameter)
	}
	b.cfg.MaxHops = hops
	b.propagateTimes()
	b.refreshAll()
	return nil
}

// SetTxHoldCount changes the transmit rate limit.
func (b *Bridge) SetTxHoldCount(n uint16) error {
	if n < 1 || n > 10 {
		return fmt.Errorf("tx hold count %d not in 1..10: %w", n, ErrInvalidParameter)
	}
	b.cfg.TxHoldCount = n
	return nil
}

// SetPriority changes the bridge priority in one tree.
func (b *Bridge) SetPriority(mstid MSTID, priority uint16) error {
	if err := validatePriority(priority); err != nil {
		return err
	}
	t, err := b.lookupTree(mstid)
	if err != nil {
		return err
	}
	if mstid == CISTID {
		b.cfg.Priority = priority
	}
	b.setTreePriority(t, priority)
	b.refresh(t)
	return nil
}

// SetPortAdminEdge changes the administrative edge setting of a port.
func (b *Bridge) SetPortAdminEdge(num PortNum, edge bool) error {
	p, err := b.port(num)
	if err != nil {
		return err
	}
	p.adminEdge = edge
	p.operEdge = edge
	b.refreshAll()
	return nil
}

// SetPortLinkType changes the point-to-point setting of a port.
func (b *Bridge) SetPortLinkType(num PortNum, lt LinkType) error {
	p, err := b.port(num)
	if err != nil {
		return err
	}
	p.linkType = lt
	p.operPt2Pt = lt != LinkShared
	return nil
}

// SetPortRootGuard enables or disables root guard (restrictedRole).
func (b *Bridge) SetPortRootGuard(num PortNum, on bool) error {
	p, err := b.port(num)
	if err != nil {
		return err
	}
	p.restrictedRole = on
	b.refreshAll()
	return nil
}

// SetPortPathCost changes the path cost of a port in one tree. For the
// CIST it sets both the internal and the external cost.
func (b *Bridge) SetPortPathCost(mstid MSTID, num PortNum, cost uint32) error {
	if err := validatePathCost(cost); err != nil {
		return err
	}
	tp, err := b.lookupTreePort(mstid, num)
	if err != nil {
		return err
	}
	tp.intPathCost = cost
	if tp.isCIST() {
		tp.extPathCost = cost
		tp.port.pathCost = cost
	}
	tp.selected = false
	b.refresh(tp.tree)
	return nil
}

// SetPortPriority changes the port priority in one tree.
func (b *Bridge) SetPortPriority(mstid MSTID, num PortNum, priority uint8) error {
	if err := validatePortPriority(priority); err != nil {
		return err
	}
	tp, err := b.lookupTreePort(mstid, num)
	if err != nil {
		return err
	}
	tp.portID = NewPortID(priority, num)
	if tp.isCIST() {
		tp.port.priority = priority
	}
	tp.selected = false
	b.refresh(tp.tree)
	return nil
}

func (b *Bridge) lookupTreePort(mstid MSTID, num PortNum) (*TreePort, error) {
	t, err := b.lookupTree(mstid)
	if err != nil {
		return nil, err
	}
	p, err := b.port(num)
	if err != nil {
		return nil, err
	}
	tp := p.trees[t.index]
	if tp == nil {
		return nil, fmt.Errorf("port %d in mstid %d: %w", num, mstid, ErrPortNotFound)
	}
	return tp, nil
}

// ClearStats resets the BPDU counters of port num, or of every port when
// num is zero.
func (b *Bridge) ClearStats(num PortNum) error {
	if num == 0 {
		for _, p := range b.portOrder {
			p.stats = PortStats{}
		}
		return nil
	}
	p, err := b.port(num)
	if err != nil {
		return err
	}
	p.stats = PortStats{}
	return nil
}

// -------------------------------------------------------------------------
// VLAN to MSTI Mapping: 802.1Q-2011 Section 8.9
// -------------------------------------------------------------------------

// SetInstanceVLANs maps exactly vlans to mstid. The instance is created on
// first use and freed when its set becomes empty; VLANs it releases
// return to the CIST. The region digest changes, so the protocol restarts.
func (b *Bridge) SetInstanceVLANs(mstid MSTID, vlans VLANSet) error {
	if !mstid.Valid() {
		return fmt.Errorf("set vlans of mstid %d: %w", mstid, ErrInvalidMSTID)
	}
	vlans.Remove(0)
	vlans.Remove(MaxVLAN + 1)

	t := b.tree(mstid)
	if t == nil {
		if vlans.IsEmpty() {
			return nil
		}
		var err error
		if t, err = b.allocTree(mstid); err != nil {
			return err
		}
	}

	cist := b.cistTree()
	var donors []*Tree
	for vid := uint16(1); vid <= MaxVLAN; vid++ {
		cur := b.vlanTable[vid]
		switch {
		case vlans.Has(vid) && cur != mstid:
			if old := b.tree(cur); old != nil {
				old.vlans.Remove(vid)
				old.dirty |= TreeDirtyVLANs
				if cur != CISTID && !slices.Contains(donors, old) {
					donors = append(donors, old)
				}
			}
			b.vlanTable[vid] = mstid
			t.vlans.Add(vid)
		case !vlans.Has(vid) && cur == mstid:
			b.vlanTable[vid] = CISTID
			t.vlans.Remove(vid)
			cist.vlans.Add(vid)
			cist.dirty |= TreeDirtyVLANs
		}
	}
	t.dirty |= TreeDirtyVLANs

	if t.vlans.IsEmpty() {
		b.freeTree(t)
	}
	// An MSTI that gave away its last VLAN is freed as well.
	for _, old := range donors {
		if old.vlans.IsEmpty() {
			b.freeTree(old)
		}
	}
	b.updateConfigID()
	b.logger.Info("instance vlans changed",
		slog.Int("mstid", int(mstid)),
		slog.String("vlans", vlans.String()),
		slog.String("digest", b.configID.DigestString()),
	)
	b.restart()
	return nil
}

// allocTree takes the lowest free arena slot for mstid.
func (b *Bridge) allocTree(mstid MSTID) (*Tree, error) {
	for i := CISTIndex + 1; int(i) < len(b.trees); i++ {
		if b.trees[i] != nil {
			continue
		}
		t := b.newTree(i, mstid)
		b.trees[i] = t
		b.slots[mstid] = i
		for _, p := range b.portOrder {
			b.attach(p, t)
		}
		b.prsInit(t)
		b.logger.Info("instance created", slog.Int("mstid", int(mstid)), slog.Int("slot", int(i)))
		return t, nil
	}
	return nil, fmt.Errorf("create mstid %d: %w", mstid, ErrNoFreeInstance)
}

func (b *Bridge) freeTree(t *Tree) {
	for _, tp := range t.members {
		tp.port.trees[t.index] = nil
		b.metrics.DeletePort(t.mstid, tp.port.name)
	}
	t.members = nil
	b.trees[t.index] = nil
	b.slots[t.mstid] = InvalidIndex
	b.logger.Info("instance deleted", slog.Int("mstid", int(t.mstid)))
}

// RemoveInstance unmaps every VLAN of mstid and frees the instance.
func (b *Bridge) RemoveInstance(mstid MSTID) error {
	if _, err := b.lookupTree(mstid); err != nil {
		return err
	}
	return b.SetInstanceVLANs(mstid, VLANSet{})
}
