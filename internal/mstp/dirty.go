package mstp

// DirtyFlags marks fields of a (tree, port) pair modified since the last
// sweep.
type DirtyFlags uint8

const (
	DirtyRole DirtyFlags = 1 << iota
	DirtyState
	DirtyRootGuard
	DirtyPortPriority
	// DirtyDisputed is set when a learning-flag dispute is recorded and
	// stays set until the next sweep, even if PRT clears the dispute.
	DirtyDisputed
)

// TreeDirty marks tree-wide fields modified since the last sweep.
type TreeDirty uint8

const (
	TreeDirtyRoot TreeDirty = 1 << iota
	TreeDirtyVLANs
	TreeDirtyTopologyChange
	// TreeDirtyPorts is set while any member has DirtyFlags pending.
	TreeDirtyPorts
)

// Change is one entry produced by SweepDirty.
type Change struct {
	MSTID MSTID
	// Port is zero for a tree-wide change.
	Port  PortNum
	Tree  TreeDirty
	Flags DirtyFlags
}

// SweepDirty reports and clears every pending dirty bit, trees in slot
// order and ports in number order.
func (b *Bridge) SweepDirty(fn func(Change)) {
	for _, t := range b.trees {
		if t == nil || t.dirty == 0 {
			continue
		}
		if td := t.dirty &^ TreeDirtyPorts; td != 0 {
			fn(Change{MSTID: t.mstid, Tree: td})
		}
		if t.dirty&TreeDirtyPorts != 0 {
			for _, tp := range t.members {
				if tp.dirty != 0 {
					fn(Change{MSTID: t.mstid, Port: tp.port.num, Flags: tp.dirty})
					tp.dirty = 0
				}
			}
		}
		t.dirty = 0
	}
}

// report pushes gauge values for pending changes to the metrics reporter.
func (b *Bridge) report() {
	b.SweepDirty(func(c Change) {
		if c.Port == 0 {
			return
		}
		tp := b.treePort(c.MSTID, c.Port)
		if tp == nil {
			return
		}
		if c.Flags&DirtyRole != 0 {
			b.metrics.SetPortRole(c.MSTID, tp.port.name, tp.role)
		}
		if c.Flags&DirtyState != 0 {
			b.metrics.SetPortState(c.MSTID, tp.port.name, tp.state)
		}
		if c.Flags&DirtyRootGuard != 0 {
			b.metrics.SetRootGuardInconsistent(c.MSTID, tp.port.name, tp.rootGuarded)
		}
		if c.Flags&DirtyDisputed != 0 {
			b.metrics.IncDisputes(c.MSTID, tp.port.name)
		}
	})
}
