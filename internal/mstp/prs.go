package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Port Role Selection: 802.1Q-2011 Section 13.33
// -------------------------------------------------------------------------

func (b *Bridge) prsInit(t *Tree) {
	t.prs = prsInitTree
	b.prsLoop(t)
}

func (b *Bridge) prsAction(t *Tree) {
	switch t.prs {
	case prsInitTree:
		updtRolesDisabledTree(t)
	case prsRoleSelection:
		t.reselect = false
		if t.isCIST() {
			b.updtRolesCist(t)
		} else {
			b.updtRolesMsti(t)
		}
		setSelectedTree(t)
	}
}

func (b *Bridge) prsLoop(t *Tree) {
	for {
		switch {
		case t.prs == prsInitTree:
			b.prsAction(t)
			t.prs = prsRoleSelection
		case t.reselect:
		default:
			return
		}
		b.prsAction(t)
	}
}

// prsGate runs role selection for t. Selection on the CIST may change the
// boundary roles every MSTI depends on, so it also re-evaluates each MSTI.
func (b *Bridge) prsGate(t *Tree) {
	if t == nil {
		b.logger.Error("prs gate on missing tree record")
		return
	}
	if !b.enter("prs", t.mstid, 0) {
		return
	}
	defer b.leave()

	b.prsLoop(t)
	b.prsSignal(t)
	if t.isCIST() {
		b.mstiTrees(func(m *Tree) {
			b.prsLoop(m)
			b.prsSignal(m)
		})
	}
}

func (b *Bridge) prsSignal(t *Tree) {
	for tp := range t.enabled() {
		if tp.selected || tp.updtInfo || tp.changedMaster {
			b.pimGate(tp)
		}
		if tp.selected || !tp.updtInfo || tp.selectedRole != tp.role {
			b.prtGate(tp)
		}
	}
}

func updtRolesDisabledTree(t *Tree) {
	for tp := range t.enabled() {
		tp.selectedRole = RoleDisabled
	}
}

func setSelectedTree(t *Tree) {
	for tp := range t.enabled() {
		tp.selected = true
	}
}

func setSyncTree(t *Tree) {
	for tp := range t.enabled() {
		tp.sync = true
	}
}

func setReRootTree(t *Tree) {
	for tp := range t.enabled() {
		tp.reRoot = true
	}
}

// allSynced is 13.25.1 evaluated for the calling port.
func allSynced(t *Tree, caller *TreePort) bool {
	for tp := range t.enabled() {
		if !tp.selected || tp.role != tp.selectedRole || tp.updtInfo {
			return false
		}
		switch caller.role {
		case RoleRoot, RoleAlternate:
			if tp != caller && tp.role != RoleRoot && !tp.synced {
				return false
			}
		case RoleDesignated, RoleMaster:
			if tp != caller && !tp.synced {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// reRooted is 13.25.28: no other port still holds a recent root role.
func reRooted(t *Tree, caller *TreePort) bool {
	for tp := range t.enabled() {
		if tp != caller && tp.rrWhile != 0 {
			return false
		}
	}
	return true
}

// -------------------------------------------------------------------------
// updtRolesTree: 802.1Q-2011 Section 13.27.34
// -------------------------------------------------------------------------

// rootCandidate is a port whose root path priority vector is a candidate
// for the root priority vector.
type rootCandidate struct {
	tp   *TreePort
	path Vector
}

// selectRoot returns the best root path among candidates. Restricted-role
// ports never win; those that would have won are flagged by root guard.
func (b *Bridge) selectRoot(t *Tree, candidates []rootCandidate) (Vector, *TreePort) {
	best, bestPort := t.bridgePriority, (*TreePort)(nil)
	for _, c := range candidates {
		if c.tp.port.restrictedRole {
			continue
		}
		if Compare(c.path, best) == Less {
			best, bestPort = c.path, c.tp
		}
	}
	for _, c := range candidates {
		guarded := c.tp.port.restrictedRole && Compare(c.path, best) == Less
		b.setRootGuarded(c.tp, guarded)
	}
	return best, bestPort
}

func (b *Bridge) setRootGuarded(tp *TreePort, guarded bool) {
	if tp.rootGuarded == guarded {
		return
	}
	tp.rootGuarded = guarded
	tp.markDirty(DirtyRootGuard)
	state := "consistent"
	if guarded {
		state = "inconsistent"
		b.logger.Warn("root guard blocked superior information",
			slog.Int("mstid", int(tp.tree.mstid)),
			slog.String("port", tp.port.name),
		)
	}
	b.emitPort(EventRootGuard, tp, "", state)
}

func (b *Bridge) commitRoot(t *Tree, root Vector, rootPort *TreePort) {
	var portID PortID
	if rootPort != nil {
		portID = rootPort.portID
	}
	if root.RegionalRoot != t.rootPriority.RegionalRoot || root.Root != t.rootPriority.Root {
		old := t.rootPriority
		t.dirty |= TreeDirtyRoot
		b.metrics.IncRootChanges(t.mstid)
		b.logger.Info("root changed",
			slog.Int("mstid", int(t.mstid)),
			slog.String("old_root", rootLabel(t, old)),
			slog.String("new_root", rootLabel(t, root)),
		)
		b.emit(Event{Kind: EventRootChange, MSTID: t.mstid, Old: rootLabel(t, old), New: rootLabel(t, root)})
	}
	if portID != t.rootPortID {
		b.logger.Info("root port changed",
			slog.Int("mstid", int(t.mstid)),
			slog.Int("old_port", int(t.rootPortID.Number())),
			slog.Int("new_port", int(portID.Number())),
		)
		t.dirty |= TreeDirtyRoot
	}
	t.rootPriority = root
	t.rootPortID = portID
}

func rootLabel(t *Tree, v Vector) string {
	if t.isCIST() {
		return v.Root.String()
	}
	return v.RegionalRoot.String()
}

func (b *Bridge) updtRolesCist(t *Tree) {
	oldRoot := t.rootPriority

	var candidates []rootCandidate
	for tp := range t.enabled() {
		tp.updtInfo = false
		if tp.infoIs != InfoReceived {
			continue
		}
		if tp.portPriority.DesignatedID == t.bridgeID {
			tp.selectedRole = RoleBackup
			continue
		}
		tp.selectedRole = RoleAlternate
		path := tp.portPriority
		if tp.port.rcvdInternal {
			path.IntPathCost += tp.intPathCost
		} else {
			path.ExtPathCost += tp.extPathCost
			path.RegionalRoot = t.bridgeID
			path.IntPathCost = 0
		}
		candidates = append(candidates, rootCandidate{tp: tp, path: path})
	}

	root, rootPort := b.selectRoot(t, candidates)
	b.commitRoot(t, root, rootPort)

	changedMaster := (root.ExtPathCost != 0 || oldRoot.ExtPathCost != 0) &&
		root.RegionalRoot != oldRoot.RegionalRoot

	if rootPort != nil {
		rootPort.selectedRole = RoleRoot
		t.rootTimes = rootPort.portTimes
		if !rootPort.port.rcvdInternal {
			t.rootTimes.MessageAge++
		} else if t.rootTimes.RemainingHops > 0 {
			t.rootTimes.RemainingHops--
		}
	} else {
		t.rootTimes = t.bridgeTimes
	}

	for tp := range t.enabled() {
		if changedMaster {
			for m := range tp.port.mstis() {
				m.changedMaster = true
			}
		}
		tp.designatedPriority = t.rules.designatedPriority(t, tp)
		tp.designatedTimes = t.rootTimes

		if tp != rootPort {
			switch tp.infoIs {
			case InfoDisabled:
				tp.selectedRole = RoleDisabled
			case InfoAged:
				tp.selectedRole = RoleDesignated
				tp.updtInfo = true
			case InfoMine:
				tp.selectedRole = RoleDesignated
				if tp.portPriority != tp.designatedPriority || tp.portTimes != tp.designatedTimes {
					tp.updtInfo = true
				}
			case InfoReceived:
				if Compare(tp.designatedPriority, tp.portPriority) == Less {
					tp.selectedRole = RoleDesignated
					tp.updtInfo = true
				}
			}
		}

		if !tp.port.rcvdInternal && tp.selectedRole != tp.role {
			for m := range tp.port.mstis() {
				m.tree.reselect = true
			}
		}
	}
}

func (b *Bridge) updtRolesMsti(t *Tree) {
	var candidates []rootCandidate
	for tp := range t.enabled() {
		tp.updtInfo = false
		if tp.infoIs != InfoReceived {
			continue
		}
		if tp.portPriority.DesignatedID == t.bridgeID {
			tp.selectedRole = RoleBackup
			continue
		}
		tp.selectedRole = RoleAlternate
		// Boundary ports stay candidates; only internal ones add cost.
		path := tp.portPriority
		if tp.port.rcvdInternal {
			path.IntPathCost += tp.intPathCost
		}
		candidates = append(candidates, rootCandidate{tp: tp, path: path})
	}

	root, rootPort := b.selectRoot(t, candidates)
	b.commitRoot(t, root, rootPort)

	if rootPort != nil {
		rootPort.selectedRole = RoleRoot
		t.rootTimes = rootPort.portTimes
		if rootPort.port.rcvdInternal && t.rootTimes.RemainingHops > 0 {
			t.rootTimes.RemainingHops--
		}
	} else {
		t.rootTimes = t.bridgeTimes
	}

	masterSelected := false
	for tp := range t.enabled() {
		tp.designatedPriority = t.rules.designatedPriority(t, tp)
		tp.designatedTimes = t.rootTimes
		if tp == rootPort {
			continue
		}

		differs := tp.portPriority != tp.designatedPriority ||
			tp.portTimes.RemainingHops != tp.designatedTimes.RemainingHops
		c := tp.cist()

		if c.infoIs != InfoReceived || tp.port.rcvdInternal {
			switch tp.infoIs {
			case InfoDisabled:
				tp.selectedRole = RoleDisabled
			case InfoAged:
				tp.selectedRole = RoleDesignated
				tp.updtInfo = true
			case InfoMine:
				tp.selectedRole = RoleDesignated
				if differs {
					tp.updtInfo = true
				}
			case InfoReceived:
				if Compare(tp.designatedPriority, tp.portPriority) == Less {
					tp.selectedRole = RoleDesignated
					tp.updtInfo = true
				}
			}
			continue
		}

		// Boundary port: the MSTI follows the CIST role.
		switch c.selectedRole {
		case RoleRoot:
			tp.selectedRole = RoleMaster
			masterSelected = true
			if differs {
				tp.updtInfo = true
			}
		case RoleAlternate, RoleBackup:
			tp.selectedRole = RoleAlternate
			if differs {
				tp.updtInfo = true
			}
		}
	}

	masteredSet := false
	for tp := range t.enabled() {
		if tp.mastered && (tp.selectedRole == RoleDesignated || tp.selectedRole == RoleRoot) {
			masteredSet = true
		}
		tp.master = false
	}
	if masteredSet || masterSelected {
		for tp := range t.enabled() {
			if tp.role == RoleDesignated || tp.role == RoleRoot {
				tp.master = true
			}
		}
	}
}
