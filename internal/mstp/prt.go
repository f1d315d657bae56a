package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Port Role Transition: 802.1Q-2011 Section 13.34
// -------------------------------------------------------------------------
//
// The Root, Designated, Master, Alternate and Backup sub-machines share one
// state variable. Role entry states (BlockPort, ActivePort) are taken from
// the gate when selectedRole and role disagree; every other transition is
// qualified by selected && !updtInfo.

func (b *Bridge) prtInit(tp *TreePort) {
	tp.prt = prtInitPort
	b.prtAction(tp)
}

// backupHold is the rbWhile value of a freshly entered Backup port.
func (b *Bridge) backupHold() uint16 { return 2 * b.helloTime() }

func (b *Bridge) prtBlockedAction(tp *TreePort) {
	if tp.role != RoleDisabled {
		tp.fdWhile = b.fwdDelay()
	} else {
		tp.fdWhile = b.maxAge()
	}
	tp.synced = true
	tp.rrWhile = 0
	tp.sync = false
	tp.reRoot = false
}

func (b *Bridge) prtAction(tp *TreePort) {
	switch tp.prt {
	case prtInitPort:
		tp.selectedRole = RoleDisabled
		tp.synced = false
		tp.sync = true
		tp.reRoot = true
		tp.rrWhile = b.fwdDelay()
		tp.fdWhile = b.maxAge()
		tp.rbWhile = 0
		tp.prt = prtBlockPort
		fallthrough

	case prtBlockPort:
		tp.setRole(tp.selectedRole)
		tp.learn = false
		tp.forward = false

	case prtBackupPort:
		tp.rbWhile = b.backupHold()
		tp.prt = prtBlockedPort
		b.prtBlockedAction(tp)

	case prtBlockedPort:
		b.prtBlockedAction(tp)

	case prtActivePort:
		b.prtActivePort(tp)

	default:
		b.prtActiveAction(tp)
		if tp.prt == prtBlockedPort {
			b.prtBlockedAction(tp)
		}
		if tp.role != RoleAlternate {
			tp.prt = prtActivePort
		}
		b.prtActivePort(tp)
	}
}

func (b *Bridge) prtActivePort(tp *TreePort) {
	p := tp.port
	if tp.isCIST() && tp.selectedRole == RoleDesignated {
		tp.proposing = tp.proposing || (!p.adminEdge && p.operPt2Pt && !tp.forward)
	}
	tp.setRole(tp.selectedRole)
}

func (b *Bridge) prtActiveAction(tp *TreePort) {
	p := tp.port
	rules := tp.tree.rules

	switch tp.prt {
	case prtProposed:
		setSyncTree(tp.tree)
		tp.proposed = false
		if tp.role == RoleAlternate {
			tp.prt = prtBlockedPort
		}

	case prtProposing:
		tp.proposing = true
		rules.setNewInfo(p)

	case prtAgrees:
		tp.proposed = false
		tp.agree = true
		if tp.role != RoleAlternate {
			tp.sync = false
		}
		if tp.role != RoleMaster {
			rules.setNewInfo(p)
		}
		if tp.role == RoleAlternate {
			tp.prt = prtBlockedPort
		}

	case prtSynced:
		if tp.role != RoleRoot {
			tp.rrWhile = 0
		}
		tp.synced = true
		tp.sync = false

	case prtReroot:
		setReRootTree(tp.tree)

	case prtForward:
		tp.forward = true
		tp.fdWhile = 0
		if tp.role == RoleMaster || tp.role == RoleDesignated {
			tp.agreed = p.sendRSTP
		}

	case prtLearn:
		tp.learn = true
		tp.fdWhile = b.fwdDelay()

	case prtDiscard:
		tp.learn = false
		tp.forward = false
		tp.fdWhile = b.fwdDelay()
		if tp.role == RoleRoot && tp.disputed {
			tp.rbWhile = 3 * b.helloTime()
		}
		tp.disputed = false

	case prtRerooted:
		tp.reRoot = false

	case prtRoot:
		tp.rrWhile = b.fwdDelay()
		// A root port reached through a refresh of worse information must
		// run the sync handshake again, so no stale agreement is sent.
		if tp.isCIST() && !p.rcvdInternal && p.hasMSTIs() {
			tp.agree = false
			for m := range p.mstis() {
				m.agree = false
			}
		}
	}
}

// prtNext takes at most one transition and reports whether it did.
func (b *Bridge) prtNext(tp *TreePort) bool {
	if !tp.selected || tp.updtInfo {
		return false
	}
	p := tp.port
	t := tp.tree
	fv := b.cfg.ForceVersion

	switch tp.prt {
	case prtBlockPort:
		if !tp.learning && !tp.forwarding {
			tp.prt = prtBlockedPort
			return true
		}

	case prtBlockedPort:
		switch {
		case tp.role == RoleBackup && tp.rbWhile != b.backupHold():
			tp.prt = prtBackupPort
			return true
		case (tp.role == RoleDisabled && tp.fdWhile != b.maxAge()) ||
			(tp.role == RoleAlternate && tp.fdWhile != b.fwdDelay()) ||
			tp.sync || tp.reRoot || !tp.synced:
			return true
		case tp.role == RoleAlternate && tp.proposed && !tp.agree:
			tp.prt = prtProposed
			return true
		case tp.role == RoleAlternate && ((allSynced(t, tp) && !tp.agree) || (tp.proposed && tp.agree)):
			tp.prt = prtAgrees
			return true
		}

	case prtActivePort:
		return b.prtActiveNext(tp, p, t, fv)
	}
	return false
}

func (b *Bridge) prtActiveNext(tp *TreePort, p *Port, t *Tree, fv ForceVersion) bool {
	designatedOrMaster := tp.role == RoleDesignated || tp.role == RoleMaster

	switch {
	case tp.proposed && !tp.agree:
		tp.prt = prtProposed
	case tp.role == RoleDesignated && !tp.forward && !tp.agreed && !tp.proposing && !p.operEdge:
		tp.prt = prtProposing
	case (designatedOrMaster &&
		((!tp.learning && !tp.forwarding && !tp.synced) || (p.operEdge && !tp.synced))) ||
		(tp.agreed && !tp.synced) || (tp.sync && tp.synced):
		tp.prt = prtSynced
	case tp.role == RoleRoot && tp.rrWhile != b.fwdDelay():
		tp.prt = prtRoot
	case tp.role == RoleRoot && !tp.forward && tp.rbWhile == 0 && !tp.reRoot:
		tp.prt = prtReroot
	case tp.reRoot && ((tp.role == RoleRoot && tp.forward) || (designatedOrMaster && tp.rrWhile == 0)):
		tp.prt = prtRerooted
	case tp.role != RoleRoot && (tp.learn || tp.forward) && !p.operEdge &&
		((tp.sync && !tp.synced) || (tp.reRoot && tp.rrWhile != 0) || tp.disputed):
		tp.prt = prtDiscard
	case tp.role == RoleRoot && tp.disputed:
		tp.prt = prtDiscard
	default:
		return b.prtProgress(tp, p, t, fv)
	}
	return true
}

// prtProgress covers the agreement and learn/forward transitions.
func (b *Bridge) prtProgress(tp *TreePort, p *Port, t *Tree, fv ForceVersion) bool {
	synced := allSynced(t, tp)
	rooted := tp.role == RoleRoot && reRooted(t, tp)

	if (tp.role == RoleDesignated && (tp.proposed || !tp.agree) && synced) ||
		(tp.role != RoleDesignated && ((synced && !tp.agree) || (tp.proposed && tp.agree))) {
		tp.prt = prtAgrees
		return true
	}

	var ready bool
	switch tp.role {
	case RoleMaster:
		ready = tp.fdWhile == 0 || synced
	case RoleRoot:
		ready = tp.fdWhile == 0 || (rooted && tp.rbWhile == 0 && fv >= ForceRSTP)
	case RoleDesignated:
		ready = (tp.fdWhile == 0 || tp.agreed || p.operEdge) && (tp.rrWhile == 0 || !tp.reRoot) && !tp.sync
	}
	if !ready {
		return false
	}
	if !tp.learn {
		tp.prt = prtLearn
		return true
	}
	if !tp.forward {
		tp.prt = prtForward
		return true
	}
	return false
}

// prtGate enters the role state for a changed selectedRole, runs the
// machine to a fixed point and, when anything moved, signals dependents.
// Ports re-evaluated on behalf of a sibling signal only themselves.
func (b *Bridge) prtGate(tp *TreePort)  { b.prtRun(tp, true) }
func (b *Bridge) prtGate2(tp *TreePort) { b.prtRun(tp, false) }

func (b *Bridge) prtRun(tp *TreePort, primary bool) {
	if !b.enter("prt", tp.tree.mstid, tp.port.num) {
		return
	}
	defer b.leave()

	changed := false
	if tp.selected && !tp.updtInfo && tp.selectedRole != tp.role {
		switch tp.selectedRole {
		case RoleDisabled, RoleAlternate, RoleBackup:
			tp.prt = prtBlockPort
		default:
			if primary && tp.selectedRole == RoleRoot {
				tp.rrWhile = b.fwdDelay()
			}
			tp.prt = prtActivePort
		}
		b.prtAction(tp)
		changed = true
	}

	for {
		old := tp.prt
		if !b.prtNext(tp) {
			break
		}
		if old != tp.prt {
			b.logger.Debug("prt transition",
				slog.Int("mstid", int(tp.tree.mstid)),
				slog.Int("port", int(tp.port.num)),
				slog.String("from", old.String()),
				slog.String("to", tp.prt.String()),
			)
		}
		b.prtAction(tp)
		changed = true
	}
	if !changed {
		return
	}

	if primary {
		for o := range tp.tree.enabled() {
			if o == tp || o.state == StateDisabled {
				continue
			}
			if o.reRoot || o.sync || o.role == RoleRoot || o.role == RoleDesignated {
				b.prtGate2(o)
			}
		}
	}
	b.prtSignalLocal(tp)
}

func (b *Bridge) prtSignalLocal(tp *TreePort) {
	p := tp.port
	if tp.proposing || !tp.synced {
		b.pimGate(tp)
	}
	if tp.learn != tp.learning || tp.forward != tp.forwarding {
		b.pstGate(tp)
	}
	b.tcmGate(tp)
	if p.newInfoCist || p.newInfoMsti {
		b.ptxGate(p)
	}
}
