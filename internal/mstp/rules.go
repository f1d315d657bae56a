package mstp

// treeRules holds the procedures of 802.1Q-2011 Section 13.27 whose CIST
// and MSTI forms differ. Everything else is shared.
type treeRules interface {
	classify(tp *TreePort) RcvdInfo
	recordProposal(tp *TreePort)
	recordAgreement(b *Bridge, tp *TreePort)
	recordDispute(tp *TreePort)
	recordMastered(tp *TreePort)
	setTcFlags(tp *TreePort)
	updtRcvdInfoWhile(tp *TreePort)
	designatedPriority(t *Tree, tp *TreePort) Vector
	rcvdXstInfo(tp *TreePort) bool
	updtXstInfo(tp *TreePort) bool
	setNewInfo(p *Port)
}

func (tp *TreePort) received() Received {
	return Received{
		Msg:       tp.msg,
		MsgPrio:   tp.msgPriority,
		MsgTimes:  tp.msgTimes,
		PortPrio:  tp.portPriority,
		PortTimes: tp.portTimes,
		InfoIs:    tp.infoIs,
		Own:       tp.tree.bridgeID,
	}
}

// betterOrSame is 13.27.1: the new info is at least as good as the info
// in force and comes from the same source.
func betterOrSame(tp *TreePort, newInfoIs InfoIs) bool {
	if tp.infoIs != newInfoIs {
		return false
	}
	v := tp.msgPriority
	if newInfoIs == InfoMine {
		v = tp.designatedPriority
	}
	return Compare(v, tp.portPriority) != Greater
}

// rcvdInfoWhileFor is 13.27.24 for the given times.
func rcvdInfoWhileFor(internal bool, t Times, hello, hops uint16) uint16 {
	if !internal {
		if t.MessageAge+1 <= t.MaxAge {
			return 3 * hello
		}
		return 0
	}
	if hops > 1 {
		return 3 * hello
	}
	return 0
}

// -------------------------------------------------------------------------
// CIST
// -------------------------------------------------------------------------

type cistRules struct{}

func (cistRules) classify(tp *TreePort) RcvdInfo { return ClassifyCIST(tp.received()) }

func (cistRules) recordProposal(tp *TreePort) {
	if tp.msg.Role() != RoleDesignated || !tp.msg.Flags.Has(FlagProposal) {
		return
	}
	tp.proposed = true
	if !tp.port.rcvdInternal {
		for m := range tp.port.mstis() {
			m.proposed = true
		}
	}
}

func (cistRules) recordAgreement(b *Bridge, tp *TreePort) {
	p := tp.port
	tp.agreed = false
	if b.cfg.ForceVersion >= ForceRSTP && tp.msg.Flags.Has(FlagAgreement) && p.operPt2Pt {
		tp.agreed = true
		tp.proposing = false
	}
	if !p.rcvdInternal {
		for m := range p.mstis() {
			m.agreed = tp.agreed
			m.proposing = tp.proposing
		}
	}
}

func (cistRules) recordDispute(tp *TreePort) {
	if tp.msg.Flags.Has(FlagLearning) {
		tp.setDisputed()
	}
	if !tp.port.rcvdInternal {
		for m := range tp.port.mstis() {
			m.setDisputed()
		}
	}
}

func (cistRules) recordMastered(tp *TreePort) {
	if !tp.port.rcvdInternal {
		for m := range tp.port.mstis() {
			m.mastered = false
		}
	}
}

func (cistRules) setTcFlags(tp *TreePort) {
	p := tp.port
	if tp.msg.Flags.Has(FlagTCAck) {
		p.rcvdTcAck = true
	}
	if tp.msg.Flags.Has(FlagTC) {
		tp.rcvdTc = true
		if !p.rcvdInternal {
			for m := range p.mstis() {
				m.rcvdTc = true
			}
		}
	}
}

func (cistRules) updtRcvdInfoWhile(tp *TreePort) {
	t := tp.portTimes
	tp.rcvdInfoWhile = rcvdInfoWhileFor(tp.port.rcvdInternal, t, t.HelloTime, uint16(t.RemainingHops))
}

func (cistRules) designatedPriority(t *Tree, tp *TreePort) Vector {
	r := t.rootPriority
	return Vector{
		Root:           r.Root,
		ExtPathCost:    r.ExtPathCost,
		RegionalRoot:   r.RegionalRoot,
		IntPathCost:    r.IntPathCost,
		DesignatedID:   t.bridgeID,
		DesignatedPort: tp.portID,
	}
}

func (cistRules) rcvdXstInfo(tp *TreePort) bool { return tp.rcvdMsg }
func (cistRules) updtXstInfo(tp *TreePort) bool { return tp.updtInfo }
func (cistRules) setNewInfo(p *Port)            { p.newInfoCist = true }

// -------------------------------------------------------------------------
// MSTI
// -------------------------------------------------------------------------

type mstiRules struct{}

func (mstiRules) classify(tp *TreePort) RcvdInfo { return ClassifyMSTI(tp.received()) }

func (mstiRules) recordProposal(tp *TreePort) {
	if !tp.port.rcvdInternal {
		return
	}
	if tp.msg.Role() == RoleDesignated && tp.msg.Flags.Has(FlagProposal) {
		tp.proposed = true
	}
}

func (mstiRules) recordAgreement(_ *Bridge, tp *TreePort) {
	p := tp.port
	if !p.rcvdInternal {
		return
	}
	tp.agreed = false
	if !tp.msg.Flags.Has(FlagAgreement) || !p.operPt2Pt {
		return
	}
	c := p.cist()
	if c.msgPriority.Root == c.portPriority.Root &&
		c.msgPriority.ExtPathCost == c.portPriority.ExtPathCost &&
		c.msgPriority.RegionalRoot == c.portPriority.RegionalRoot {
		tp.agreed = true
		tp.proposing = false
	}
}

func (mstiRules) recordDispute(tp *TreePort) {
	if tp.msg.Flags.Has(FlagLearning) {
		tp.setDisputed()
	}
}

func (mstiRules) recordMastered(tp *TreePort) {
	tp.mastered = tp.port.operPt2Pt && tp.msg.Flags.Has(FlagMaster)
}

func (mstiRules) setTcFlags(tp *TreePort) {
	if tp.msg.Flags.Has(FlagTC) {
		tp.rcvdTc = true
	}
}

func (mstiRules) updtRcvdInfoWhile(tp *TreePort) {
	c := tp.cist().portTimes
	tp.rcvdInfoWhile = rcvdInfoWhileFor(tp.port.rcvdInternal, c, c.HelloTime, uint16(tp.portTimes.RemainingHops))
}

func (mstiRules) designatedPriority(t *Tree, tp *TreePort) Vector {
	r := t.rootPriority
	return Vector{
		RegionalRoot:   r.RegionalRoot,
		IntPathCost:    r.IntPathCost,
		DesignatedID:   t.bridgeID,
		DesignatedPort: tp.portID,
	}
}

func (mstiRules) rcvdXstInfo(tp *TreePort) bool { return tp.rcvdMsg && !tp.cist().rcvdMsg }
func (mstiRules) updtXstInfo(tp *TreePort) bool { return tp.updtInfo || tp.cist().updtInfo }
func (mstiRules) setNewInfo(p *Port)            { p.newInfoMsti = true }
