package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Port Information Machine: 802.1Q-2011 Section 13.32
// -------------------------------------------------------------------------

func (b *Bridge) pimInit(tp *TreePort) {
	tp.pim = pimDisabled
	b.pimAction(tp)
}

// setReselect requests role selection for the tree of tp. On a boundary
// port the CIST request covers every MSTI on the port.
func setReselect(tp *TreePort) {
	tp.tree.reselect = true
	if tp.isCIST() && !tp.port.rcvdInternal {
		for m := range tp.port.mstis() {
			m.tree.reselect = true
		}
	}
}

func (b *Bridge) pimAction(tp *TreePort) {
	p := tp.port
	rules := tp.tree.rules

	switch tp.pim {
	case pimDisabled:
		tp.rcvdMsg = false
		tp.proposing = false
		tp.proposed = false
		tp.agree = false
		tp.agreed = false
		tp.rcvdInfoWhile = 0
		tp.infoIs = InfoDisabled
		setReselect(tp)
		tp.selected = false

	case pimAged:
		tp.infoIs = InfoAged
		setReselect(tp)
		tp.selected = false

	case pimUpdate:
		tp.proposed = false
		tp.proposing = false
		tp.agreed = tp.agreed && betterOrSame(tp, InfoMine)
		tp.synced = tp.synced && tp.agreed
		if !p.rcvdInternal {
			b.pimUpdateBoundary(tp)
		}
		tp.changedMaster = false
		tp.updtInfo = false
		tp.infoIs = InfoMine
		if tp.portPriority != tp.designatedPriority {
			tp.markDirty(DirtyPortPriority)
		}
		tp.portPriority = tp.designatedPriority
		tp.portTimes = tp.designatedTimes
		rules.setNewInfo(p)
		tp.pim = pimCurrent

	case pimSuperiorDesignated:
		p.infoInternal = p.rcvdInternal
		tp.agreed = false
		tp.proposing = false
		rules.recordProposal(tp)
		rules.setTcFlags(tp)
		tp.agree = tp.agree && betterOrSame(tp, InfoReceived)
		if tp.isCIST() && !p.rcvdInternal {
			for m := range p.mstis() {
				m.agree = tp.agree
			}
		}
		rules.recordAgreement(b, tp)
		tp.synced = tp.synced && tp.agreed
		if tp.portPriority != tp.msgPriority {
			tp.markDirty(DirtyPortPriority)
		}
		tp.portPriority = tp.msgPriority
		tp.portTimes = tp.msgTimes
		rules.updtRcvdInfoWhile(tp)
		tp.infoIs = InfoReceived
		setReselect(tp)
		tp.selected = false
		tp.rcvdMsg = false
		tp.pim = pimCurrent

	case pimRepeatedDesignated:
		p.infoInternal = p.rcvdInternal
		rules.recordProposal(tp)
		rules.setTcFlags(tp)
		rules.recordAgreement(b, tp)
		rules.updtRcvdInfoWhile(tp)
		tp.rcvdMsg = false
		tp.pim = pimCurrent

	case pimInferiorDesignated:
		rules.recordDispute(tp)
		tp.rcvdMsg = false
		tp.pim = pimCurrent

	case pimRoot:
		rules.recordAgreement(b, tp)
		rules.setTcFlags(tp)
		tp.rcvdMsg = false
		tp.pim = pimCurrent

	case pimOther:
		tp.rcvdMsg = false
		tp.pim = pimCurrent

	case pimReceive:
		tp.rcvdInfo = rules.classify(tp)
		rules.recordMastered(tp)
	}
}

// pimUpdateBoundary propagates an Update on a boundary port. Information
// on such a port always comes from the CIST, so every MSTI follows it.
func (b *Bridge) pimUpdateBoundary(tp *TreePort) {
	c := tp.cist()
	follow := func(m *TreePort) {
		m.agreed = c.agreed
		m.synced = c.synced
		m.proposed = c.proposed
		m.rrWhile = 0
		m.reRoot = false
		if m.sync && !m.synced {
			b.pstBlock(m)
		}
	}
	if tp.isCIST() {
		for m := range tp.port.mstis() {
			m.sync = tp.changedMaster
			follow(m)
		}
		return
	}
	follow(tp)
}

func (b *Bridge) pimNext(tp *TreePort) (pimState, bool) {
	p := tp.port
	rules := tp.tree.rules

	switch tp.pim {
	case pimDisabled:
		if tp.rcvdMsg {
			return pimDisabled, true
		}
		if p.enabled {
			return pimAged, true
		}
	case pimAged:
		if tp.selected && tp.updtInfo {
			return pimUpdate, true
		}
	case pimCurrent:
		switch {
		case tp.selected && tp.updtInfo:
			return pimUpdate, true
		case tp.infoIs == InfoReceived && tp.rcvdInfoWhile == 0 && !tp.updtInfo && !rules.rcvdXstInfo(tp):
			return pimAged, true
		case rules.rcvdXstInfo(tp) && !rules.updtXstInfo(tp):
			return pimReceive, true
		}
	case pimReceive:
		switch tp.rcvdInfo {
		case SuperiorDesignatedInfo:
			return pimSuperiorDesignated, true
		case RepeatedDesignatedInfo:
			return pimRepeatedDesignated, true
		case InferiorDesignatedInfo:
			return pimInferiorDesignated, true
		case RootInfo:
			return pimRoot, true
		default:
			return pimOther, true
		}
	}
	return tp.pim, false
}

// pimGate runs the machine to a fixed point and signals the machines that
// depend on its outputs.
func (b *Bridge) pimGate(tp *TreePort) {
	if tp == nil {
		b.logger.Error("pim gate on missing port record")
		return
	}
	if !tp.port.enabled {
		if tp.infoIs != InfoDisabled {
			b.pimInit(tp)
		}
		return
	}
	if !b.enter("pim", tp.tree.mstid, tp.port.num) {
		return
	}
	defer b.leave()

	for {
		next, ok := b.pimNext(tp)
		if !ok {
			break
		}
		if next != tp.pim {
			b.logger.Debug("pim transition",
				slog.Int("mstid", int(tp.tree.mstid)),
				slog.Int("port", int(tp.port.num)),
				slog.String("from", tp.pim.String()),
				slog.String("to", next.String()),
			)
		}
		tp.pim = next
		b.pimAction(tp)
	}
	b.pimSignal(tp)
}

func (b *Bridge) pimSignal(tp *TreePort) {
	p := tp.port

	if p.rcvdTcAck || p.rcvdTcn || tp.rcvdTc {
		b.tcmGate(tp)
	}
	if tp.tree.reselect || !tp.selected {
		b.prsGate(tp.tree)
	}
	if tp.proposing || tp.proposed || !tp.synced || !tp.agree || tp.disputed ||
		(tp.agreed && (tp.selectedRole == RoleDesignated || tp.selectedRole == RoleRoot)) {
		b.prtGate(tp)
	}
	if p.newInfoCist || p.newInfoMsti {
		b.ptxGate(p)
	}
}
