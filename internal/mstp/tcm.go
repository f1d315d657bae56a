package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Topology Change: 802.1Q-2011 Section 13.36
// -------------------------------------------------------------------------

func (b *Bridge) tcmInit(tp *TreePort) {
	tp.tcm = tcmInactive
	b.tcmAction(tp)
}

func isActiveRole(r Role) bool {
	return r == RoleRoot || r == RoleDesignated || r == RoleMaster
}

// newTcWhile is 13.27.29.
func (b *Bridge) newTcWhile(tp *TreePort) {
	if tp.tcWhile != 0 {
		return
	}
	p := tp.port
	if p.sendRSTP {
		tp.tcWhile = b.portHelloTime(p) + 1
		tp.tree.rules.setNewInfo(p)
		return
	}
	rt := b.cistTree().rootTimes
	tp.tcWhile = rt.MaxAge + rt.FwdDelay
}

// setTcPropTree is 13.27.32.
func setTcPropTree(tp *TreePort) {
	for o := range tp.tree.enabled() {
		if o != tp {
			o.tcProp = true
		}
	}
}

func (b *Bridge) tcmAction(tp *TreePort) {
	p := tp.port
	cist := tp.isCIST()

	switch tp.tcm {
	case tcmInactive:
		tp.fdbFlush = true
		tp.tcWhile = 0
		if cist {
			p.tcAck = false
		}

	case tcmLearning:
		if cist {
			p.rcvdTcn = false
			p.rcvdTcAck = false
		}
		tp.rcvdTc = false
		tp.tcProp = false

	case tcmDetected:
		b.newTcWhile(tp)
		setTcPropTree(tp)
		tp.tree.rules.setNewInfo(p)
		b.topologyChange(tp)
		tp.tcm = tcmActive

	case tcmNotifiedTCN, tcmNotifiedTC:
		if tp.tcm == tcmNotifiedTCN {
			b.newTcWhile(tp)
		}
		if cist {
			p.rcvdTcn = false
		}
		tp.rcvdTc = false
		if cist && tp.role == RoleDesignated {
			p.tcAck = true
		}
		setTcPropTree(tp)
		tp.tcm = tcmActive

	case tcmPropagating:
		b.newTcWhile(tp)
		tp.fdbFlush = true
		tp.tcProp = false
		tp.tcm = tcmActive

	case tcmAcknowledged:
		tp.tcWhile = 0
		p.rcvdTcAck = false
		tp.tcm = tcmActive
	}

	if !tp.fdbFlush {
		return
	}
	tp.fdbFlush = false
	if p.operEdge {
		return
	}
	if err := b.dataPlane.Flush(tp.tree.mstid, p.num); err != nil {
		b.logger.Error("fdb flush failed",
			slog.Int("mstid", int(tp.tree.mstid)),
			slog.String("port", p.name),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bridge) topologyChange(tp *TreePort) {
	t := tp.tree
	t.topologyChanges++
	t.dirty |= TreeDirtyTopologyChange
	b.metrics.IncTopologyChanges(t.mstid)
	b.logger.Info("topology change detected",
		slog.Int("mstid", int(t.mstid)),
		slog.String("port", tp.port.name),
	)
	b.emitPort(EventTopologyChange, tp, "", tp.role.String())
}

func tcmNext(tp *TreePort) (tcmState, bool) {
	p := tp.port
	cist := tp.isCIST()
	active := isActiveRole(tp.role)
	rcvdPort := cist && (p.rcvdTcn || p.rcvdTcAck)

	switch tp.tcm {
	case tcmInactive:
		if tp.learn && !tp.fdbFlush {
			return tcmLearning, true
		}
	case tcmLearning:
		switch {
		case active && tp.forward && !p.operEdge:
			return tcmDetected, true
		case rcvdPort || tp.rcvdTc || tp.tcProp:
			return tcmLearning, true
		case !active && !(tp.learn || tp.learning):
			return tcmInactive, true
		}
	case tcmActive:
		switch {
		case !active || p.operEdge:
			return tcmLearning, true
		case cist && p.rcvdTcn:
			return tcmNotifiedTCN, true
		case tp.rcvdTc:
			return tcmNotifiedTC, true
		case tp.tcProp && !p.operEdge:
			return tcmPropagating, true
		case cist && p.rcvdTcAck:
			return tcmAcknowledged, true
		}
	}
	return tp.tcm, false
}

func (b *Bridge) tcmLoop(tp *TreePort) {
	for {
		next, ok := tcmNext(tp)
		if !ok {
			return
		}
		tp.tcm = next
		b.tcmAction(tp)
	}
}

func (b *Bridge) tcmGate(tp *TreePort) {
	if !b.enter("tcm", tp.tree.mstid, tp.port.num) {
		return
	}
	defer b.leave()

	b.tcmLoop(tp)

	for o := range tp.tree.enabled() {
		if o == tp || o.state == StateDisabled || !o.tcProp {
			continue
		}
		b.tcmLoop(o)
		if o.tcWhile != 0 || o.port.newInfoCist || o.port.newInfoMsti {
			b.ptxGate(o.port)
		}
	}

	p := tp.port
	if tp.tcWhile != 0 || p.newInfoCist || p.newInfoMsti || p.tcAck {
		b.ptxGate(p)
	}
}
