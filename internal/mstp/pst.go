package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Port State Transition: 802.1Q-2011 Section 13.35
// -------------------------------------------------------------------------

func (b *Bridge) pstInit(tp *TreePort) {
	tp.pst = pstDiscarding
	b.pstAction(tp)
}

func (b *Bridge) pstAction(tp *TreePort) {
	switch tp.pst {
	case pstDiscarding:
		tp.learning = false
		tp.forwarding = false
		if tp.port.enabled {
			b.applyState(tp, StateDiscarding)
		} else {
			b.applyState(tp, StateDisabled)
		}
	case pstLearning:
		tp.learning = true
		b.applyState(tp, StateLearning)
	case pstForwarding:
		tp.forwarding = true
		b.applyState(tp, StateForwarding)
		tp.forwardTransitions++
		b.metrics.IncForwardTransitions(tp.tree.mstid, tp.port.name)
	}
}

// pstBlock drops tp to Discarding at once. learn and forward are cleared
// too so the next evaluation does not climb back before PRT allows it.
func (b *Bridge) pstBlock(tp *TreePort) {
	tp.learn = false
	tp.forward = false
	if tp.pst != pstDiscarding {
		tp.pst = pstDiscarding
		b.pstAction(tp)
	}
}

// pstNext allows one step per evaluation, so Discarding reaches
// Forwarding only through Learning.
func pstNext(tp *TreePort) (pstState, bool) {
	switch tp.pst {
	case pstDiscarding:
		if tp.learn {
			return pstLearning, true
		}
	case pstLearning:
		if tp.forward {
			return pstForwarding, true
		}
		if !tp.learn {
			return pstDiscarding, true
		}
	case pstForwarding:
		if !tp.forward {
			return pstDiscarding, true
		}
	}
	return tp.pst, false
}

func (b *Bridge) pstGate(tp *TreePort) {
	if !b.enter("pst", tp.tree.mstid, tp.port.num) {
		return
	}
	defer b.leave()

	changed := false
	for {
		next, ok := pstNext(tp)
		if !ok {
			break
		}
		tp.pst = next
		b.pstAction(tp)
		changed = true
	}
	if !changed {
		return
	}
	if !tp.learning && !tp.forwarding {
		b.prtGate(tp)
	}
	if !(tp.learn || tp.learning) || tp.learn || tp.forward {
		b.tcmGate(tp)
	}
}

// applyState records the forwarding state and pushes it to the data plane.
func (b *Bridge) applyState(tp *TreePort, s PortState) {
	if tp.state == s {
		return
	}
	old := tp.state
	tp.state = s
	tp.markDirty(DirtyState)
	if err := b.dataPlane.SetPortState(tp.tree.mstid, tp.port.num, s); err != nil {
		b.logger.Error("set port state failed",
			slog.Int("mstid", int(tp.tree.mstid)),
			slog.String("port", tp.port.name),
			slog.String("state", s.String()),
			slog.String("error", err.Error()),
		)
	}
	b.emitPort(EventStateChange, tp, old.String(), s.String())
}
