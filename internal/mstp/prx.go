package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Port Receive: 802.1Q-2011 Section 13.28
// -------------------------------------------------------------------------

func (b *Bridge) prxInit(p *Port) {
	p.prx = prxDiscard
	b.prxAction(p)
}

func (b *Bridge) prxAction(p *Port) {
	switch p.prx {
	case prxDiscard:
		p.rcvdBpdu = false
		p.rcvdRSTP = false
		p.rcvdSTP = false
		for tp := range p.all() {
			tp.rcvdMsg = false
		}
	case prxReceive:
		b.updtBpduVersion(p)
		internal := b.fromSameRegion(p)
		if internal != p.rcvdInternal {
			b.boundaryChanged(p, internal)
		}
		p.rcvdInternal = internal
		b.setRcvdMsgs(p)
		p.operEdge = false
		p.rcvdBpdu = false
	}
}

// updtBpduVersion is 13.27.35.
func (b *Bridge) updtBpduVersion(p *Port) {
	switch p.bpdu.Type {
	case TypeTCN, TypeConfig:
		p.rcvdSTP = true
	case TypeRST:
		if b.cfg.ForceVersion >= ForceRSTP {
			p.rcvdRSTP = true
		}
	}
}

// fromSameRegion is 13.27.4.
func (b *Bridge) fromSameRegion(p *Port) bool {
	return b.cfg.ForceVersion >= ForceMSTP && p.rcvdRSTP &&
		p.bpdu.Version >= VersionMSTP && p.bpdu.ConfigID == b.configID
}

func (b *Bridge) boundaryChanged(p *Port, internal bool) {
	old, cur := "boundary", "internal"
	if !internal {
		old, cur = cur, old
	}
	b.logger.Info("port region membership changed",
		slog.String("port", p.name),
		slog.String("from", old),
		slog.String("to", cur),
	)
	b.emit(Event{Kind: EventBoundaryChange, Port: p.num, PortName: p.name, Old: old, New: cur})
	for tp := range p.all() {
		tp.tree.reselect = true
		tp.selected = false
	}
}

// setRcvdMsgs is 13.27.26. MSTI messages for instances this bridge does
// not run on the port are ignored.
func (b *Bridge) setRcvdMsgs(p *Port) {
	bp := &p.bpdu
	c := p.cist()

	if bp.Type == TypeTCN {
		p.rcvdTcn = true
		for m := range p.mstis() {
			m.rcvdTc = true
		}
	}

	c.rcvdMsg = true
	b.extractCist(p, c)

	if !p.rcvdInternal {
		return
	}
	for i := range bp.MSTI {
		msg := &bp.MSTI[i]
		t := b.tree(msg.MSTID())
		if t == nil {
			continue
		}
		tp := p.trees[t.index]
		if tp == nil {
			continue
		}
		tp.rcvdMsg = true
		extractMsti(bp, msg, c, tp)
	}
}

func (s *PortStats) count(bp *BPDU) {
	switch {
	case bp.Type == TypeTCN:
		s.RxTCN++
	case bp.Type == TypeConfig:
		s.RxConfig++
	case bp.IsMST():
		s.RxMST++
	default:
		s.RxRST++
	}
}

// extractCist derives the CIST message priority vector and times.
// BPDUs other than MST carry the designated bridge in the regional root
// field and no remaining hops.
func (b *Bridge) extractCist(p *Port, c *TreePort) {
	bp := &p.bpdu
	c.msg = Message{Type: bp.Type, Flags: bp.Flags}
	if bp.Type == TypeTCN {
		return
	}
	c.msgPriority = Vector{
		Root:           bp.Root,
		ExtPathCost:    bp.ExtPathCost,
		RegionalRoot:   bp.RegionalRoot,
		DesignatedID:   bp.RegionalRoot,
		DesignatedPort: bp.PortID,
	}
	c.msgTimes = Times{
		MessageAge:    bp.MessageAge,
		MaxAge:        bp.MaxAge,
		FwdDelay:      bp.FwdDelay,
		HelloTime:     bp.HelloTime,
		RemainingHops: b.cfg.MaxHops,
	}
	if bp.IsMST() {
		c.msgPriority.IntPathCost = bp.IntPathCost
		c.msgPriority.DesignatedID = bp.BridgeID
		c.msgTimes.RemainingHops = bp.RemainingHops
	}
}

func extractMsti(bp *BPDU, msg *MSTIMessage, c, tp *TreePort) {
	tp.msg = Message{Type: bp.Type, Flags: msg.Flags}
	tp.msgPriority = Vector{
		RegionalRoot:   msg.RegionalRoot,
		IntPathCost:    msg.IntPathCost,
		DesignatedID:   NewBridgeID(uint16(msg.BridgePriority)<<8, tp.tree.mstid, bp.BridgeID.Addr),
		DesignatedPort: NewPortID(msg.PortPriority, bp.PortID.Number()),
	}
	tp.msgTimes = c.msgTimes
	tp.msgTimes.RemainingHops = msg.RemainingHops
}

func rcvdAnyMsg(p *Port) bool {
	for tp := range p.all() {
		if tp.rcvdMsg {
			return true
		}
	}
	return false
}

func prxNext(p *Port) (prxState, bool) {
	switch p.prx {
	case prxDiscard:
		if p.rcvdBpdu && p.enabled {
			return prxReceive, true
		}
	case prxReceive:
		if p.rcvdBpdu && p.enabled && !rcvdAnyMsg(p) {
			return prxReceive, true
		}
	}
	return p.prx, false
}

func (b *Bridge) prxGate(p *Port) {
	if !b.enter("prx", CISTID, p.num) {
		return
	}
	defer b.leave()

	if p.rcvdBpdu && !p.enabled {
		b.prxInit(p)
		return
	}
	for {
		next, ok := prxNext(p)
		if !ok {
			break
		}
		p.prx = next
		b.prxAction(p)
	}
	b.prxSignal(p)
}

func (b *Bridge) prxSignal(p *Port) {
	if p.rcvdRSTP || p.rcvdSTP {
		b.ppmGate(p)
	}
	c := p.cist()
	if c.rcvdMsg {
		b.pimGate(c)
	}
	if !p.hasMSTIs() {
		return
	}
	if p.rcvdInternal {
		for m := range p.mstis() {
			if m.rcvdMsg {
				b.pimGate(m)
			}
		}
		return
	}
	for m := range p.mstis() {
		b.pimGate(m)
		b.prtGate(m)
	}
}
