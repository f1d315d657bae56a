package mstp

import (
	"cmp"
	"log/slog"
	"slices"
)

// -------------------------------------------------------------------------
// Port Transmit: 802.1Q-2011 Section 13.31
// -------------------------------------------------------------------------

func (b *Bridge) ptxInit(p *Port) {
	p.ptx = ptxInit
	b.ptxAction(p)
}

// allTransmitReady reports whether every tree on the port has settled
// roles: selected and no pending updtInfo.
func allTransmitReady(p *Port) bool {
	for tp := range p.all() {
		if !tp.selected || tp.updtInfo {
			return false
		}
	}
	return true
}

func (b *Bridge) ptxAction(p *Port) {
	switch p.ptx {
	case ptxInit:
		p.newInfoCist = true
		p.newInfoMsti = true
		p.txCount = 0
	case ptxIdle:
		p.helloWhen = b.portHelloTime(p)
	case ptxPeriodic:
		c := p.cist()
		p.newInfoCist = p.newInfoCist || c.role == RoleDesignated ||
			(c.role == RoleRoot && c.tcWhile != 0)
		for m := range p.mstis() {
			if m.role == RoleDesignated || (m.role == RoleRoot && m.tcWhile != 0) {
				p.newInfoMsti = true
			}
		}
	case ptxConfig:
		p.newInfoCist = false
		b.txConfig(p)
		p.txCount++
		p.tcAck = false
	case ptxTCN:
		p.newInfoCist = false
		b.txTcn(p)
		p.txCount++
	case ptxRSTP:
		p.newInfoCist = false
		p.newInfoMsti = false
		b.txMstp(p)
		p.txCount++
		p.tcAck = false
	}
}

func mstiMasterPort(p *Port) bool {
	for m := range p.mstis() {
		if m.role == RoleMaster {
			return true
		}
	}
	return false
}

func (b *Bridge) ptxNext(p *Port) (ptxState, bool) {
	switch p.ptx {
	case ptxInit, ptxPeriodic, ptxConfig, ptxTCN, ptxRSTP:
		return ptxIdle, true
	case ptxIdle:
		if p.helloWhen == 0 {
			return ptxPeriodic, true
		}
		if p.txCount >= b.cfg.TxHoldCount {
			break
		}
		c := p.cist()
		switch {
		case p.sendRSTP && (p.newInfoCist || (p.newInfoMsti && !mstiMasterPort(p))):
			return ptxRSTP, true
		case !p.sendRSTP && p.newInfoCist && c.role == RoleRoot:
			return ptxTCN, true
		case !p.sendRSTP && p.newInfoCist && c.role == RoleDesignated:
			return ptxConfig, true
		}
	}
	return p.ptx, false
}

func (b *Bridge) ptxGate(p *Port) {
	if !allTransmitReady(p) {
		return
	}
	if !p.enabled {
		if p.ptx != ptxInit {
			b.ptxInit(p)
		}
		return
	}
	for {
		next, ok := b.ptxNext(p)
		if !ok {
			return
		}
		p.ptx = next
		b.ptxAction(p)
	}
}

// -------------------------------------------------------------------------
// BPDU Assembly: 802.1Q-2011 Section 13.27.27 - 13.27.29
// -------------------------------------------------------------------------

func (b *Bridge) txConfig(p *Port) {
	c := p.cist()
	d := c.designatedPriority
	t := c.designatedTimes
	var f Flags
	f = f.with(FlagTC, c.tcWhile != 0)
	f = f.with(FlagTCAck, p.tcAck)
	bp := BPDU{
		Version:      VersionSTP,
		Type:         TypeConfig,
		Flags:        f,
		Root:         d.Root,
		ExtPathCost:  d.ExtPathCost,
		RegionalRoot: d.DesignatedID,
		PortID:       d.DesignatedPort,
		MessageAge:   t.MessageAge,
		MaxAge:       t.MaxAge,
		HelloTime:    t.HelloTime,
		FwdDelay:     t.FwdDelay,
	}
	b.transmit(p, &bp)
}

func (b *Bridge) txTcn(p *Port) {
	b.transmit(p, &BPDU{Version: VersionSTP, Type: TypeTCN})
}

// txMstp sends an RST BPDU, or an MST BPDU with one message per MSTI when
// running MSTP.
func (b *Bridge) txMstp(p *Port) {
	c := p.cist()
	if c.role == RoleDisabled {
		return
	}
	d := c.designatedPriority
	t := c.designatedTimes

	agree := c.agree
	if !p.rcvdInternal && (c.role == RoleRoot || c.role == RoleDesignated || c.role == RoleAlternate) {
		for m := range p.mstis() {
			if !m.agree {
				agree = false
			}
		}
	}

	var f Flags
	f = f.with(FlagAgreement, agree)
	f = f.with(FlagProposal, c.proposing)
	f = f.with(FlagLearning, c.learning)
	f = f.with(FlagForwarding, c.forwarding)
	f = f.with(FlagTC, c.tcWhile != 0)
	f = f.WithRole(c.role)

	bp := BPDU{
		Version:      VersionRSTP,
		Type:         TypeRST,
		Flags:        f,
		Root:         d.Root,
		ExtPathCost:  d.ExtPathCost,
		RegionalRoot: d.RegionalRoot,
		PortID:       d.DesignatedPort,
		MessageAge:   t.MessageAge,
		MaxAge:       t.MaxAge,
		HelloTime:    t.HelloTime,
		FwdDelay:     t.FwdDelay,
	}
	if b.cfg.ForceVersion < ForceMSTP {
		// An RSTP bridge puts the designated bridge in this field.
		bp.RegionalRoot = d.DesignatedID
		b.transmit(p, &bp)
		return
	}

	bp.Version = VersionMSTP
	bp.ConfigID = b.configID
	bp.IntPathCost = d.IntPathCost
	bp.BridgeID = d.DesignatedID
	bp.RemainingHops = t.RemainingHops

	mstis := slices.Collect(p.mstis())
	slices.SortFunc(mstis, func(x, y *TreePort) int { return cmp.Compare(x.tree.mstid, y.tree.mstid) })
	for _, m := range mstis {
		if m.role == RoleDisabled {
			continue
		}
		var mf Flags
		mf = mf.with(FlagAgreement, m.agree)
		mf = mf.with(FlagProposal, m.proposing)
		mf = mf.with(FlagLearning, m.learning)
		mf = mf.with(FlagForwarding, m.forwarding)
		mf = mf.with(FlagMaster, m.master)
		mf = mf.with(FlagTC, m.tcWhile != 0)
		mf = mf.WithRole(m.role)
		md := m.designatedPriority
		bp.MSTI = append(bp.MSTI, MSTIMessage{
			Flags:          mf,
			RegionalRoot:   md.RegionalRoot,
			IntPathCost:    md.IntPathCost,
			BridgePriority: uint8(md.DesignatedID.Priority >> 8),
			PortPriority:   m.portID.Priority(),
			RemainingHops:  m.designatedTimes.RemainingHops,
		})
	}
	b.transmit(p, &bp)
}

func (b *Bridge) transmit(p *Port, bp *BPDU) {
	bufp := BufPool.Get().(*[]byte)
	defer BufPool.Put(bufp)

	n, err := MarshalBPDU(bp, *bufp)
	if err != nil {
		b.logger.Error("encode bpdu failed", slog.String("port", p.name), slog.String("error", err.Error()))
		return
	}
	if err := b.tx.Transmit(p.num, (*bufp)[:n]); err != nil {
		b.logger.Warn("transmit bpdu failed", slog.String("port", p.name), slog.String("error", err.Error()))
		return
	}

	label := bpduLabel(bp)
	switch label {
	case "config":
		p.stats.TxConfig++
	case "tcn":
		p.stats.TxTCN++
	case "mst":
		p.stats.TxMST++
	default:
		p.stats.TxRST++
	}
	b.metrics.IncBPDUsSent(p.name, label)
}

// bpduLabel names the BPDU for counters: config, tcn, rst or mst.
func bpduLabel(bp *BPDU) string {
	if bp.IsMST() {
		return "mst"
	}
	return bp.Type.String()
}
