package mstp

import "log/slog"

// -------------------------------------------------------------------------
// Port Protocol Migration: 802.1Q-2011 Section 13.29
// -------------------------------------------------------------------------

func (b *Bridge) ppmInit(p *Port) {
	p.ppm = ppmCheckingRSTP
	b.ppmAction(p)
}

func (b *Bridge) ppmAction(p *Port) {
	switch p.ppm {
	case ppmCheckingRSTP:
		p.mcheck = false
		p.sendRSTP = b.cfg.ForceVersion >= ForceRSTP
		p.mdelayWhile = MigrateTime
	case ppmSelectingSTP:
		p.sendRSTP = false
		p.mdelayWhile = MigrateTime
	case ppmSensing:
		p.rcvdRSTP = false
		p.rcvdSTP = false
	}
}

func (b *Bridge) ppmNext(p *Port) (ppmState, bool) {
	switch p.ppm {
	case ppmCheckingRSTP:
		if p.mdelayWhile != MigrateTime && !p.enabled {
			return ppmCheckingRSTP, true
		}
		if p.mdelayWhile == 0 {
			return ppmSensing, true
		}
	case ppmSelectingSTP:
		if p.mdelayWhile == 0 || !p.enabled || p.mcheck {
			return ppmSensing, true
		}
	case ppmSensing:
		if !p.enabled || p.mcheck || (b.cfg.ForceVersion >= ForceRSTP && !p.sendRSTP && p.rcvdRSTP) {
			return ppmCheckingRSTP, true
		}
		if p.sendRSTP && p.rcvdSTP {
			return ppmSelectingSTP, true
		}
	}
	return p.ppm, false
}

func (b *Bridge) ppmGate(p *Port) {
	if !b.enter("ppm", CISTID, p.num) {
		return
	}
	defer b.leave()

	changed := false
	for {
		next, ok := b.ppmNext(p)
		if !ok {
			break
		}
		if next != p.ppm {
			b.logger.Debug("protocol migration",
				slog.String("port", p.name),
				slog.String("from", p.ppm.String()),
				slog.String("to", next.String()),
			)
		}
		p.ppm = next
		b.ppmAction(p)
		changed = true
	}
	if changed {
		b.ptxGate(p)
	}
}
