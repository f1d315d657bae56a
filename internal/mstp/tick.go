package mstp

func dec(v *uint16) {
	if *v > 0 {
		*v--
	}
}

// Tick is the one-second timer event (802.1Q-2011 Section 13.23). It ages
// every timer of every enabled port, re-evaluates the machines that
// depend on timers and reports pending gauge changes.
func (b *Bridge) Tick() {
	for _, p := range b.portOrder {
		if !p.enabled {
			continue
		}
		dec(&p.helloWhen)
		dec(&p.mdelayWhile)
		dec(&p.txCount)
		for tp := range p.all() {
			dec(&tp.rcvdInfoWhile)
			dec(&tp.fdWhile)
			dec(&tp.rrWhile)
			dec(&tp.rbWhile)
			dec(&tp.tcWhile)
		}
	}
	for _, p := range b.portOrder {
		if !p.enabled {
			continue
		}
		b.ppmGate(p)
		for tp := range p.all() {
			b.pimGate(tp)
			b.prtGate(tp)
			b.tcmGate(tp)
		}
		b.ptxGate(p)
	}
	b.report()
}
