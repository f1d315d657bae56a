package mstp

import (
	"fmt"
	"log/slog"
	"slices"
)

// MaxPathCost is the largest port path cost (802.1Q-2011 Table 13-4).
const MaxPathCost = 200000000

// PortConfig holds the administrative parameters of a port.
type PortConfig struct {
	Name      string
	Enabled   bool
	AdminEdge bool
	LinkType  LinkType
	// PathCost of zero selects DefaultPathCost.
	PathCost uint32
	Priority uint8
	// RootGuard sets restrictedRole: the port never becomes Root.
	RootGuard bool
}

// DefaultPortConfig returns a point-to-point port with default cost and
// priority.
func DefaultPortConfig(name string) PortConfig {
	return PortConfig{
		Name:     name,
		Enabled:  true,
		LinkType: LinkAuto,
		PathCost: DefaultPathCost,
		Priority: DefaultPortPriority,
	}
}

func validatePathCost(c uint32) error {
	if c < 1 || c > MaxPathCost {
		return fmt.Errorf("path cost %d not in 1..%d: %w", c, MaxPathCost, ErrInvalidParameter)
	}
	return nil
}

// AddPort creates port num as a member of the CIST and every MSTI. An
// enabled port starts its machines immediately.
func (b *Bridge) AddPort(num PortNum, cfg PortConfig) error {
	if num < 1 || num > MaxPortNum {
		return fmt.Errorf("add port %d: number not in 1..%d: %w", num, MaxPortNum, ErrInvalidParameter)
	}
	if _, ok := b.ports[num]; ok {
		return fmt.Errorf("add port %d: %w", num, ErrPortExists)
	}
	if cfg.PathCost == 0 {
		cfg.PathCost = DefaultPathCost
	}
	if err := validatePathCost(cfg.PathCost); err != nil {
		return fmt.Errorf("add port %d: %w", num, err)
	}
	if err := validatePortPriority(cfg.Priority); err != nil {
		return fmt.Errorf("add port %d: %w", num, err)
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("port%d", num)
	}

	p := &Port{
		num:            num,
		name:           cfg.Name,
		adminEdge:      cfg.AdminEdge,
		linkType:       cfg.LinkType,
		restrictedRole: cfg.RootGuard,
		priority:       cfg.Priority,
		pathCost:       cfg.PathCost,
	}
	b.ports[num] = p
	i, _ := slices.BinarySearchFunc(b.portOrder, num, func(x *Port, n PortNum) int { return int(x.num) - int(n) })
	b.portOrder = slices.Insert(b.portOrder, i, p)

	b.allTrees(func(t *Tree) { b.attach(p, t) })
	b.prxInit(p)
	b.ppmInit(p)
	b.ptxInit(p)

	b.logger.Info("port added", slog.Int("port", int(num)), slog.String("name", cfg.Name))
	if cfg.Enabled {
		b.enablePort(p)
	}
	return nil
}

// attach creates the (t, p) record with port defaults and initializes its
// machines in the disabled state.
func (b *Bridge) attach(p *Port, t *Tree) *TreePort {
	tp := &TreePort{
		port:        p,
		tree:        t,
		portID:      NewPortID(p.priority, p.num),
		intPathCost: p.pathCost,
		extPathCost: p.pathCost,
		state:       StateDisabled,
	}
	p.trees[t.index] = tp
	t.addMember(tp)
	b.initTreePort(tp)
	return tp
}

func (b *Bridge) initTreePort(tp *TreePort) {
	b.prtInit(tp)
	b.pstInit(tp)
	b.tcmInit(tp)
	b.pimInit(tp)
}

// RemovePort disables and deletes port num.
func (b *Bridge) RemovePort(num PortNum) error {
	p, ok := b.ports[num]
	if !ok {
		return fmt.Errorf("remove port %d: %w", num, ErrPortNotFound)
	}
	if p.enabled {
		b.disablePort(p)
	}
	for tp := range p.all() {
		tp.tree.removeMember(num)
		b.metrics.DeletePort(tp.tree.mstid, p.name)
	}
	delete(b.ports, num)
	b.portOrder = slices.DeleteFunc(b.portOrder, func(x *Port) bool { return x.num == num })
	b.logger.Info("port removed", slog.Int("port", int(num)), slog.String("name", p.name))
	b.prsGate(b.cistTree())
	return nil
}

// SetPortEnabled reports a link state change.
func (b *Bridge) SetPortEnabled(num PortNum, up bool) error {
	p, ok := b.ports[num]
	if !ok {
		return fmt.Errorf("set port %d enabled: %w", num, ErrPortNotFound)
	}
	switch {
	case up && !p.enabled:
		b.enablePort(p)
	case !up && p.enabled:
		b.disablePort(p)
	}
	return nil
}

func (b *Bridge) enablePort(p *Port) {
	p.enabled = true
	p.operEdge = p.adminEdge
	p.operPt2Pt = p.linkType != LinkShared
	b.logger.Info("port enabled", slog.String("port", p.name))

	b.prxInit(p)
	b.ppmInit(p)
	b.ptxInit(p)
	for tp := range p.all() {
		b.initTreePort(tp)
	}
	for tp := range p.all() {
		b.pimGate(tp)
	}
	b.prsGate(b.cistTree())
	b.ppmGate(p)
	b.ptxGate(p)
}

// disablePort re-initializes every machine of p synchronously and
// reselects roles on the remaining ports.
func (b *Bridge) disablePort(p *Port) {
	p.enabled = false
	b.logger.Info("port disabled", slog.String("port", p.name))

	for tp := range p.all() {
		b.pimGate(tp)
		b.prtInit(tp)
		b.pstInit(tp)
		b.tcmInit(tp)
		b.setRootGuarded(tp, false)
	}
	b.prsGate(b.cistTree())
	b.ptxInit(p)
	b.ppmInit(p)
	b.prxInit(p)
}

// ReceiveFrame validates a BPDU (LLC header removed) received on port num
// and runs the receive cascade. Invalid frames are counted and dropped.
func (b *Bridge) ReceiveFrame(num PortNum, payload []byte) error {
	p, ok := b.ports[num]
	if !ok {
		return fmt.Errorf("receive on port %d: %w", num, ErrPortNotFound)
	}
	if !p.enabled {
		b.metrics.IncBPDUsDropped(p.name, "disabled")
		return fmt.Errorf("receive on port %d: %w", num, ErrPortDisabled)
	}
	if err := UnmarshalBPDU(payload, &p.bpdu); err != nil {
		p.stats.RxDropped++
		b.metrics.IncBPDUsDropped(p.name, DropReason(err))
		b.logger.Debug("bpdu dropped", slog.String("port", p.name), slog.String("error", err.Error()))
		return err
	}
	p.stats.count(&p.bpdu)
	b.metrics.IncBPDUsReceived(p.name, bpduLabel(&p.bpdu))

	if p.operEdge {
		p.operEdge = false
		b.logger.Info("bpdu on edge port", slog.String("port", p.name))
		for tp := range p.all() {
			b.prtGate(tp)
			b.tcmGate(tp)
		}
	}
	p.rcvdBpdu = true
	b.prxGate(p)
	return nil
}
