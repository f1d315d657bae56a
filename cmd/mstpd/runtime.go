//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dantte-lp/gomstp/internal/config"
	mstpmetrics "github.com/dantte-lp/gomstp/internal/metrics"
	"github.com/dantte-lp/gomstp/internal/mstp"
	"github.com/dantte-lp/gomstp/internal/netio"
)

// errPortMissing indicates a port that vanished from the bridge between
// reconcile steps.
var errPortMissing = errors.New("port missing from bridge")

// portOpener opens the frame connection of bridge port num on ifName.
type portOpener func(num mstp.PortNum, ifName string) (*netio.Listener, error)

// bridgeRuntime owns the running bridge and the per-port I/O around it.
// The protocol state lives on the loop goroutine; the maps below track
// which interfaces are attached and are guarded by mu.
type bridgeRuntime struct {
	loop   *mstp.Loop
	hub    *mstp.EventHub
	recv   *netio.Receiver
	sender *netio.Sender
	// dp is nil when the data plane is disabled.
	dp     *netio.KernelBridge
	open   portOpener
	logger *slog.Logger

	mu sync.Mutex
	// ports maps interface names to attached port numbers.
	ports map[string]mstp.PortNum
	// admin holds the configured enabled flag of each attached port.
	admin map[string]bool
	// links holds the last reported carrier state per interface.
	links map[string]bool
}

// newBridgeRuntime builds the bridge described by cfg with no ports.
// Call reconcile once the loop runs to attach ports and instances.
func newBridgeRuntime(
	cfg *config.Config,
	collector *mstpmetrics.Collector,
	open portOpener,
	logger *slog.Logger,
) (*bridgeRuntime, error) {
	addr, err := bridgeAddress(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	bcfg, err := cfg.Bridge.Protocol(addr)
	if err != nil {
		return nil, fmt.Errorf("bridge config: %w", err)
	}

	r := &bridgeRuntime{
		hub:    mstp.NewEventHub(logger),
		sender: netio.NewSender(logger),
		open:   open,
		logger: logger.With(slog.String("component", "mstpd.runtime")),
		ports:  make(map[string]mstp.PortNum),
		admin:  make(map[string]bool),
		links:  make(map[string]bool),
	}

	opts := []mstp.Option{
		mstp.WithLogger(logger),
		mstp.WithTransmitter(r.sender),
		mstp.WithEventHandler(r.hub.Publish),
	}
	var recvOpts []netio.ReceiverOption
	if collector != nil {
		opts = append(opts, mstp.WithMetrics(collector))
		recvOpts = append(recvOpts, netio.WithDropCounter(collector))
	}
	if cfg.DataPlane.Enabled {
		r.dp = netio.NewKernelBridge(logger,
			netio.WithSysfsRoot(cfg.DataPlane.SysfsRoot),
			netio.WithLearning(netio.NetlinkLearning),
		)
		opts = append(opts, mstp.WithDataPlane(r.dp))
	}

	b, err := mstp.NewBridge(bcfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bridge: %w", err)
	}
	r.loop = mstp.NewLoop(b, logger)
	r.recv = netio.NewReceiver(r.loop, logger, recvOpts...)

	r.logger.Info("bridge created",
		slog.String("name", cfg.Bridge.Name),
		slog.String("address", addr.String()),
		slog.String("force_version", bcfg.ForceVersion.String()),
		slog.String("region", bcfg.RegionName),
	)
	return r, nil
}

// bridgeAddress returns the bridge.mac override or the MAC of the bridge
// interface.
func bridgeAddress(bc config.BridgeConfig) (mstp.MAC, error) {
	if addr, ok := bc.Address(); ok {
		return addr, nil
	}
	addr, err := netio.InterfaceMAC(bc.Name)
	if err != nil {
		return mstp.MAC{}, fmt.Errorf("bridge address: %w", err)
	}
	return addr, nil
}

// Close detaches every port.
func (r *bridgeRuntime) Close() error {
	return r.recv.Close()
}

// -------------------------------------------------------------------------
// Reconciliation
// -------------------------------------------------------------------------

// reconcile brings the running bridge in line with cfg: bridge
// parameters, then ports, then instances. Every step is attempted; the
// joined error lists the ones that failed.
func (r *bridgeRuntime) reconcile(ctx context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	if err := r.loop.Do(ctx, func(b *mstp.Bridge) error {
		return r.applyBridge(b, cfg.Bridge)
	}); err != nil {
		errs = errors.Join(errs, fmt.Errorf("bridge: %w", err))
	}

	errs = errors.Join(errs, r.reconcilePorts(ctx, cfg.Ports))

	ports := maps.Clone(r.ports)
	if err := r.loop.Do(ctx, func(b *mstp.Bridge) error {
		return applyInstances(b, cfg.Instances, ports)
	}); err != nil {
		errs = errors.Join(errs, fmt.Errorf("instances: %w", err))
	}

	r.logger.Info("configuration applied",
		slog.Int("ports", len(r.ports)),
		slog.Int("instances", len(cfg.Instances)),
	)
	return errs
}

// applyBridge changes only the parameters that differ, so a reload with
// an unchanged region does not restart the protocol.
func (r *bridgeRuntime) applyBridge(b *mstp.Bridge, bc config.BridgeConfig) error {
	cur := b.Config()
	if addr, ok := bc.Address(); ok && addr != cur.Addr {
		r.logger.Warn("bridge address change needs a restart",
			slog.String("running", cur.Addr.String()),
			slog.String("configured", addr.String()),
		)
	}
	want, err := bc.Protocol(cur.Addr)
	if err != nil {
		return err
	}

	var errs error
	if want.ForceVersion != cur.ForceVersion {
		errs = errors.Join(errs, b.SetForceVersion(want.ForceVersion))
	}
	if want.HelloTime != cur.HelloTime || want.MaxAge != cur.MaxAge || want.FwdDelay != cur.FwdDelay {
		errs = errors.Join(errs, b.SetBridgeTimes(want.HelloTime, want.MaxAge, want.FwdDelay))
	}
	if want.MaxHops != cur.MaxHops {
		errs = errors.Join(errs, b.SetMaxHops(want.MaxHops))
	}
	if want.TxHoldCount != cur.TxHoldCount {
		errs = errors.Join(errs, b.SetTxHoldCount(want.TxHoldCount))
	}
	if want.Priority != cur.Priority {
		errs = errors.Join(errs, b.SetPriority(mstp.CISTID, want.Priority))
	}
	return errors.Join(errs, b.SetRegion(want.RegionName, want.Revision))
}

// reconcilePorts removes ports that left the configuration (or changed
// number), adds new ones and updates the rest. Callers hold r.mu.
func (r *bridgeRuntime) reconcilePorts(ctx context.Context, ports []config.PortConfig) error {
	want := make(map[string]config.PortConfig, len(ports))
	for _, pc := range ports {
		want[pc.Name] = pc
	}

	var errs error
	for name, num := range r.ports {
		pc, ok := want[name]
		if ok && mstp.PortNum(pc.Number) == num {
			continue
		}
		errs = errors.Join(errs, r.removePort(ctx, name, num))
	}

	for _, pc := range ports {
		r.admin[pc.Name] = pc.IsEnabled()
		if _, ok := r.ports[pc.Name]; ok {
			errs = errors.Join(errs, r.updatePort(ctx, pc))
			continue
		}
		errs = errors.Join(errs, r.addPort(ctx, pc))
	}
	return errs
}

// operUp combines the configured state with the carrier state. An
// interface the link monitor has not reported on counts as up.
func (r *bridgeRuntime) operUp(name string) bool {
	up, known := r.links[name]
	return r.admin[name] && (!known || up)
}

func (r *bridgeRuntime) addPort(ctx context.Context, pc config.PortConfig) error {
	num := mstp.PortNum(pc.Number)
	ln, err := r.open(num, pc.Name)
	if err != nil {
		return fmt.Errorf("open port %s: %w", pc.Name, err)
	}

	pcfg := pc.Protocol()
	pcfg.Enabled = r.operUp(pc.Name)
	if pc.PathCost == 0 && r.dp != nil {
		if mbps, err := r.dp.LinkSpeed(pc.Name); err == nil {
			pcfg.PathCost = netio.PathCostForSpeed(mbps)
		}
	}

	r.sender.Add(num, ln.Conn())
	if r.dp != nil {
		r.dp.Add(num, pc.Name)
	}
	if err := r.loop.Do(ctx, func(b *mstp.Bridge) error { return b.AddPort(num, pcfg) }); err != nil {
		r.sender.Remove(num)
		if r.dp != nil {
			r.dp.Remove(num)
		}
		return errors.Join(fmt.Errorf("add port %s: %w", pc.Name, err), ln.Close())
	}
	if err := r.recv.Attach(ctx, ln); err != nil {
		return fmt.Errorf("attach port %s: %w", pc.Name, err)
	}

	r.ports[pc.Name] = num
	r.logger.Info("port added",
		slog.String("port", pc.Name),
		slog.Int("number", int(num)),
		slog.Uint64("path_cost", uint64(pcfg.PathCost)),
		slog.Bool("enabled", pcfg.Enabled),
	)
	return nil
}

func (r *bridgeRuntime) removePort(ctx context.Context, name string, num mstp.PortNum) error {
	err := r.loop.Do(ctx, func(b *mstp.Bridge) error { return b.RemovePort(num) })
	err = errors.Join(err, r.recv.Detach(num))
	r.sender.Remove(num)
	if r.dp != nil {
		r.dp.Remove(num)
	}
	delete(r.ports, name)
	delete(r.admin, name)

	r.logger.Info("port removed", slog.String("port", name), slog.Int("number", int(num)))
	if err != nil {
		return fmt.Errorf("remove port %s: %w", name, err)
	}
	return nil
}

func (r *bridgeRuntime) updatePort(ctx context.Context, pc config.PortConfig) error {
	num := r.ports[pc.Name]
	up := r.operUp(pc.Name)
	err := r.loop.Do(ctx, func(b *mstp.Bridge) error { return applyPort(b, num, pc, up) })
	if err != nil {
		return fmt.Errorf("update port %s: %w", pc.Name, err)
	}
	return nil
}

// applyPort sets the per-port and CIST parameters of num that differ from
// pc. A zero path cost keeps the running cost, which may come from the
// link speed.
func applyPort(b *mstp.Bridge, num mstp.PortNum, pc config.PortConfig, up bool) error {
	s, err := b.Port(num)
	if err != nil {
		return err
	}
	cist, ok := cistEntry(s)
	if !ok {
		return fmt.Errorf("port %d: %w", num, errPortMissing)
	}
	want := pc.Protocol()

	var errs error
	if s.Enabled != up {
		errs = errors.Join(errs, b.SetPortEnabled(num, up))
	}
	if s.AdminEdge != want.AdminEdge {
		errs = errors.Join(errs, b.SetPortAdminEdge(num, want.AdminEdge))
	}
	if s.LinkType != want.LinkType {
		errs = errors.Join(errs, b.SetPortLinkType(num, want.LinkType))
	}
	if s.RootGuard != want.RootGuard {
		errs = errors.Join(errs, b.SetPortRootGuard(num, want.RootGuard))
	}
	if pc.PathCost != 0 && cist.ExtPathCost != pc.PathCost {
		errs = errors.Join(errs, b.SetPortPathCost(mstp.CISTID, num, pc.PathCost))
	}
	if cist.PortID.Priority() != want.Priority {
		errs = errors.Join(errs, b.SetPortPriority(mstp.CISTID, num, want.Priority))
	}
	return errs
}

func cistEntry(s mstp.PortSnapshot) (mstp.TreePortSnapshot, bool) {
	for _, tp := range s.Trees {
		if tp.MSTID == mstp.CISTID {
			return tp, true
		}
	}
	return mstp.TreePortSnapshot{}, false
}

// applyInstances frees MSTIs that left the configuration, then maps VLANs,
// priority and per-port overrides of the configured ones. VLAN sets are
// only written when they differ since each write restarts the protocol.
func applyInstances(b *mstp.Bridge, instances []config.InstanceConfig, ports map[string]mstp.PortNum) error {
	want := make(map[mstp.MSTID]struct{}, len(instances))
	for _, ic := range instances {
		want[mstp.MSTID(ic.MSTID)] = struct{}{}
	}

	var errs error
	for _, id := range b.Snapshot().Instances {
		if _, ok := want[id]; !ok {
			errs = errors.Join(errs, b.RemoveInstance(id))
		}
	}

	for _, ic := range instances {
		errs = errors.Join(errs, applyInstance(b, ic, ports))
	}
	return errs
}

func applyInstance(b *mstp.Bridge, ic config.InstanceConfig, ports map[string]mstp.PortNum) error {
	id := mstp.MSTID(ic.MSTID)
	vlans, err := ic.VLANSet()
	if err != nil {
		return err
	}
	if cur, err := b.Tree(id); err != nil || cur.VLANs != vlans {
		if err := b.SetInstanceVLANs(id, vlans); err != nil {
			return fmt.Errorf("mstid %d: %w", id, err)
		}
	}

	t, err := b.Tree(id)
	if err != nil {
		return err
	}

	var errs error
	prio := uint16(mstp.DefaultPriority)
	if ic.Priority != nil {
		prio = *ic.Priority
	}
	if t.BridgeID.Priority != prio {
		errs = errors.Join(errs, b.SetPriority(id, prio))
	}

	for _, ip := range ic.Ports {
		num, ok := ports[ip.Name]
		if !ok {
			continue
		}
		tp, ok := memberEntry(t, num)
		if !ok {
			continue
		}
		if ip.PathCost != 0 && tp.IntPathCost != ip.PathCost {
			errs = errors.Join(errs, b.SetPortPathCost(id, num, ip.PathCost))
		}
		if ip.Priority != nil && tp.PortID.Priority() != *ip.Priority {
			errs = errors.Join(errs, b.SetPortPriority(id, num, *ip.Priority))
		}
	}
	if errs != nil {
		return fmt.Errorf("mstid %d: %w", id, errs)
	}
	return nil
}

func memberEntry(t mstp.TreeSnapshot, num mstp.PortNum) (mstp.TreePortSnapshot, bool) {
	for _, tp := range t.Ports {
		if tp.Port == num {
			return tp, true
		}
	}
	return mstp.TreePortSnapshot{}, false
}

// -------------------------------------------------------------------------
// Link Events
// -------------------------------------------------------------------------

// watchLinks forwards interface carrier changes to the ports attached to
// those interfaces until ctx is cancelled or events is closed.
func (r *bridgeRuntime) watchLinks(ctx context.Context, events <-chan netio.InterfaceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handleLink(ctx, ev)
		}
	}
}

func (r *bridgeRuntime) handleLink(ctx context.Context, ev netio.InterfaceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.links[ev.IfName] = ev.Up
	num, ok := r.ports[ev.IfName]
	if !ok {
		return
	}
	up := r.operUp(ev.IfName)
	if err := r.loop.SetLink(ctx, mstp.LinkEvent{Port: num, Up: up}); err != nil {
		r.logger.Warn("failed to queue link event",
			slog.String("port", ev.IfName),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("link changed",
		slog.String("port", ev.IfName),
		slog.Bool("carrier", ev.Up),
		slog.Bool("enabled", up),
	)
}
