package mstp

import (
	"fmt"
	"log/slog"
	"time"
)

// -------------------------------------------------------------------------
// Bridge Parameters: 802.1Q-2011 Section 13.26, Table 13-5
// -------------------------------------------------------------------------

// Protocol defaults and limits.
const (
	DefaultMaxAge      = 20
	DefaultHelloTime   = 2
	DefaultFwdDelay    = 15
	DefaultMaxHops     = 20
	DefaultTxHoldCount = 6

	// MigrateTime is the Protocol Migration delay in seconds.
	MigrateTime = 3
)

// BridgeConfig holds the bridge-wide protocol parameters.
type BridgeConfig struct {
	Addr         MAC
	ForceVersion ForceVersion
	Priority     uint16
	MaxAge       uint16
	HelloTime    uint16
	FwdDelay     uint16
	MaxHops      uint8
	TxHoldCount  uint16
	RegionName   string
	Revision     uint16
}

// DefaultBridgeConfig returns the 802.1Q-2011 defaults for addr. The
// region name defaults to the MAC address.
func DefaultBridgeConfig(addr MAC) BridgeConfig {
	return BridgeConfig{
		Addr:         addr,
		ForceVersion: ForceMSTP,
		Priority:     DefaultPriority,
		MaxAge:       DefaultMaxAge,
		HelloTime:    DefaultHelloTime,
		FwdDelay:     DefaultFwdDelay,
		MaxHops:      DefaultMaxHops,
		TxHoldCount:  DefaultTxHoldCount,
		RegionName:   addr.String(),
	}
}

// Validate checks every parameter against the ranges of Table 13-5 and
// the relation 2*(FwdDelay-1) >= MaxAge >= 2*(HelloTime+1).
func (c BridgeConfig) Validate() error {
	switch {
	case c.Addr.IsZero():
		return fmt.Errorf("bridge address unset: %w", ErrInvalidParameter)
	case c.ForceVersion != ForceSTP && c.ForceVersion != ForceRSTP && c.ForceVersion != ForceMSTP:
		return fmt.Errorf("force version %d: %w", c.ForceVersion, ErrInvalidParameter)
	case len(c.RegionName) > ConfigNameSize:
		return fmt.Errorf("region name longer than %d bytes: %w", ConfigNameSize, ErrInvalidParameter)
	case c.MaxHops < 1 || c.MaxHops > 40:
		return fmt.Errorf("max hops %d not in 1..40: %w", c.MaxHops, ErrInvalidParameter)
	case c.TxHoldCount < 1 || c.TxHoldCount > 10:
		return fmt.Errorf("tx hold count %d not in 1..10: %w", c.TxHoldCount, ErrInvalidParameter)
	}
	if err := validatePriority(c.Priority); err != nil {
		return err
	}
	return validateTimes(c.HelloTime, c.MaxAge, c.FwdDelay)
}

func validatePriority(p uint16) error {
	if p > MaxPriority || p%PriorityStep != 0 {
		return fmt.Errorf("bridge priority %d not a multiple of %d up to %d: %w",
			p, PriorityStep, MaxPriority, ErrInvalidParameter)
	}
	return nil
}

func validatePortPriority(p uint8) error {
	if p > MaxPortPriority || p%PortPriorityStep != 0 {
		return fmt.Errorf("port priority %d not a multiple of %d up to %d: %w",
			p, PortPriorityStep, MaxPortPriority, ErrInvalidParameter)
	}
	return nil
}

func validateTimes(hello, maxAge, fwdDelay uint16) error {
	switch {
	case hello < 1 || hello > 10:
		return fmt.Errorf("hello time %d not in 1..10: %w", hello, ErrInvalidParameter)
	case maxAge < 6 || maxAge > 40:
		return fmt.Errorf("max age %d not in 6..40: %w", maxAge, ErrInvalidParameter)
	case fwdDelay < 4 || fwdDelay > 30:
		return fmt.Errorf("forward delay %d not in 4..30: %w", fwdDelay, ErrInvalidParameter)
	case 2*(fwdDelay-1) < maxAge || maxAge < 2*(hello+1):
		return fmt.Errorf("max age %d violates 2*(fwd-1) >= max age >= 2*(hello+1): %w",
			maxAge, ErrInvalidParameter)
	}
	return nil
}

// -------------------------------------------------------------------------
// Collaborators
// -------------------------------------------------------------------------

// DataPlane applies forwarding decisions for one (tree, port) pair.
type DataPlane interface {
	SetPortState(mstid MSTID, port PortNum, state PortState) error
	Flush(mstid MSTID, port PortNum) error
}

// Transmitter hands an encoded BPDU, LLC header excluded, to a port.
type Transmitter interface {
	Transmit(port PortNum, bpdu []byte) error
}

type nopDataPlane struct{}

func (nopDataPlane) SetPortState(MSTID, PortNum, PortState) error { return nil }
func (nopDataPlane) Flush(MSTID, PortNum) error                   { return nil }

type nopTransmitter struct{}

func (nopTransmitter) Transmit(PortNum, []byte) error { return nil }

// -------------------------------------------------------------------------
// Bridge
// -------------------------------------------------------------------------

// Bridge owns every protocol record of one MST bridge. It is not safe for
// concurrent use; see Loop.
type Bridge struct {
	logger    *slog.Logger
	metrics   MetricsReporter
	dataPlane DataPlane
	tx        Transmitter
	onEvent   func(Event)
	now       func() time.Time

	cfg       BridgeConfig
	vlanTable VLANTable
	configID  ConfigID

	// trees is the arena; slots maps an MSTID to its arena index.
	trees [numTrees]*Tree
	slots [MaxMSTID + 1]Index

	ports     map[PortNum]*Port
	portOrder []*Port

	depth int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics reporter. The default is a no-op.
func WithMetrics(mr MetricsReporter) Option {
	return func(b *Bridge) { b.metrics = mr }
}

// WithDataPlane sets the forwarding state sink.
func WithDataPlane(dp DataPlane) Option {
	return func(b *Bridge) { b.dataPlane = dp }
}

// WithTransmitter sets the BPDU sink.
func WithTransmitter(tx Transmitter) Option {
	return func(b *Bridge) { b.tx = tx }
}

// WithEventHandler registers fn for every protocol event. fn runs on the
// bridge goroutine and must not block.
func WithEventHandler(fn func(Event)) Option {
	return func(b *Bridge) { b.onEvent = fn }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// NewBridge validates cfg and creates a bridge with only the CIST and no
// ports.
func NewBridge(cfg BridgeConfig, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new bridge: %w", err)
	}
	b := &Bridge{
		logger:    slog.New(slog.DiscardHandler),
		metrics:   noopMetrics{},
		dataPlane: nopDataPlane{},
		tx:        nopTransmitter{},
		now:       time.Now,
		cfg:       cfg,
		ports:     make(map[PortNum]*Port),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With(slog.String("component", "mstp"))

	for i := range b.slots {
		b.slots[i] = InvalidIndex
	}
	cist := b.newTree(CISTIndex, CISTID)
	b.trees[CISTIndex] = cist
	b.slots[CISTID] = CISTIndex
	for vid := range b.vlanTable {
		cist.vlans.Add(uint16(vid))
	}
	b.updateConfigID()

	b.prsInit(cist)
	b.logger.Info("bridge created",
		slog.String("bridge_id", cist.bridgeID.String()),
		slog.String("force_version", cfg.ForceVersion.String()),
	)
	return b, nil
}

// Config returns the current bridge parameters.
func (b *Bridge) Config() BridgeConfig { return b.cfg }

// ConfigID returns the MST Configuration Identifier in force.
func (b *Bridge) ConfigID() ConfigID { return b.configID }

func (b *Bridge) updateConfigID() {
	b.configID = NewConfigID(b.cfg.RegionName, b.cfg.Revision, &b.vlanTable)
}

func (b *Bridge) cistTree() *Tree { return b.trees[CISTIndex] }

// bridgeTimes returns the bridge's own times for the CIST or an MSTI.
func (b *Bridge) bridgeTimes(cist bool) Times {
	if !cist {
		return Times{RemainingHops: b.cfg.MaxHops}
	}
	return Times{
		MaxAge:        b.cfg.MaxAge,
		FwdDelay:      b.cfg.FwdDelay,
		HelloTime:     b.cfg.HelloTime,
		RemainingHops: b.cfg.MaxHops,
	}
}

func (b *Bridge) newTree(idx Index, mstid MSTID) *Tree {
	t := &Tree{b: b, index: idx, mstid: mstid}
	if idx == CISTIndex {
		t.rules = cistRules{}
	} else {
		t.rules = mstiRules{}
	}
	t.bridgeTimes = b.bridgeTimes(idx == CISTIndex)
	b.setTreePriority(t, b.cfg.Priority)
	t.rootPriority = t.bridgePriority
	t.rootTimes = t.bridgeTimes
	return t
}

// setTreePriority rebuilds the bridge identifier and bridge priority
// vector of t.
func (b *Bridge) setTreePriority(t *Tree, priority uint16) {
	t.bridgeID = NewBridgeID(priority, t.mstid, b.cfg.Addr)
	if t.isCIST() {
		t.bridgePriority = Vector{
			Root:         t.bridgeID,
			RegionalRoot: t.bridgeID,
			DesignatedID: t.bridgeID,
		}
		return
	}
	t.bridgePriority = Vector{
		RegionalRoot: t.bridgeID,
		DesignatedID: t.bridgeID,
	}
}

// tree returns the tree for mstid after a bounds-checked slot lookup.
func (b *Bridge) tree(mstid MSTID) *Tree {
	if mstid > MaxMSTID {
		return nil
	}
	idx := b.slots[mstid]
	if idx == InvalidIndex || int(idx) >= len(b.trees) {
		return nil
	}
	return b.trees[idx]
}

func (b *Bridge) treePort(mstid MSTID, num PortNum) *TreePort {
	p := b.ports[num]
	t := b.tree(mstid)
	if p == nil || t == nil {
		return nil
	}
	return p.trees[t.index]
}

// mstiTrees yields every allocated MSTI in slot order.
func (b *Bridge) mstiTrees(fn func(*Tree)) {
	for _, t := range b.trees[CISTIndex+1:] {
		if t != nil {
			fn(t)
		}
	}
}

func (b *Bridge) allTrees(fn func(*Tree)) {
	for _, t := range b.trees {
		if t != nil {
			fn(t)
		}
	}
}

// BPDU helpers that depend on the root times of the CIST.
func (b *Bridge) fwdDelay() uint16 { return b.cistTree().rootTimes.FwdDelay }
func (b *Bridge) maxAge() uint16   { return b.cistTree().rootTimes.MaxAge }

// helloTime returns the CIST root hello time, or the bridge hello time
// before any root times exist.
func (b *Bridge) helloTime() uint16 {
	if h := b.cistTree().rootTimes.HelloTime; h != 0 {
		return h
	}
	return b.cfg.HelloTime
}

// portHelloTime is the hello time a port uses for its transmit and
// topology change timers.
func (b *Bridge) portHelloTime(p *Port) uint16 {
	if h := p.cist().portTimes.HelloTime; h != 0 {
		return h
	}
	return b.cfg.HelloTime
}

// maxCascadeDepth bounds signal recursion between machines.
const maxCascadeDepth = 512

// enter guards a gate against runaway recursion and reports whether the
// gate may run. Every successful enter is paired with leave.
func (b *Bridge) enter(machine string, mstid MSTID, port PortNum) bool {
	if b.depth >= maxCascadeDepth {
		b.logger.Error("state machine cascade too deep",
			slog.String("machine", machine),
			slog.Int("mstid", int(mstid)),
			slog.Int("port", int(port)),
		)
		return false
	}
	b.depth++
	return true
}

func (b *Bridge) leave() { b.depth-- }
