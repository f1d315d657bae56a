package mstp_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// convergeSecs exceeds twice the default forward delay, the worst case
// for a port that never completes a proposal handshake.
const convergeSecs = 45

// assertPSTSafety fails if any recorded state sequence goes straight from
// Discarding to Forwarding.
func assertPSTSafety(t *testing.T, lbs ...*labBridge) {
	t.Helper()

	for _, lb := range lbs {
		for k, seq := range lb.states {
			for i := 1; i < len(seq); i++ {
				if seq[i-1] == mstp.StateDiscarding && seq[i] == mstp.StateForwarding {
					t.Errorf("bridge %d mstid %d port %d: Discarding -> Forwarding in %v",
						lb.idx, k.mstid, k.port, seq)
				}
			}
		}
	}
}

func withPriority(p uint16) func(*mstp.BridgeConfig) {
	return func(c *mstp.BridgeConfig) { c.Priority = p }
}

// -------------------------------------------------------------------------
// Two bridges, one link
// -------------------------------------------------------------------------

func TestTwoBridgesConverge(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	a := l.add(1, withPriority(4096))
	b := l.add(2, nil)
	l.link(a, 1, b, 1)
	l.run(convergeSecs)

	a.assertRole(t, mstp.CISTID, 1, mstp.RoleDesignated, mstp.StateForwarding)
	b.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)

	as, bs := a.Snapshot(), b.Snapshot()
	if as.RootPort != 0 || as.Root.Root != as.BridgeID {
		t.Errorf("bridge a: root port %d root %s, want itself", as.RootPort, as.Root.Root)
	}
	if bs.RootPort != 1 || bs.Root.Root != as.BridgeID {
		t.Errorf("bridge b: root port %d root %s, want port 1 towards %s", bs.RootPort, bs.Root.Root, as.BridgeID)
	}
	if bs.Root.ExtPathCost != 0 || bs.Root.IntPathCost != mstp.DefaultPathCost {
		t.Errorf("bridge b root path: ext %d int %d, want 0/%d in one region",
			bs.Root.ExtPathCost, bs.Root.IntPathCost, mstp.DefaultPathCost)
	}
	assertPSTSafety(t, a, b)

	t.Run("reselection is idempotent", func(t *testing.T) {
		type view struct {
			role   mstp.Role
			state  mstp.PortState
			port   mstp.Vector
			desig  mstp.Vector
			infoIs mstp.InfoIs
		}
		capture := func() view {
			s := b.treePort(t, mstp.CISTID, 1)
			return view{s.Role, s.State, s.PortPriority, s.DesignatedPriority, s.InfoIs}
		}

		before, events := capture(), len(b.events)
		// Rewriting an unchanged setting forces role selection on every tree.
		if err := b.SetPortAdminEdge(1, false); err != nil {
			t.Fatal(err)
		}
		if after := capture(); after != before {
			t.Errorf("after reselection %+v, before %+v", after, before)
		}
		if len(b.events) != events {
			t.Errorf("reselection emitted %v", b.events[events:])
		}
	})
}

// Re-received unchanged information causes no role change and no extra
// transmissions beyond the hello timer.
func TestRepeatedInformationIsStable(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	a := l.add(1, withPriority(4096))
	b := l.add(2, nil)
	l.link(a, 1, b, 1)
	l.run(convergeSecs)

	roles := a.countEvents(mstp.EventRoleChange) + b.countEvents(mstp.EventRoleChange)
	txA, txB := a.tx, b.tx
	const quiet = 30
	l.run(quiet)

	if got := a.countEvents(mstp.EventRoleChange) + b.countEvents(mstp.EventRoleChange); got != roles {
		t.Errorf("role changes after convergence: %d new", got-roles)
	}
	// One BPDU per hello time, with slack for timer phase.
	limit := quiet/mstp.DefaultHelloTime + 5
	if n := a.tx - txA; n > limit {
		t.Errorf("bridge a sent %d BPDUs in %ds, want at most %d", n, quiet, limit)
	}
	if n := b.tx - txB; n > limit {
		t.Errorf("bridge b sent %d BPDUs in %ds, want at most %d", n, quiet, limit)
	}
}

// -------------------------------------------------------------------------
// Triangle: one port must block
// -------------------------------------------------------------------------

func TestTriangleBlocksOnePort(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	a := l.add(1, withPriority(4096))
	b := l.add(2, nil)
	c := l.add(3, nil)
	l.link(a, 1, b, 1)
	l.link(a, 2, c, 1)
	l.link(b, 2, c, 2)
	l.run(convergeSecs)

	a.assertRole(t, mstp.CISTID, 1, mstp.RoleDesignated, mstp.StateForwarding)
	a.assertRole(t, mstp.CISTID, 2, mstp.RoleDesignated, mstp.StateForwarding)
	b.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)
	c.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)
	// Equal cost to the root: the lower bridge address is designated.
	b.assertRole(t, mstp.CISTID, 2, mstp.RoleDesignated, mstp.StateForwarding)
	c.assertRole(t, mstp.CISTID, 2, mstp.RoleAlternate, mstp.StateDiscarding)
	assertPSTSafety(t, a, b, c)

	t.Run("failover", func(t *testing.T) {
		l.cut(a, 1)
		l.run(convergeSecs)

		b.assertRole(t, mstp.CISTID, 2, mstp.RoleRoot, mstp.StateForwarding)
		c.assertRole(t, mstp.CISTID, 2, mstp.RoleDesignated, mstp.StateForwarding)
		if bs := b.Snapshot(); bs.RootPort != 2 || bs.Root.IntPathCost != 2*mstp.DefaultPathCost {
			t.Errorf("bridge b: root port %d cost %d, want port 2 cost %d",
				bs.RootPort, bs.Root.IntPathCost, 2*mstp.DefaultPathCost)
		}
		if c.countEvents(mstp.EventTopologyChange) == 0 {
			t.Error("no topology change reported when the alternate port took over")
		}
		assertPSTSafety(t, a, b, c)
	})
}

// -------------------------------------------------------------------------
// Root guard
// -------------------------------------------------------------------------

func TestRootGuard(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	a := l.add(1, withPriority(8192))
	b := l.add(2, nil)
	c := l.add(3, withPriority(4096))
	l.rootGuard(b, 2)
	l.link(a, 1, b, 1)
	l.link(b, 2, c, 1)
	l.run(convergeSecs)

	// The superior root behind port 2 is refused.
	s := b.treePort(t, mstp.CISTID, 2)
	if !s.RootGuarded || s.Role == mstp.RoleRoot || s.State != mstp.StateDiscarding {
		t.Errorf("guarded port: role %s state %s guarded %v", s.Role, s.State, s.RootGuarded)
	}
	if bs := b.Snapshot(); bs.RootPort != 1 || bs.Root.Root != a.Snapshot().BridgeID {
		t.Errorf("bridge b root port %d root %s, want port 1 towards a", bs.RootPort, bs.Root.Root)
	}
	if b.countEvents(mstp.EventRootGuard) == 0 {
		t.Error("no root guard event")
	}

	t.Run("released", func(t *testing.T) {
		if err := b.SetPortRootGuard(2, false); err != nil {
			t.Fatalf("SetPortRootGuard: %v", err)
		}
		l.run(convergeSecs)

		s := b.treePort(t, mstp.CISTID, 2)
		if s.RootGuarded {
			t.Error("port still flagged after root guard was disabled")
		}
		if bs := b.Snapshot(); bs.RootPort != 2 {
			t.Errorf("root port = %d, want 2", bs.RootPort)
		}
		assertPSTSafety(t, a, b, c)
	})
}

// A restricted port that is also the only path leaves the bridge as its
// own root.
func TestRootGuardOnlyPath(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	b := l.add(2, nil)
	c := l.add(3, withPriority(4096))
	l.rootGuard(b, 1)
	l.link(b, 1, c, 1)
	l.run(convergeSecs)

	bs := b.Snapshot()
	if bs.RootPort != 0 || bs.Root.Root != bs.BridgeID {
		t.Errorf("root port %d root %s, want bridge b itself", bs.RootPort, bs.Root.Root)
	}
	if s := b.treePort(t, mstp.CISTID, 1); !s.RootGuarded || s.State == mstp.StateForwarding {
		t.Errorf("guarded port: state %s guarded %v", s.State, s.RootGuarded)
	}
}

// -------------------------------------------------------------------------
// Multiple instances
// -------------------------------------------------------------------------

func TestMSTIIndependentRoot(t *testing.T) {
	t.Parallel()

	vlans, err := mstp.ParseVLANSet("10-19")
	if err != nil {
		t.Fatal(err)
	}

	l := newLab(t)
	a := l.add(1, withPriority(4096))
	b := l.add(2, nil)
	for _, lb := range []*labBridge{a, b} {
		if err := lb.SetInstanceVLANs(1, vlans); err != nil {
			t.Fatalf("SetInstanceVLANs: %v", err)
		}
	}
	// a is CIST root but keeps the default priority in MSTI 1, so b wins
	// the MSTI.
	if err := a.SetPriority(1, mstp.DefaultPriority); err != nil {
		t.Fatalf("SetPriority a: %v", err)
	}
	if err := b.SetPriority(1, 4096); err != nil {
		t.Fatalf("SetPriority b: %v", err)
	}
	l.link(a, 1, b, 1)
	l.run(convergeSecs)

	if a.ConfigID() != b.ConfigID() {
		t.Fatal("bridges with the same mapping are in different regions")
	}
	if a.countEvents(mstp.EventBoundaryChange) == 0 {
		t.Error("port never reported joining the region")
	}
	a.assertRole(t, mstp.CISTID, 1, mstp.RoleDesignated, mstp.StateForwarding)
	b.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)
	a.assertRole(t, 1, 1, mstp.RoleRoot, mstp.StateForwarding)
	b.assertRole(t, 1, 1, mstp.RoleDesignated, mstp.StateForwarding)

	ta, err := a.Tree(1)
	if err != nil {
		t.Fatal(err)
	}
	if want := mstp.NewBridgeID(4096, 1, mac(2)); ta.Root.RegionalRoot != want {
		t.Errorf("msti 1 regional root on a = %s, want %s", ta.Root.RegionalRoot, want)
	}
	tc, err := a.Tree(mstp.CISTID)
	if err != nil {
		t.Fatal(err)
	}
	if tc.Root.RegionalRoot.Addr == ta.Root.RegionalRoot.Addr {
		t.Errorf("msti 1 shares the CIST regional root bridge %s", tc.Root.RegionalRoot)
	}
	assertPSTSafety(t, a, b)
}

// A boundary port that is CIST Root is Master in every MSTI.
func TestBoundaryRootPortIsMaster(t *testing.T) {
	t.Parallel()

	vlans, err := mstp.ParseVLANSet("100")
	if err != nil {
		t.Fatal(err)
	}

	l := newLab(t)
	x := l.add(1, nil)
	y := l.add(2, func(c *mstp.BridgeConfig) {
		c.Priority = 4096
		c.ForceVersion = mstp.ForceRSTP
	})
	if err := x.SetInstanceVLANs(7, vlans); err != nil {
		t.Fatalf("SetInstanceVLANs: %v", err)
	}
	l.link(x, 1, y, 1)
	l.run(convergeSecs)

	if ps, err := x.Port(1); err != nil || !ps.Boundary {
		t.Fatalf("port 1 boundary = %v, err %v", ps.Boundary, err)
	}
	x.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)
	x.assertRole(t, 7, 1, mstp.RoleMaster, mstp.StateForwarding)
	assertPSTSafety(t, x, y)
}

// When the CIST root moves outside the region, the boundary port turns
// from Designated to Master and every MSTI resynchronises behind it.
func TestBoundaryMasterAfterRootMoves(t *testing.T) {
	t.Parallel()

	vlans, err := mstp.ParseVLANSet("100")
	if err != nil {
		t.Fatal(err)
	}

	l := newLab(t)
	x := l.add(1, nil)
	y := l.add(2, func(c *mstp.BridgeConfig) { c.ForceVersion = mstp.ForceRSTP })
	z := l.add(3, nil)
	for _, lb := range []*labBridge{x, z} {
		if err := lb.SetInstanceVLANs(7, vlans); err != nil {
			t.Fatalf("SetInstanceVLANs: %v", err)
		}
	}
	l.link(x, 1, y, 1)
	l.link(x, 2, z, 1)
	l.run(convergeSecs)

	x.assertRole(t, mstp.CISTID, 1, mstp.RoleDesignated, mstp.StateForwarding)
	x.assertRole(t, 7, 1, mstp.RoleDesignated, mstp.StateForwarding)

	if err := y.SetPriority(mstp.CISTID, 4096); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	l.run(convergeSecs)

	x.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)
	x.assertRole(t, 7, 1, mstp.RoleMaster, mstp.StateForwarding)
	x.assertRole(t, 7, 2, mstp.RoleDesignated, mstp.StateForwarding)
	z.assertRole(t, 7, 1, mstp.RoleRoot, mstp.StateForwarding)
	assertPSTSafety(t, x, y, z)
}

// -------------------------------------------------------------------------
// Single bridge driven by crafted frames
// -------------------------------------------------------------------------

func encode(t *testing.T, b *mstp.BPDU) []byte {
	t.Helper()

	buf := make([]byte, b.Size())
	if _, err := mstp.MarshalBPDU(b, buf); err != nil {
		t.Fatalf("MarshalBPDU: %v", err)
	}
	return buf
}

// A superior Configuration BPDU makes the port Root and it
// moves through Learning to Forwarding.
func TestConfigBPDUSelectsRootPort(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	b := l.add(2, nil)
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatal(err)
	}

	frame := encode(t, &mstp.BPDU{
		Version:      mstp.VersionSTP,
		Type:         mstp.TypeConfig,
		Root:         bid(4096, 1),
		RegionalRoot: bid(4096, 1),
		PortID:       mstp.NewPortID(128, 1),
		MaxAge:       20,
		HelloTime:    2,
		FwdDelay:     15,
	})
	for i := range convergeSecs {
		if i%2 == 0 {
			if err := b.ReceiveFrame(1, frame); err != nil {
				t.Fatalf("ReceiveFrame: %v", err)
			}
		}
		b.Tick()
	}

	b.assertRole(t, mstp.CISTID, 1, mstp.RoleRoot, mstp.StateForwarding)

	seq := b.states[stateKey{mstp.CISTID, 1}]
	want := []mstp.PortState{mstp.StateDiscarding, mstp.StateLearning, mstp.StateForwarding}
	if len(seq) < len(want) || !equalStates(seq[len(seq)-len(want):], want) {
		t.Errorf("state sequence %v, want it to end with %v", seq, want)
	}
	ps, err := b.Port(1)
	if err != nil {
		t.Fatal(err)
	}
	if ps.SendRSTP {
		t.Error("port still sends RST BPDUs to an STP neighbor")
	}
	if ps.Stats.RxConfig == 0 {
		t.Error("config BPDUs not counted")
	}
	assertPSTSafety(t, b)
}

func equalStates(a, b []mstp.PortState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// After a priority change and restore, an echo of the old
// identifier is not accepted as superior.
func TestStaleSelfInformationIgnored(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	b := l.add(2, nil)
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatal(err)
	}
	for _, p := range []uint16{4096, mstp.DefaultPriority} {
		if err := b.SetPriority(mstp.CISTID, p); err != nil {
			t.Fatalf("SetPriority(%d): %v", p, err)
		}
	}

	stale := mstp.NewBridgeID(4096, 0, mac(2))
	frame := encode(t, &mstp.BPDU{
		Version:      mstp.VersionRSTP,
		Type:         mstp.TypeRST,
		Flags:        mstp.Flags(0).WithRole(mstp.RoleDesignated),
		Root:         stale,
		ExtPathCost:  20000,
		RegionalRoot: bid(32768, 9),
		PortID:       mstp.NewPortID(128, 1),
		MaxAge:       20,
		HelloTime:    2,
		FwdDelay:     15,
	})
	if err := b.ReceiveFrame(1, frame); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	b.Tick()

	bs := b.Snapshot()
	if bs.RootPort != 0 || bs.Root.Root != bs.BridgeID {
		t.Errorf("root port %d root %s, want bridge itself %s", bs.RootPort, bs.Root.Root, bs.BridgeID)
	}
	if s := b.treePort(t, mstp.CISTID, 1); s.Role != mstp.RoleDesignated {
		t.Errorf("port role = %s, want Designated", s.Role)
	}
}

// An inferior designated BPDU with the learning flag set records a dispute
// that survives until the next sweep reports it.
func TestInferiorLearningBPDURecordsDispute(t *testing.T) {
	t.Parallel()

	rec := newRecordingMetrics()
	b := newBridge(t, mstp.WithMetrics(rec))
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatal(err)
	}
	b.Tick()

	inferior := bid(mstp.DefaultPriority, 9)
	frame := encode(t, &mstp.BPDU{
		Version:      mstp.VersionRSTP,
		Type:         mstp.TypeRST,
		Flags:        mstp.Flags(0).WithRole(mstp.RoleDesignated) | mstp.FlagLearning,
		Root:         inferior,
		RegionalRoot: inferior,
		PortID:       mstp.NewPortID(128, 1),
		MaxAge:       20,
		HelloTime:    2,
		FwdDelay:     15,
	})
	if err := b.ReceiveFrame(1, frame); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}

	var disputed bool
	b.SweepDirty(func(c mstp.Change) {
		if c.MSTID == mstp.CISTID && c.Port == 1 && c.Flags&mstp.DirtyDisputed != 0 {
			disputed = true
		}
	})
	if !disputed {
		t.Error("no DirtyDisputed change for eth1 after an inferior learning BPDU")
	}
	if s := b.Trees()[0].Ports[0]; s.Role != mstp.RoleDesignated {
		t.Errorf("port role = %s, want Designated", s.Role)
	}

	// The same frame again is reported by the tick's metrics sweep.
	if err := b.ReceiveFrame(1, frame); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	b.Tick()
	if got := rec.disputes[treeKey(mstp.CISTID, "eth1")]; got != 1 {
		t.Errorf("dispute metric = %d, want 1", got)
	}
}

func TestSuperiorLearningBPDUNoDispute(t *testing.T) {
	t.Parallel()

	rec := newRecordingMetrics()
	b := newBridge(t, mstp.WithMetrics(rec))
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatal(err)
	}
	b.Tick()

	superior := bid(4096, 1)
	frame := encode(t, &mstp.BPDU{
		Version:      mstp.VersionRSTP,
		Type:         mstp.TypeRST,
		Flags:        mstp.Flags(0).WithRole(mstp.RoleDesignated) | mstp.FlagLearning,
		Root:         superior,
		RegionalRoot: superior,
		PortID:       mstp.NewPortID(128, 1),
		MaxAge:       20,
		HelloTime:    2,
		FwdDelay:     15,
	})
	if err := b.ReceiveFrame(1, frame); err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	b.Tick()

	if got := rec.disputes[treeKey(mstp.CISTID, "eth1")]; got != 0 {
		t.Errorf("dispute metric = %d after a superior BPDU, want 0", got)
	}
}

// An oversized MSTI count is dropped before any machine runs.
func TestOversizedFrameDropped(t *testing.T) {
	t.Parallel()

	rec := newRecordingMetrics()
	b, err := mstp.NewBridge(mstp.DefaultBridgeConfig(mac(2)),
		mstp.WithLogger(discardLogger()),
		mstp.WithMetrics(rec),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatal(err)
	}
	before := b.Trees()[0].Ports[0]

	frame := mstFrame(t, 64)
	frame = append(frame, make([]byte, 6*mstp.MSTIMessageSize)...)
	binary.BigEndian.PutUint16(frame[36:38], 64+70*16)

	if err := b.ReceiveFrame(1, frame); !errors.Is(err, mstp.ErrTooManyMSTI) {
		t.Fatalf("ReceiveFrame error = %v, want ErrTooManyMSTI", err)
	}
	ps, _ := b.Port(1)
	if ps.Stats.RxDropped != 1 || ps.Stats.RxMST != 0 {
		t.Errorf("stats: dropped %d mst %d", ps.Stats.RxDropped, ps.Stats.RxMST)
	}
	if got := rec.dropped["eth1/too_many_msti"]; got != 1 {
		t.Errorf("drop metric = %d, want 1", got)
	}
	after := b.Trees()[0].Ports[0]
	if after.PortPriority != before.PortPriority || after.InfoIs != before.InfoIs {
		t.Error("rejected frame changed port information")
	}
}

func TestReceiveOnDisabledPort(t *testing.T) {
	t.Parallel()

	b, err := mstp.NewBridge(mstp.DefaultBridgeConfig(mac(2)), mstp.WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	cfg := mstp.DefaultPortConfig("eth1")
	cfg.Enabled = false
	if err := b.AddPort(1, cfg); err != nil {
		t.Fatal(err)
	}
	if err := b.ReceiveFrame(1, mstFrame(t, 0)); !errors.Is(err, mstp.ErrPortDisabled) {
		t.Errorf("disabled port: err = %v", err)
	}
	if err := b.ReceiveFrame(9, mstFrame(t, 0)); !errors.Is(err, mstp.ErrPortNotFound) {
		t.Errorf("unknown port: err = %v", err)
	}
	if s := b.Trees()[0].Ports[0]; s.Role != mstp.RoleDisabled || s.State != mstp.StateDisabled {
		t.Errorf("disabled port: role %s state %s", s.Role, s.State)
	}
}

// An admin edge port forwards at once and loses edge status on its
// first BPDU.
func TestEdgePort(t *testing.T) {
	t.Parallel()

	l := newLab(t)
	b := l.add(2, nil)
	cfg := mstp.DefaultPortConfig("eth1")
	cfg.AdminEdge = true
	if err := b.AddPort(1, cfg); err != nil {
		t.Fatal(err)
	}
	b.Tick()
	b.assertRole(t, mstp.CISTID, 1, mstp.RoleDesignated, mstp.StateForwarding)
	if ps, _ := b.Port(1); !ps.OperEdge {
		t.Fatal("admin edge port is not operationally edge")
	}

	if err := b.ReceiveFrame(1, mstFrame(t, 0)); err != nil {
		t.Fatal(err)
	}
	if ps, _ := b.Port(1); ps.OperEdge {
		t.Error("edge status kept after receiving a BPDU")
	}
	assertPSTSafety(t, b)
}
