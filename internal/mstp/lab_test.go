package mstp_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// Lab: in-memory network of bridges
// -------------------------------------------------------------------------

// maxFramesPerDrain bounds one drain; a protocol storm fails the test.
const maxFramesPerDrain = 100000

type endpoint struct {
	bridge int
	port   mstp.PortNum
}

type labFrame struct {
	to      endpoint
	payload []byte
}

type stateKey struct {
	mstid mstp.MSTID
	port  mstp.PortNum
}

type lab struct {
	t       *testing.T
	bridges []*labBridge
	peers   map[endpoint]endpoint
	queue   []labFrame
	// portMods adjust the configuration of ports created by link.
	portMods map[endpoint]func(*mstp.PortConfig)
}

type labBridge struct {
	*mstp.Bridge

	lab    *lab
	idx    int
	states map[stateKey][]mstp.PortState
	events []mstp.Event
	flush  map[stateKey]int
	tx     int
}

func newLab(t *testing.T) *lab {
	t.Helper()
	return &lab{
		t:        t,
		peers:    make(map[endpoint]endpoint),
		portMods: make(map[endpoint]func(*mstp.PortConfig)),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// add creates a bridge whose MAC ends in last. mod adjusts the defaults.
func (l *lab) add(last byte, mod func(*mstp.BridgeConfig)) *labBridge {
	l.t.Helper()

	lb := &labBridge{
		lab:    l,
		idx:    len(l.bridges),
		states: make(map[stateKey][]mstp.PortState),
		flush:  make(map[stateKey]int),
	}
	cfg := mstp.DefaultBridgeConfig(mac(last))
	cfg.RegionName = "lab"
	if mod != nil {
		mod(&cfg)
	}
	b, err := mstp.NewBridge(cfg,
		mstp.WithLogger(discardLogger()),
		mstp.WithTransmitter(lb),
		mstp.WithDataPlane(lb),
		mstp.WithEventHandler(func(ev mstp.Event) { lb.events = append(lb.events, ev) }),
	)
	if err != nil {
		l.t.Fatalf("NewBridge: %v", err)
	}
	lb.Bridge = b
	l.bridges = append(l.bridges, lb)
	return lb
}

// link connects port pa of a to port pb of b, creating both ports.
func (l *lab) link(a *labBridge, pa mstp.PortNum, b *labBridge, pb mstp.PortNum) {
	l.t.Helper()

	ea, eb := endpoint{a.idx, pa}, endpoint{b.idx, pb}
	l.peers[ea] = eb
	l.peers[eb] = ea
	for _, e := range []struct {
		lb  *labBridge
		num mstp.PortNum
	}{{a, pa}, {b, pb}} {
		cfg := mstp.DefaultPortConfig(fmt.Sprintf("eth%d", e.num))
		if mod, ok := l.portMods[endpoint{e.lb.idx, e.num}]; ok {
			mod(&cfg)
		}
		if err := e.lb.AddPort(e.num, cfg); err != nil {
			l.t.Fatalf("AddPort: %v", err)
		}
	}
	l.drain()
}

// rootGuard enables root guard on port p of lb when link creates it.
func (l *lab) rootGuard(lb *labBridge, p mstp.PortNum) {
	l.portMods[endpoint{lb.idx, p}] = func(c *mstp.PortConfig) { c.RootGuard = true }
}

// cut disconnects port p of lb and its peer.
func (l *lab) cut(lb *labBridge, p mstp.PortNum) {
	l.t.Helper()

	e := endpoint{lb.idx, p}
	peer := l.peers[e]
	delete(l.peers, e)
	delete(l.peers, peer)
	if err := lb.SetPortEnabled(p, false); err != nil {
		l.t.Fatalf("SetPortEnabled: %v", err)
	}
	if err := l.bridges[peer.bridge].SetPortEnabled(peer.port, false); err != nil {
		l.t.Fatalf("SetPortEnabled: %v", err)
	}
	l.drain()
}

func (l *lab) drain() {
	l.t.Helper()

	for n := 0; len(l.queue) > 0; n++ {
		if n > maxFramesPerDrain {
			l.t.Fatalf("more than %d frames in one drain", maxFramesPerDrain)
		}
		f := l.queue[0]
		l.queue = l.queue[1:]
		// Frames to a disabled port are lost on the wire.
		_ = l.bridges[f.to.bridge].ReceiveFrame(f.to.port, f.payload)
	}
}

// run advances every bridge by secs one-second ticks.
func (l *lab) run(secs int) {
	l.t.Helper()

	for range secs {
		for _, b := range l.bridges {
			b.Tick()
		}
		l.drain()
	}
}

func (lb *labBridge) Transmit(port mstp.PortNum, bpdu []byte) error {
	lb.tx++
	to, ok := lb.lab.peers[endpoint{lb.idx, port}]
	if !ok {
		return nil
	}
	lb.lab.queue = append(lb.lab.queue, labFrame{to: to, payload: append([]byte(nil), bpdu...)})
	return nil
}

func (lb *labBridge) SetPortState(mstid mstp.MSTID, port mstp.PortNum, state mstp.PortState) error {
	k := stateKey{mstid, port}
	lb.states[k] = append(lb.states[k], state)
	return nil
}

func (lb *labBridge) Flush(mstid mstp.MSTID, port mstp.PortNum) error {
	lb.flush[stateKey{mstid, port}]++
	return nil
}

// treePort returns the view of (mstid, port).
func (lb *labBridge) treePort(t *testing.T, mstid mstp.MSTID, port mstp.PortNum) mstp.TreePortSnapshot {
	t.Helper()

	ts, err := lb.Tree(mstid)
	if err != nil {
		t.Fatalf("Tree(%d): %v", mstid, err)
	}
	for _, s := range ts.Ports {
		if s.Port == port {
			return s
		}
	}
	t.Fatalf("port %d not in tree %d", port, mstid)
	return mstp.TreePortSnapshot{}
}

func (lb *labBridge) assertRole(t *testing.T, mstid mstp.MSTID, port mstp.PortNum, role mstp.Role, state mstp.PortState) {
	t.Helper()

	s := lb.treePort(t, mstid, port)
	if s.Role != role || s.State != state {
		t.Errorf("bridge %d mstid %d port %d: role %s state %s, want %s %s",
			lb.idx, mstid, port, s.Role, s.State, role, state)
	}
}

func (lb *labBridge) countEvents(kind mstp.EventKind) int {
	n := 0
	for _, ev := range lb.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
