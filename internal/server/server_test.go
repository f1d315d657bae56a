package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gomstp/internal/mstp"
	"github.com/dantte-lp/gomstp/internal/server"
)

const testBridgeMAC = "02:00:00:00:00:01"

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// newTestBridge builds a bridge with ports eth1 and eth2 (edge) and MSTI 10
// mapped to VLANs 10-20, and runs its loop until the test ends.
func newTestBridge(t *testing.T) (*mstp.Loop, *mstp.EventHub) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	addr, err := mstp.ParseMAC(testBridgeMAC)
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}

	hub := mstp.NewEventHub(logger)
	b, err := mstp.NewBridge(mstp.DefaultBridgeConfig(addr),
		mstp.WithLogger(logger),
		mstp.WithEventHandler(hub.Publish),
	)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatalf("AddPort eth1: %v", err)
	}
	edge := mstp.DefaultPortConfig("eth2")
	edge.AdminEdge = true
	if err := b.AddPort(2, edge); err != nil {
		t.Fatalf("AddPort eth2: %v", err)
	}
	vlans, err := mstp.ParseVLANSet("10-20")
	if err != nil {
		t.Fatalf("ParseVLANSet: %v", err)
	}
	if err := b.SetInstanceVLANs(10, vlans); err != nil {
		t.Fatalf("SetInstanceVLANs: %v", err)
	}

	loop := mstp.NewLoop(b, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, hub
}

// setupTestServer serves a fresh bridge over HTTP and returns a client.
func setupTestServer(t *testing.T, opts ...connect.HandlerOption) *server.Client {
	t.Helper()

	loop, hub := newTestBridge(t)
	return serve(t, loop, hub, opts...)
}

func serve(t *testing.T, backend server.Backend, events server.EventSource, opts ...connect.HandlerOption) *server.Client {
	t.Helper()

	path, handler := server.New(backend, events, slog.New(slog.DiscardHandler), opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return server.NewClient(srv.Client(), srv.URL)
}

func wantCode(t *testing.T, err error, want connect.Code) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != want {
		t.Errorf("code = %s, want %s", connectErr.Code(), want)
	}
}

func ptr[T any](v T) *T { return &v }

// -------------------------------------------------------------------------
// Read RPCs
// -------------------------------------------------------------------------

func TestGetBridge(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	br, err := client.GetBridge(context.Background())
	if err != nil {
		t.Fatalf("GetBridge: %v", err)
	}

	if br.Address != testBridgeMAC {
		t.Errorf("Address = %q, want %q", br.Address, testBridgeMAC)
	}
	if br.Priority != mstp.DefaultPriority {
		t.Errorf("Priority = %d, want %d", br.Priority, mstp.DefaultPriority)
	}
	if br.ForceVersion != "mstp" {
		t.Errorf("ForceVersion = %q, want mstp", br.ForceVersion)
	}
	if br.Region != testBridgeMAC {
		t.Errorf("Region = %q, want %q", br.Region, testBridgeMAC)
	}
	if br.PortCount != 2 {
		t.Errorf("PortCount = %d, want 2", br.PortCount)
	}
	if len(br.Instances) != 1 || br.Instances[0] != 10 {
		t.Errorf("Instances = %v, want [10]", br.Instances)
	}
	if br.RootID != br.BridgeID {
		t.Errorf("RootID = %q, want own id %q", br.RootID, br.BridgeID)
	}
	if br.Digest == "" {
		t.Error("Digest is empty")
	}
}

func TestListPorts(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	ports, err := client.ListPorts(context.Background())
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if len(ports) != 2 {
		t.Fatalf("len(ports) = %d, want 2", len(ports))
	}
	if ports[0].Number != 1 || ports[0].Name != "eth1" {
		t.Errorf("ports[0] = %d/%s, want 1/eth1", ports[0].Number, ports[0].Name)
	}
	if ports[1].Number != 2 || !ports[1].AdminEdge {
		t.Errorf("ports[1] = %d edge=%v, want 2 edge=true", ports[1].Number, ports[1].AdminEdge)
	}
	// One entry per tree: CIST and MSTI 10.
	if len(ports[0].Trees) != 2 {
		t.Errorf("len(Trees) = %d, want 2", len(ports[0].Trees))
	}
}

func TestGetPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sel      server.PortSelector
		wantName string
		wantCode connect.Code
	}{
		{name: "by number", sel: server.PortSelector{Number: 2}, wantName: "eth2"},
		{name: "by name", sel: server.PortSelector{Name: "eth1"}, wantName: "eth1"},
		{name: "unknown number", sel: server.PortSelector{Number: 9}, wantCode: connect.CodeNotFound},
		{name: "unknown name", sel: server.PortSelector{Name: "eth9"}, wantCode: connect.CodeNotFound},
		{name: "empty selector", wantCode: connect.CodeInvalidArgument},
	}

	client := setupTestServer(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := client.GetPort(context.Background(), tt.sel)
			if tt.wantCode != 0 {
				wantCode(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("GetPort: %v", err)
			}
			if p.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", p.Name, tt.wantName)
			}
		})
	}
}

func TestListInstances(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	insts, err := client.ListInstances(context.Background())
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("len(instances) = %d, want 2", len(insts))
	}
	if insts[0].MSTID != 0 {
		t.Errorf("instances[0].MSTID = %d, want 0", insts[0].MSTID)
	}
	if insts[1].MSTID != 10 || insts[1].VLANs != "10-20" {
		t.Errorf("instances[1] = %d %q, want 10 \"10-20\"", insts[1].MSTID, insts[1].VLANs)
	}
	if len(insts[1].Ports) != 2 {
		t.Errorf("len(instances[1].Ports) = %d, want 2", len(insts[1].Ports))
	}
}

func TestGetInstance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mstid    uint16
		wantCode connect.Code
	}{
		{name: "cist", mstid: 0},
		{name: "msti", mstid: 10},
		{name: "unallocated", mstid: 20, wantCode: connect.CodeNotFound},
		{name: "out of range", mstid: 5000, wantCode: connect.CodeInvalidArgument},
	}

	client := setupTestServer(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inst, err := client.GetInstance(context.Background(), tt.mstid)
			if tt.wantCode != 0 {
				wantCode(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("GetInstance: %v", err)
			}
			if inst.MSTID != tt.mstid {
				t.Errorf("MSTID = %d, want %d", inst.MSTID, tt.mstid)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Write RPCs
// -------------------------------------------------------------------------

func TestSetPortConfig(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	p, err := client.SetPortConfig(context.Background(), &server.SetPortConfigRequest{
		Port:      server.PortSelector{Name: "eth1"},
		MSTID:     10,
		AdminEdge: ptr(true),
		LinkType:  ptr("shared"),
		PathCost:  ptr(uint32(2000)),
		Priority:  ptr(uint8(64)),
	})
	if err != nil {
		t.Fatalf("SetPortConfig: %v", err)
	}

	if !p.AdminEdge {
		t.Error("AdminEdge = false, want true")
	}
	if p.LinkType != "shared" {
		t.Errorf("LinkType = %q, want shared", p.LinkType)
	}

	var msti *server.TreePort
	for i := range p.Trees {
		if p.Trees[i].MSTID == 10 {
			msti = &p.Trees[i]
		}
	}
	if msti == nil {
		t.Fatal("no tree entry for MSTI 10")
	}
	if msti.InternalPathCost != 2000 {
		t.Errorf("InternalPathCost = %d, want 2000", msti.InternalPathCost)
	}
	if p.Trees[0].ExternalPathCost == 2000 {
		t.Error("CIST path cost changed by an MSTI request")
	}
}

func TestSetPortConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *server.SetPortConfigRequest
		want connect.Code
	}{
		{
			name: "unknown port",
			req:  &server.SetPortConfigRequest{Port: server.PortSelector{Number: 7}, AdminEdge: ptr(true)},
			want: connect.CodeNotFound,
		},
		{
			name: "bad link type",
			req:  &server.SetPortConfigRequest{Port: server.PortSelector{Number: 1}, LinkType: ptr("ring")},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "zero path cost",
			req:  &server.SetPortConfigRequest{Port: server.PortSelector{Number: 1}, PathCost: ptr(uint32(0))},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "port priority not a multiple of 16",
			req:  &server.SetPortConfigRequest{Port: server.PortSelector{Number: 1}, Priority: ptr(uint8(17))},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "unallocated instance",
			req:  &server.SetPortConfigRequest{Port: server.PortSelector{Number: 1}, MSTID: 30, PathCost: ptr(uint32(10))},
			want: connect.CodeNotFound,
		},
	}

	client := setupTestServer(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.SetPortConfig(context.Background(), tt.req)
			wantCode(t, err, tt.want)
		})
	}
}

func TestSetBridgeConfig(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	br, err := client.SetBridgeConfig(context.Background(), &server.SetBridgeConfigRequest{
		Priority:  ptr(uint16(4096)),
		HelloTime: ptr(uint16(1)),
		MaxHops:   ptr(uint8(10)),
		Region:    ptr("lab"),
		Revision:  ptr(uint16(2)),
	})
	if err != nil {
		t.Fatalf("SetBridgeConfig: %v", err)
	}

	if br.Priority != 4096 {
		t.Errorf("Priority = %d, want 4096", br.Priority)
	}
	if br.HelloTime != 1 {
		t.Errorf("HelloTime = %d, want 1", br.HelloTime)
	}
	if br.MaxAge != mstp.DefaultMaxAge || br.ForwardDelay != mstp.DefaultFwdDelay {
		t.Errorf("MaxAge/ForwardDelay = %d/%d, want defaults", br.MaxAge, br.ForwardDelay)
	}
	if br.MaxHops != 10 {
		t.Errorf("MaxHops = %d, want 10", br.MaxHops)
	}
	if br.Region != "lab" || br.Revision != 2 {
		t.Errorf("region = %q rev %d, want lab rev 2", br.Region, br.Revision)
	}

	// MSTI priority leaves the CIST priority alone.
	br, err = client.SetBridgeConfig(context.Background(), &server.SetBridgeConfigRequest{
		MSTID:    10,
		Priority: ptr(uint16(8192)),
	})
	if err != nil {
		t.Fatalf("SetBridgeConfig MSTI priority: %v", err)
	}
	if br.Priority != 4096 {
		t.Errorf("CIST Priority = %d after MSTI change, want 4096", br.Priority)
	}
}

func TestSetBridgeConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *server.SetBridgeConfigRequest
	}{
		{name: "force version", req: &server.SetBridgeConfigRequest{ForceVersion: ptr("pvst")}},
		{name: "priority step", req: &server.SetBridgeConfigRequest{Priority: ptr(uint16(100))}},
		{name: "timer relation", req: &server.SetBridgeConfigRequest{MaxAge: ptr(uint16(40)), ForwardDelay: ptr(uint16(4))}},
		{name: "max hops", req: &server.SetBridgeConfigRequest{MaxHops: ptr(uint8(0))}},
		{name: "tx hold count", req: &server.SetBridgeConfigRequest{TxHoldCount: ptr(uint16(11))}},
		{name: "region too long", req: &server.SetBridgeConfigRequest{Region: ptr("a-region-name-that-is-far-too-long-for-802.1q")}},
	}

	client := setupTestServer(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.SetBridgeConfig(context.Background(), tt.req)
			wantCode(t, err, connect.CodeInvalidArgument)
		})
	}
}

func TestSetInstanceVLANs(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)
	ctx := context.Background()

	inst, err := client.SetInstanceVLANs(ctx, 30, "30-39,41")
	if err != nil {
		t.Fatalf("SetInstanceVLANs create: %v", err)
	}
	if inst == nil || inst.VLANs != "30-39,41" {
		t.Fatalf("instance = %+v, want VLANs 30-39,41", inst)
	}

	// Moving VLAN 15 to MSTI 30 takes it from MSTI 10.
	if _, err := client.SetInstanceVLANs(ctx, 30, "15,30-39"); err != nil {
		t.Fatalf("SetInstanceVLANs move: %v", err)
	}
	ten, err := client.GetInstance(ctx, 10)
	if err != nil {
		t.Fatalf("GetInstance 10: %v", err)
	}
	if ten.VLANs != "10-14,16-20" {
		t.Errorf("MSTI 10 VLANs = %q, want 10-14,16-20", ten.VLANs)
	}

	inst, err = client.SetInstanceVLANs(ctx, 30, "")
	if err != nil {
		t.Fatalf("SetInstanceVLANs remove: %v", err)
	}
	if inst != nil {
		t.Errorf("instance = %+v after empty set, want nil", inst)
	}
	_, err = client.GetInstance(ctx, 30)
	wantCode(t, err, connect.CodeNotFound)
}

func TestSetInstanceVLANsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mstid uint16
		vlans string
	}{
		{name: "cist", mstid: 0, vlans: "10"},
		{name: "mstid out of range", mstid: 4095, vlans: "10"},
		{name: "vlan out of range", mstid: 30, vlans: "4095"},
		{name: "reversed range", mstid: 30, vlans: "20-10"},
		{name: "garbage", mstid: 30, vlans: "ten"},
	}

	client := setupTestServer(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.SetInstanceVLANs(context.Background(), tt.mstid, tt.vlans)
			wantCode(t, err, connect.CodeInvalidArgument)
		})
	}
}

func TestClearStats(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)
	ctx := context.Background()

	if err := client.ClearStats(ctx, server.PortSelector{}); err != nil {
		t.Fatalf("ClearStats all: %v", err)
	}
	if err := client.ClearStats(ctx, server.PortSelector{Name: "eth2"}); err != nil {
		t.Fatalf("ClearStats eth2: %v", err)
	}
	err := client.ClearStats(ctx, server.PortSelector{Number: 42})
	wantCode(t, err, connect.CodeNotFound)
}

// -------------------------------------------------------------------------
// Streaming
// -------------------------------------------------------------------------

func TestWatchEvents(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := make(chan server.Event, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.WatchEvents(ctx, []string{"role_change"}, func(ev server.Event) error {
			select {
			case events <- ev:
			default:
			}
			return nil
		})
	}()

	// Toggle eth1 until the watcher has subscribed and sees a role change.
	var got server.Event
	up := false
wait:
	for {
		if _, err := client.SetPortConfig(ctx, &server.SetPortConfigRequest{
			Port:    server.PortSelector{Number: 1},
			Enabled: ptr(up),
		}); err != nil {
			t.Fatalf("SetPortConfig: %v", err)
		}
		up = !up

		select {
		case got = <-events:
			break wait
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}

	if got.Kind != "role_change" {
		t.Errorf("Kind = %q, want role_change", got.Kind)
	}
	if got.PortName != "eth1" {
		t.Errorf("PortName = %q, want eth1", got.PortName)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("WatchEvents returned %v after cancel", err)
	}
}

func TestWatchEventsErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()

		client := setupTestServer(t)
		err := client.WatchEvents(context.Background(), []string{"bogus"}, func(server.Event) error { return nil })
		wantCode(t, err, connect.CodeInvalidArgument)
	})

	t.Run("no event source", func(t *testing.T) {
		t.Parallel()

		loop, _ := newTestBridge(t)
		client := serve(t, loop, nil)
		err := client.WatchEvents(context.Background(), nil, func(server.Event) error { return nil })
		wantCode(t, err, connect.CodeUnimplemented)
	})
}

func TestClosedLoopUnavailable(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	addr, err := mstp.ParseMAC(testBridgeMAC)
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	b, err := mstp.NewBridge(mstp.DefaultBridgeConfig(addr), mstp.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	loop := mstp.NewLoop(b, logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = loop.Run(ctx)

	client := serve(t, loop, nil)
	_, err = client.GetBridge(context.Background())
	wantCode(t, err, connect.CodeUnavailable)
}
