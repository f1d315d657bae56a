// Package server implements the ConnectRPC management API of the MSTP
// daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// Sentinel errors for request validation.
var (
	// ErrNoPortSelector indicates a request naming neither a port number
	// nor an interface name.
	ErrNoPortSelector = errors.New("port number or name required")

	// ErrUnknownEventKind indicates a WatchEvents filter with an unknown kind.
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrNoEventSource indicates WatchEvents on a server built without
	// an event source.
	ErrNoEventSource = errors.New("event streaming not configured")
)

// watchBuffer is the per-subscriber event queue length.
const watchBuffer = 64

// Backend runs fn against the bridge on the protocol goroutine.
// *mstp.Loop satisfies it.
type Backend interface {
	Do(ctx context.Context, fn func(*mstp.Bridge) error) error
}

// EventSource hands out event subscriptions. *mstp.EventHub satisfies it.
type EventSource interface {
	Subscribe(buffer int) (<-chan mstp.Event, func())
}

var (
	_ Backend     = (*mstp.Loop)(nil)
	_ EventSource = (*mstp.EventHub)(nil)
)

// MSTPServer serves mstp.v1.MstpService.
//
// Each RPC is a closure submitted to the Backend, so reads and writes see
// a consistent bridge and never race the protocol machines.
type MSTPServer struct {
	backend Backend
	events  EventSource
	logger  *slog.Logger
}

// New creates an MSTPServer and returns the path prefix and HTTP handler to
// mount. events may be nil, in which case WatchEvents fails.
func New(backend Backend, events EventSource, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	s := &MSTPServer{
		backend: backend,
		events:  events,
		logger:  logger.With(slog.String("component", "server")),
	}

	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetBridgeProcedure, connect.NewUnaryHandler(GetBridgeProcedure, s.GetBridge, opts...))
	mux.Handle(ListPortsProcedure, connect.NewUnaryHandler(ListPortsProcedure, s.ListPorts, opts...))
	mux.Handle(GetPortProcedure, connect.NewUnaryHandler(GetPortProcedure, s.GetPort, opts...))
	mux.Handle(ListInstancesProcedure, connect.NewUnaryHandler(ListInstancesProcedure, s.ListInstances, opts...))
	mux.Handle(GetInstanceProcedure, connect.NewUnaryHandler(GetInstanceProcedure, s.GetInstance, opts...))
	mux.Handle(SetPortConfigProcedure, connect.NewUnaryHandler(SetPortConfigProcedure, s.SetPortConfig, opts...))
	mux.Handle(SetBridgeConfigProcedure, connect.NewUnaryHandler(SetBridgeConfigProcedure, s.SetBridgeConfig, opts...))
	mux.Handle(SetInstanceVLANsProcedure, connect.NewUnaryHandler(SetInstanceVLANsProcedure, s.SetInstanceVLANs, opts...))
	mux.Handle(ClearStatsProcedure, connect.NewUnaryHandler(ClearStatsProcedure, s.ClearStats, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, s.WatchEvents, opts...))

	return "/" + ServiceName + "/", mux
}

// -------------------------------------------------------------------------
// Read RPCs
// -------------------------------------------------------------------------

// GetBridge returns the bridge-wide view.
func (s *MSTPServer) GetBridge(
	ctx context.Context,
	_ *connect.Request[GetBridgeRequest],
) (*connect.Response[GetBridgeResponse], error) {
	var out GetBridgeResponse
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		out.Bridge = toBridge(b.Snapshot())
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&out), nil
}

// ListPorts returns every port in number order.
func (s *MSTPServer) ListPorts(
	ctx context.Context,
	_ *connect.Request[ListPortsRequest],
) (*connect.Response[ListPortsResponse], error) {
	out := ListPortsResponse{Ports: []Port{}}
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		for _, p := range b.Ports() {
			out.Ports = append(out.Ports, toPort(p))
		}
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&out), nil
}

// GetPort returns one port by number or name.
func (s *MSTPServer) GetPort(
	ctx context.Context,
	req *connect.Request[GetPortRequest],
) (*connect.Response[GetPortResponse], error) {
	var out GetPortResponse
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		p, err := portView(b, req.Msg.Port)
		out.Port = p
		return err
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&out), nil
}

// ListInstances returns the CIST followed by every MSTI in MSTID order.
func (s *MSTPServer) ListInstances(
	ctx context.Context,
	_ *connect.Request[ListInstancesRequest],
) (*connect.Response[ListInstancesResponse], error) {
	out := ListInstancesResponse{Instances: []Instance{}}
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		for _, t := range b.Trees() {
			out.Instances = append(out.Instances, toInstance(t))
		}
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&out), nil
}

// GetInstance returns one tree; MSTID zero selects the CIST.
func (s *MSTPServer) GetInstance(
	ctx context.Context,
	req *connect.Request[GetInstanceRequest],
) (*connect.Response[GetInstanceResponse], error) {
	var out GetInstanceResponse
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		t, err := b.Tree(mstp.MSTID(req.Msg.MSTID))
		if err != nil {
			return err
		}
		out.Instance = toInstance(t)
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&out), nil
}

// -------------------------------------------------------------------------
// Write RPCs
// -------------------------------------------------------------------------

// SetPortConfig applies the set fields of the request in order and returns
// the resulting port. A failing field leaves earlier fields applied.
func (s *MSTPServer) SetPortConfig(
	ctx context.Context,
	req *connect.Request[SetPortConfigRequest],
) (*connect.Response[SetPortConfigResponse], error) {
	m := req.Msg
	var out SetPortConfigResponse
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		num, err := resolvePort(b, m.Port)
		if err != nil {
			return err
		}
		mstid := mstp.MSTID(m.MSTID)
		if err := applyPortConfig(b, num, mstid, m); err != nil {
			return err
		}
		p, err := b.Port(num)
		out.Port = toPort(p)
		return err
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	s.logger.InfoContext(ctx, "port config changed",
		slog.String("port", out.Port.Name),
		slog.Int("mstid", int(m.MSTID)),
	)
	return connect.NewResponse(&out), nil
}

func applyPortConfig(b *mstp.Bridge, num mstp.PortNum, mstid mstp.MSTID, m *SetPortConfigRequest) error {
	if m.Enabled != nil {
		if err := b.SetPortEnabled(num, *m.Enabled); err != nil {
			return err
		}
	}
	if m.AdminEdge != nil {
		if err := b.SetPortAdminEdge(num, *m.AdminEdge); err != nil {
			return err
		}
	}
	if m.LinkType != nil {
		lt, err := mstp.ParseLinkType(*m.LinkType)
		if err != nil {
			return err
		}
		if err := b.SetPortLinkType(num, lt); err != nil {
			return err
		}
	}
	if m.RootGuard != nil {
		if err := b.SetPortRootGuard(num, *m.RootGuard); err != nil {
			return err
		}
	}
	if m.PathCost != nil {
		if err := b.SetPortPathCost(mstid, num, *m.PathCost); err != nil {
			return err
		}
	}
	if m.Priority != nil {
		if err := b.SetPortPriority(mstid, num, *m.Priority); err != nil {
			return err
		}
	}
	return nil
}

// SetBridgeConfig applies the set fields of the request and returns the
// resulting bridge. Timers missing from the request keep their values.
func (s *MSTPServer) SetBridgeConfig(
	ctx context.Context,
	req *connect.Request[SetBridgeConfigRequest],
) (*connect.Response[SetBridgeConfigResponse], error) {
	m := req.Msg
	var out SetBridgeConfigResponse
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		if err := applyBridgeConfig(b, m); err != nil {
			return err
		}
		out.Bridge = toBridge(b.Snapshot())
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	s.logger.InfoContext(ctx, "bridge config changed",
		slog.String("region", out.Bridge.Region),
		slog.String("digest", out.Bridge.Digest),
	)
	return connect.NewResponse(&out), nil
}

func applyBridgeConfig(b *mstp.Bridge, m *SetBridgeConfigRequest) error {
	if m.ForceVersion != nil {
		v, err := mstp.ParseForceVersion(*m.ForceVersion)
		if err != nil {
			return err
		}
		if err := b.SetForceVersion(v); err != nil {
			return err
		}
	}

	cfg := b.Config()
	if m.HelloTime != nil || m.MaxAge != nil || m.ForwardDelay != nil {
		hello := valueOr(m.HelloTime, cfg.HelloTime)
		maxAge := valueOr(m.MaxAge, cfg.MaxAge)
		fwd := valueOr(m.ForwardDelay, cfg.FwdDelay)
		if err := b.SetBridgeTimes(hello, maxAge, fwd); err != nil {
			return err
		}
	}
	if m.MaxHops != nil {
		if err := b.SetMaxHops(*m.MaxHops); err != nil {
			return err
		}
	}
	if m.TxHoldCount != nil {
		if err := b.SetTxHoldCount(*m.TxHoldCount); err != nil {
			return err
		}
	}
	if m.Priority != nil {
		if err := b.SetPriority(mstp.MSTID(m.MSTID), *m.Priority); err != nil {
			return err
		}
	}
	if m.Region != nil || m.Revision != nil {
		name := valueOr(m.Region, cfg.RegionName)
		rev := valueOr(m.Revision, cfg.Revision)
		if err := b.SetRegion(name, rev); err != nil {
			return err
		}
	}
	return nil
}

// SetInstanceVLANs replaces the VLAN set of an MSTI, creating the instance
// on first use and removing it when the set is empty.
func (s *MSTPServer) SetInstanceVLANs(
	ctx context.Context,
	req *connect.Request[SetInstanceVLANsRequest],
) (*connect.Response[SetInstanceVLANsResponse], error) {
	m := req.Msg
	vlans, err := mstp.ParseVLANSet(m.VLANs)
	if err != nil {
		return nil, toConnectError(err)
	}

	var out SetInstanceVLANsResponse
	mstid := mstp.MSTID(m.MSTID)
	err = s.backend.Do(ctx, func(b *mstp.Bridge) error {
		if err := b.SetInstanceVLANs(mstid, vlans); err != nil {
			return err
		}
		t, err := b.Tree(mstid)
		if errors.Is(err, mstp.ErrInstanceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		inst := toInstance(t)
		out.Instance = &inst
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	s.logger.InfoContext(ctx, "instance vlans changed",
		slog.Int("mstid", int(m.MSTID)),
		slog.String("vlans", vlans.String()),
	)
	return connect.NewResponse(&out), nil
}

// ClearStats resets BPDU counters of one port, or all ports when no port
// is named.
func (s *MSTPServer) ClearStats(
	ctx context.Context,
	req *connect.Request[ClearStatsRequest],
) (*connect.Response[ClearStatsResponse], error) {
	sel := req.Msg.Port
	err := s.backend.Do(ctx, func(b *mstp.Bridge) error {
		if sel == (PortSelector{}) {
			return b.ClearStats(0)
		}
		num, err := resolvePort(b, sel)
		if err != nil {
			return err
		}
		return b.ClearStats(num)
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ClearStatsResponse{}), nil
}

// -------------------------------------------------------------------------
// Streaming
// -------------------------------------------------------------------------

// WatchEvents streams protocol events until the client disconnects.
// Events are dropped for a client that cannot keep up.
func (s *MSTPServer) WatchEvents(
	ctx context.Context,
	req *connect.Request[WatchEventsRequest],
	stream *connect.ServerStream[WatchEventsResponse],
) error {
	if s.events == nil {
		return connect.NewError(connect.CodeUnimplemented, ErrNoEventSource)
	}
	filter, err := kindFilter(req.Msg.Kinds)
	if err != nil {
		return toConnectError(err)
	}

	ch, cancel := s.events.Subscribe(watchBuffer)
	defer cancel()

	s.logger.DebugContext(ctx, "event watcher attached", slog.Any("kinds", req.Msg.Kinds))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if filter != nil && !filter[ev.Kind] {
				continue
			}
			if err := stream.Send(&WatchEventsResponse{Event: toEvent(ev)}); err != nil {
				return fmt.Errorf("send event: %w", err)
			}
		}
	}
}

// allEventKinds lists the kinds a filter may name.
var allEventKinds = []mstp.EventKind{
	mstp.EventRoleChange,
	mstp.EventStateChange,
	mstp.EventRootChange,
	mstp.EventTopologyChange,
	mstp.EventBoundaryChange,
	mstp.EventRootGuard,
}

func kindFilter(kinds []string) (map[mstp.EventKind]bool, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	filter := make(map[mstp.EventKind]bool, len(kinds))
outer:
	for _, name := range kinds {
		for _, k := range allEventKinds {
			if k.String() == name {
				filter[k] = true
				continue outer
			}
		}
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownEventKind)
	}
	return filter, nil
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func resolvePort(b *mstp.Bridge, sel PortSelector) (mstp.PortNum, error) {
	switch {
	case sel.Number != 0:
		return mstp.PortNum(sel.Number), nil
	case sel.Name != "":
		num, ok := b.PortByName(sel.Name)
		if !ok {
			return 0, fmt.Errorf("port %q: %w", sel.Name, mstp.ErrPortNotFound)
		}
		return num, nil
	default:
		return 0, ErrNoPortSelector
	}
}

func portView(b *mstp.Bridge, sel PortSelector) (Port, error) {
	num, err := resolvePort(b, sel)
	if err != nil {
		return Port{}, err
	}
	p, err := b.Port(num)
	if err != nil {
		return Port{}, err
	}
	return toPort(p), nil
}

func valueOr[T any](p *T, def T) T {
	if p != nil {
		return *p
	}
	return def
}

// toConnectError maps protocol errors onto RPC status codes.
func toConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, mstp.ErrPortNotFound),
		errors.Is(err, mstp.ErrInstanceNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, mstp.ErrInvalidParameter),
		errors.Is(err, mstp.ErrInvalidMSTID),
		errors.Is(err, mstp.ErrInvalidVLAN),
		errors.Is(err, mstp.ErrInvalidMAC),
		errors.Is(err, ErrNoPortSelector),
		errors.Is(err, ErrUnknownEventKind):
		code = connect.CodeInvalidArgument
	case errors.Is(err, mstp.ErrPortExists):
		code = connect.CodeAlreadyExists
	case errors.Is(err, mstp.ErrNoFreeInstance):
		code = connect.CodeResourceExhausted
	case errors.Is(err, mstp.ErrLoopClosed):
		code = connect.CodeUnavailable
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
