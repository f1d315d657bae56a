//go:build linux

package netio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// NetlinkMonitor: RTM_NEWLINK subscription
// -------------------------------------------------------------------------

// NetlinkMonitor implements InterfaceMonitor with a NETLINK_ROUTE link
// subscription. Existing links are reported once at start, then every
// change of the operational state.
type NetlinkMonitor struct {
	events chan InterfaceEvent
	logger *slog.Logger

	mu   sync.Mutex
	last map[int]bool
}

// NewNetlinkMonitor creates a monitor; call Run to start it.
func NewNetlinkMonitor(logger *slog.Logger) *NetlinkMonitor {
	return &NetlinkMonitor{
		events: make(chan InterfaceEvent, 64),
		logger: logger.With(slog.String("component", "ifmon.netlink")),
		last:   make(map[int]bool),
	}
}

// Run subscribes to link updates and forwards up/down transitions until
// ctx is cancelled. The events channel is closed on return.
func (m *NetlinkMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	err := netlink.LinkSubscribeWithOptions(updates, done, netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			m.logger.Warn("netlink subscription error", slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	m.logger.Info("interface monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("interface monitor stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, changed := m.translate(u)
			if !changed {
				continue
			}
			select {
			case m.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// translate reports a link whose up state differs from the last seen.
func (m *NetlinkMonitor) translate(u netlink.LinkUpdate) (InterfaceEvent, bool) {
	if u.Link == nil {
		return InterfaceEvent{}, false
	}
	attrs := u.Attrs()
	if attrs == nil {
		return InterfaceEvent{}, false
	}

	up := linkUp(attrs) && u.Header.Type != unix.RTM_DELLINK

	m.mu.Lock()
	prev, seen := m.last[attrs.Index]
	m.last[attrs.Index] = up
	m.mu.Unlock()

	if seen && prev == up {
		return InterfaceEvent{}, false
	}

	return InterfaceEvent{IfName: attrs.Name, IfIndex: attrs.Index, Up: up}, true
}

// linkUp maps IFF_UP | IFF_RUNNING, preferring the RFC 2863 operational
// state when the driver reports one.
func linkUp(attrs *netlink.LinkAttrs) bool {
	switch attrs.OperState {
	case netlink.OperUp:
		return true
	case netlink.OperDown, netlink.OperLowerLayerDown, netlink.OperNotPresent:
		return false
	}
	return attrs.Flags&net.FlagUp != 0 && attrs.RawFlags&unix.IFF_RUNNING != 0
}

// Events returns the channel of link transitions.
func (m *NetlinkMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close is a no-op; cancel the Run context to stop the subscription.
func (m *NetlinkMonitor) Close() error {
	return nil
}
