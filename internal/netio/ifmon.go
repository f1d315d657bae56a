package netio

import (
	"context"
	"fmt"
	"log/slog"
)

// -------------------------------------------------------------------------
// Link Monitor
// -------------------------------------------------------------------------

// InterfaceEvent reports a carrier change on one interface. The daemon
// turns it into a port enable or disable on the bridge.
type InterfaceEvent struct {
	IfName  string
	IfIndex int

	// Up is true when the interface is administratively up and has
	// carrier (IFF_UP and IFF_RUNNING).
	Up bool
}

// String formats the event for logs.
func (e InterfaceEvent) String() string {
	state := "down"
	if e.Up {
		state = "up"
	}
	return fmt.Sprintf("%s(%d) %s", e.IfName, e.IfIndex, state)
}

// InterfaceMonitor produces carrier changes for the bridge ports.
//
// Run blocks until ctx is done and closes the Events channel on return;
// it is called once. Close releases the monitor's kernel resources.
type InterfaceMonitor interface {
	Run(ctx context.Context) error
	Events() <-chan InterfaceEvent
	Close() error
}

// -------------------------------------------------------------------------
// StaticMonitor
// -------------------------------------------------------------------------

// StaticMonitor replays a fixed list of events and then stays silent. With
// no events it is the monitor used when carrier tracking is off, so port
// operational state follows the configured enabled flag only.
type StaticMonitor struct {
	initial []InterfaceEvent
	events  chan InterfaceEvent
	logger  *slog.Logger
}

var _ InterfaceMonitor = (*StaticMonitor)(nil)

// NewStaticMonitor returns a monitor that emits initial once from Run.
func NewStaticMonitor(logger *slog.Logger, initial ...InterfaceEvent) *StaticMonitor {
	return &StaticMonitor{
		initial: initial,
		events:  make(chan InterfaceEvent, len(initial)),
		logger:  logger.With(slog.String("component", "netio.ifmon")),
	}
}

// Run emits the initial events and waits for ctx.
func (m *StaticMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	m.logger.Info("link monitoring disabled, using static link state",
		slog.Int("events", len(m.initial)),
	)
	for _, ev := range m.initial {
		m.events <- ev
	}
	<-ctx.Done()
	return nil
}

// Events returns the event channel.
func (m *StaticMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close is a no-op.
func (m *StaticMonitor) Close() error {
	return nil
}
