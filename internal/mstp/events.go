package mstp

import "time"

// EventKind classifies an Event.
type EventKind uint8

const (
	EventRoleChange EventKind = iota + 1
	EventStateChange
	EventRootChange
	EventTopologyChange
	EventBoundaryChange
	EventRootGuard
)

var eventKindNames = []string{"", "role_change", "state_change", "root_change", "topology_change", "boundary_change", "root_guard"}

func (k EventKind) String() string { return enumString(eventKindNames, uint8(k)) }

// Event is a protocol-visible change reported to observers.
type Event struct {
	Kind  EventKind
	Time  time.Time
	MSTID MSTID
	// Port is zero for tree-wide events such as a root change.
	Port     PortNum
	PortName string
	Old      string
	New      string
}

func (b *Bridge) emit(ev Event) {
	if b.onEvent == nil {
		return
	}
	ev.Time = b.now()
	b.onEvent(ev)
}

func (b *Bridge) emitPort(kind EventKind, tp *TreePort, old, cur string) {
	b.emit(Event{
		Kind:     kind,
		MSTID:    tp.tree.mstid,
		Port:     tp.port.num,
		PortName: tp.port.name,
		Old:      old,
		New:      cur,
	})
}
