package mstp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Event Loop
// -------------------------------------------------------------------------

// TickInterval is the period of the protocol timer tick.
const TickInterval = time.Second

// Frame is a BPDU received on a port, LLC header removed.
type Frame struct {
	Port    PortNum
	Payload []byte
}

// LinkEvent reports a port's operational state.
type LinkEvent struct {
	Port PortNum
	Up   bool
}

type request struct {
	fn   func(*Bridge) error
	done chan error
}

// Loop serializes every input of a Bridge onto one goroutine: received
// frames, link events, administrative requests and the one-second tick.
// Bridge records are only touched from Run, so they need no locks.
type Loop struct {
	bridge *Bridge
	logger *slog.Logger

	frames chan Frame
	links  chan LinkEvent
	reqs   chan request

	// closed is closed when Run returns.
	closed    chan struct{}
	closeOnce sync.Once
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithQueueSize sets the capacity of the frame and link event queues.
// The default is 256.
func WithQueueSize(n int) LoopOption {
	return func(l *Loop) {
		l.frames = make(chan Frame, n)
		l.links = make(chan LinkEvent, n)
	}
}

// NewLoop creates a loop for b. Call Run to start it.
func NewLoop(b *Bridge, logger *slog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		bridge: b,
		logger: logger.With(slog.String("component", "mstp.loop")),
		frames: make(chan Frame, 256),
		links:  make(chan LinkEvent, 256),
		reqs:   make(chan request),
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run processes inputs until ctx is cancelled. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeOnce.Do(func() { close(l.closed) })

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	l.logger.Info("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.bridge.Tick()
		case f := <-l.frames:
			// Validation failures are counted by the bridge.
			_ = l.bridge.ReceiveFrame(f.Port, f.Payload)
		case ev := <-l.links:
			if err := l.bridge.SetPortEnabled(ev.Port, ev.Up); err != nil {
				l.logger.Warn("link event for unknown port",
					slog.Int("port", int(ev.Port)),
					slog.String("error", err.Error()),
				)
			}
		case r := <-l.reqs:
			r.done <- r.fn(l.bridge)
		}
	}
}

// Deliver queues a received frame. It never blocks: when the queue is
// full the frame is dropped, which the protocol tolerates.
func (l *Loop) Deliver(f Frame) bool {
	select {
	case l.frames <- f:
		return true
	default:
		l.logger.Warn("frame queue full, dropping bpdu", slog.Int("port", int(f.Port)))
		return false
	}
}

// SetLink queues a link state change.
func (l *Loop) SetLink(ctx context.Context, ev LinkEvent) error {
	select {
	case l.links <- ev:
		return nil
	case <-l.closed:
		return ErrLoopClosed
	case <-ctx.Done():
		return fmt.Errorf("queue link event: %w", ctx.Err())
	}
}

// Do runs fn on the loop goroutine and waits for its result. fn must not
// retain the Bridge after returning.
func (l *Loop) Do(ctx context.Context, fn func(*Bridge) error) error {
	r := request{fn: fn, done: make(chan error, 1)}
	select {
	case l.reqs <- r:
	case <-l.closed:
		return ErrLoopClosed
	case <-ctx.Done():
		return fmt.Errorf("submit request: %w", ctx.Err())
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("await request: %w", ctx.Err())
	}
}

// -------------------------------------------------------------------------
// Event Fan-out
// -------------------------------------------------------------------------

// EventHub fans protocol events out to subscribers. Publish is called on
// the loop goroutine; Subscribe may be called from any goroutine.
type EventHub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		logger: logger.With(slog.String("component", "mstp.events")),
		subs:   make(map[chan Event]struct{}),
	}
}

// Publish delivers ev to every subscriber without blocking. Subscribers
// that fall behind lose events.
func (h *EventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber channel full, dropping event",
				slog.String("kind", ev.Kind.String()),
				slog.Int("mstid", int(ev.MSTID)),
			)
		}
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (h *EventHub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}
