package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// ErrPortAttached indicates Attach was called twice for the same port.
var ErrPortAttached = errors.New("port already attached")

// FrameSink accepts received BPDUs for the protocol event loop. It must
// not block; mstp.Loop.Deliver satisfies it.
type FrameSink interface {
	Deliver(f mstp.Frame) bool
}

// DropCounter counts frames discarded before protocol processing.
type DropCounter interface {
	IncBPDUsDropped(port, reason string)
}

// dropQueueFull is the drop reason for a full event-loop queue.
const dropQueueFull = "queue_full"

type nopDropCounter struct{}

func (nopDropCounter) IncBPDUsDropped(string, string) {}

// Receiver runs one read loop per attached port and hands BPDUs to a
// FrameSink. Ports may be attached and detached while it runs.
//
// The Receiver handles:
//   - Buffer management via a frame pool
//   - Ethernet/LLC decoding via DecodeFrame
//   - Drop accounting when the sink is full
//   - Graceful shutdown: Close closes every connection and waits
type Receiver struct {
	sink   FrameSink
	drops  DropCounter
	logger *slog.Logger

	mu    sync.Mutex
	ports map[mstp.PortNum]*attached
	wg    sync.WaitGroup
}

type attached struct {
	ln     *Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithDropCounter records queue-full drops; the metrics collector
// satisfies it.
func WithDropCounter(dc DropCounter) ReceiverOption {
	return func(r *Receiver) { r.drops = dc }
}

// NewReceiver creates a Receiver that feeds sink.
func NewReceiver(sink FrameSink, logger *slog.Logger, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		sink:   sink,
		drops:  nopDropCounter{},
		logger: logger.With(slog.String("component", "netio.receiver")),
		ports:  make(map[mstp.PortNum]*attached),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Attach starts the read loop of ln. The loop stops when ctx is
// cancelled, on Detach or on Close. The Receiver owns ln from here on.
func (r *Receiver) Attach(ctx context.Context, ln *Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ports[ln.Port()]; ok {
		return fmt.Errorf("attach port %d: %w", ln.Port(), ErrPortAttached)
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &attached{ln: ln, cancel: cancel, done: make(chan struct{})}
	r.ports[ln.Port()] = a

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(a.done)
		r.recvLoop(ctx, ln)
	}()

	r.logger.Debug("port attached",
		slog.Int("port", int(ln.Port())),
		slog.String("interface", ln.Conn().IfName()),
	)
	return nil
}

// Detach stops the read loop of port and closes its connection.
func (r *Receiver) Detach(port mstp.PortNum) error {
	r.mu.Lock()
	a, ok := r.ports[port]
	delete(r.ports, port)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("detach port %d: %w", port, ErrUnknownPort)
	}

	err := a.stop()
	<-a.done
	return err
}

// Close stops every read loop and waits for them to return.
func (r *Receiver) Close() error {
	r.mu.Lock()
	ports := r.ports
	r.ports = make(map[mstp.PortNum]*attached)
	r.mu.Unlock()

	var errs []error
	for _, a := range ports {
		errs = append(errs, a.stop())
	}
	r.wg.Wait()
	return errors.Join(errs...)
}

func (a *attached) stop() error {
	a.cancel()
	return a.ln.Close()
}

// recvLoop reads BPDUs from a single Listener until ctx is cancelled or
// the connection is closed. Errors from individual reads are logged but
// do not stop the loop.
func (r *Receiver) recvLoop(ctx context.Context, ln *Listener) {
	name := ln.Conn().IfName()
	for {
		f, err := ln.Recv(ctx)
		if err != nil {
			// Cancellation and close during read are expected at shutdown.
			if ctx.Err() != nil || errors.Is(err, ErrSocketClosed) {
				return
			}
			r.logger.Warn("recv error",
				slog.String("interface", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !r.sink.Deliver(f) {
			r.drops.IncBPDUsDropped(name, dropQueueFull)
		}
	}
}
