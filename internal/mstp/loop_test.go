package mstp_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

type countingTx struct{ n atomic.Int64 }

func (c *countingTx) Transmit(mstp.PortNum, []byte) error {
	c.n.Add(1)
	return nil
}

func TestLoop(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tx := &countingTx{}
		b := newBridge(t, mstp.WithTransmitter(tx))
		l := mstp.NewLoop(b, discardLogger())
		done := make(chan error, 1)
		go func() { done <- l.Run(ctx) }()

		err := l.Do(ctx, func(b *mstp.Bridge) error {
			return b.AddPort(1, mstp.DefaultPortConfig("eth1"))
		})
		if err != nil {
			t.Fatalf("Do(AddPort): %v", err)
		}

		// The hello timer keeps transmitting on the ticker.
		sent := tx.n.Load()
		time.Sleep(10 * mstp.TickInterval)
		synctest.Wait()
		if got := tx.n.Load(); got < sent+4 {
			t.Errorf("sent %d BPDUs in 10s, want at least 4", got-sent)
		}

		if !l.Deliver(mstp.Frame{Port: 1, Payload: mstFrame(t, 0)}) {
			t.Fatal("Deliver refused a frame")
		}
		synctest.Wait()
		if err := l.SetLink(ctx, mstp.LinkEvent{Port: 1, Up: false}); err != nil {
			t.Fatalf("SetLink: %v", err)
		}
		synctest.Wait()

		var ps mstp.PortSnapshot
		if err := l.Do(ctx, func(b *mstp.Bridge) error {
			var err error
			ps, err = b.Port(1)
			return err
		}); err != nil {
			t.Fatal(err)
		}
		if ps.Enabled || ps.Stats.RxMST != 1 {
			t.Errorf("port enabled %v rx mst %d, want disabled after one frame", ps.Enabled, ps.Stats.RxMST)
		}

		// Errors from the request function are returned unchanged.
		if err := l.Do(ctx, func(b *mstp.Bridge) error { return b.RemovePort(9) }); !errors.Is(err, mstp.ErrPortNotFound) {
			t.Errorf("Do error = %v, want ErrPortNotFound", err)
		}

		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
		if err := l.Do(context.Background(), func(*mstp.Bridge) error { return nil }); !errors.Is(err, mstp.ErrLoopClosed) {
			t.Errorf("Do after close = %v, want ErrLoopClosed", err)
		}
		if err := l.SetLink(context.Background(), mstp.LinkEvent{Port: 1, Up: true}); !errors.Is(err, mstp.ErrLoopClosed) {
			t.Errorf("SetLink after close = %v, want ErrLoopClosed", err)
		}
	})
}

func TestLoopDeliverQueueFull(t *testing.T) {
	t.Parallel()

	l := mstp.NewLoop(newBridge(t), discardLogger(), mstp.WithQueueSize(1))
	if !l.Deliver(mstp.Frame{Port: 1}) {
		t.Fatal("first frame refused")
	}
	if l.Deliver(mstp.Frame{Port: 1}) {
		t.Error("frame accepted by a full queue")
	}
}

func TestLoopDoHonoursContext(t *testing.T) {
	t.Parallel()

	l := mstp.NewLoop(newBridge(t), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Do(ctx, func(*mstp.Bridge) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Do with cancelled context = %v", err)
	}
}

func TestEventHub(t *testing.T) {
	t.Parallel()

	h := mstp.NewEventHub(discardLogger())
	ch, cancel := h.Subscribe(1)
	other, cancelOther := h.Subscribe(4)
	defer cancelOther()

	h.Publish(mstp.Event{Kind: mstp.EventRootChange})
	h.Publish(mstp.Event{Kind: mstp.EventTopologyChange, MSTID: 3})

	if ev := <-ch; ev.Kind != mstp.EventRootChange {
		t.Errorf("first event = %s", ev.Kind)
	}
	select {
	case ev := <-ch:
		t.Errorf("slow subscriber got dropped event %s", ev.Kind)
	default:
	}
	if n := len(other); n != 2 {
		t.Errorf("second subscriber buffered %d events, want 2", n)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	// Publishing after a cancel must not panic on the closed channel.
	h.Publish(mstp.Event{Kind: mstp.EventRoleChange})
}

func TestBridgeEventsViaHub(t *testing.T) {
	t.Parallel()

	h := mstp.NewEventHub(discardLogger())
	ch, cancel := h.Subscribe(64)
	defer cancel()

	b := newBridge(t, mstp.WithEventHandler(h.Publish))
	if err := b.AddPort(1, mstp.DefaultPortConfig("eth1")); err != nil {
		t.Fatal(err)
	}

	var sawRole, sawState bool
	for len(ch) > 0 {
		ev := <-ch
		switch ev.Kind {
		case mstp.EventRoleChange:
			sawRole = sawRole || (ev.PortName == "eth1" && ev.New == mstp.RoleDesignated.String())
		case mstp.EventStateChange:
			sawState = true
		}
		if ev.Time.IsZero() {
			t.Errorf("event %s has no timestamp", ev.Kind)
		}
	}
	if !sawRole || !sawState {
		t.Errorf("role event %v state event %v", sawRole, sawState)
	}
}
