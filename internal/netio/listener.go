package netio

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// framePool holds receive buffers of maxFrameSize bytes.
var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, maxFrameSize)
		return &b
	},
}

// -------------------------------------------------------------------------
// Listener: per-port BPDU receive
// -------------------------------------------------------------------------

// Listener wraps the PacketConn of one bridge port and yields BPDU
// payloads ready for mstp.Bridge.ReceiveFrame.
type Listener struct {
	conn PacketConn
	port mstp.PortNum
}

// NewListenerFromConn creates a Listener for port over an existing
// PacketConn. This is useful for testing with mock connections.
func NewListenerFromConn(port mstp.PortNum, conn PacketConn) *Listener {
	return &Listener{conn: conn, port: port}
}

// Port returns the bridge port number the listener serves.
func (l *Listener) Port() mstp.PortNum { return l.port }

// Conn returns the underlying connection.
func (l *Listener) Conn() PacketConn { return l.conn }

// Recv blocks until a BPDU addressed to the bridge group address is
// received or ctx is cancelled. Frames that are not STP LLC PDUs are
// skipped. The returned payload is owned by the caller.
func (l *Listener) Recv(ctx context.Context) (mstp.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return mstp.Frame{}, fmt.Errorf("listener recv: %w", err)
		}

		payload, ok, err := l.recvOne()
		if err != nil {
			return mstp.Frame{}, err
		}
		if !ok {
			continue
		}

		return mstp.Frame{Port: l.port, Payload: payload}, nil
	}
}

// recvOne reads one frame into a pooled buffer and copies the BPDU out.
func (l *Listener) recvOne() ([]byte, bool, error) {
	bufp, ok := framePool.Get().(*[]byte)
	if !ok {
		return nil, false, fmt.Errorf("listener recv: %w", ErrPoolType)
	}
	defer framePool.Put(bufp)

	n, err := l.conn.ReadFrame(*bufp)
	if err != nil {
		return nil, false, fmt.Errorf("listener read: %w", err)
	}

	f, err := DecodeFrame((*bufp)[:n])
	if err != nil || !bytes.Equal(f.Dst, BridgeGroupAddress) {
		return nil, false, nil
	}

	return bytes.Clone(f.Payload), true, nil
}

// Close closes the underlying PacketConn.
func (l *Listener) Close() error {
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
