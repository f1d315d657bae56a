package netio_test

import (
	"net"
	"sync"

	"github.com/dantte-lp/gomstp/internal/mstp"
	"github.com/dantte-lp/gomstp/internal/netio"
)

// -------------------------------------------------------------------------
// MockPacketConn: Test double for PacketConn
// -------------------------------------------------------------------------

// MockPacketConn implements netio.PacketConn for testing without real
// sockets. Frames queued with Inject are returned by ReadFrame, which
// blocks until a frame arrives or the connection is closed.
type MockPacketConn struct {
	name string
	addr net.HardwareAddr

	rx     chan []byte
	closed chan struct{}
	once   sync.Once

	mu sync.Mutex
	// Written records all frames sent via WriteFrame.
	Written [][]byte
}

// NewMockPacketConn creates a MockPacketConn for interface name.
func NewMockPacketConn(name string, addr net.HardwareAddr) *MockPacketConn {
	return &MockPacketConn{
		name:   name,
		addr:   addr,
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

// Inject queues frame for ReadFrame.
func (m *MockPacketConn) Inject(frame []byte) {
	m.rx <- frame
}

// ReadFrame implements PacketConn.ReadFrame.
func (m *MockPacketConn) ReadFrame(buf []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, netio.ErrSocketClosed
	case f := <-m.rx:
		return copy(buf, f), nil
	}
}

// WriteFrame implements PacketConn.WriteFrame.
func (m *MockPacketConn) WriteFrame(frame []byte) error {
	select {
	case <-m.closed:
		return netio.ErrSocketClosed
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the frame so the test can inspect it after the caller reuses it.
	m.Written = append(m.Written, append([]byte(nil), frame...))
	return nil
}

// Close implements PacketConn.Close.
func (m *MockPacketConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// IfName implements PacketConn.IfName.
func (m *MockPacketConn) IfName() string { return m.name }

// HardwareAddr implements PacketConn.HardwareAddr.
func (m *MockPacketConn) HardwareAddr() net.HardwareAddr { return m.addr }

func (m *MockPacketConn) written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.Written...)
}

// -------------------------------------------------------------------------
// recordingSink: Test double for FrameSink and DropCounter
// -------------------------------------------------------------------------

type recordingSink struct {
	mu     sync.Mutex
	full   bool
	frames []mstp.Frame
	drops  map[string]int
	got    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{drops: make(map[string]int), got: make(chan struct{}, 64)}
}

func (s *recordingSink) Deliver(f mstp.Frame) bool {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.got <- struct{}{}
	}()
	if s.full {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *recordingSink) IncBPDUsDropped(port, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[port+"/"+reason]++
}

func (s *recordingSink) snapshot() ([]mstp.Frame, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drops := make(map[string]int, len(s.drops))
	for k, v := range s.drops {
		drops[k] = v
	}
	return append([]mstp.Frame(nil), s.frames...), drops
}
