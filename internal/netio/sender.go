package netio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// Sender implements mstp.Transmitter by framing each BPDU and writing it
// to the PacketConn registered for the port.
type Sender struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[mstp.PortNum]PacketConn
}

var _ mstp.Transmitter = (*Sender)(nil)

// NewSender creates a Sender with no ports.
func NewSender(logger *slog.Logger) *Sender {
	return &Sender{
		logger: logger.With(slog.String("component", "netio.sender")),
		conns:  make(map[mstp.PortNum]PacketConn),
	}
}

// Add registers conn as the transmit path of port. The Sender does not
// take ownership of conn.
func (s *Sender) Add(port mstp.PortNum, conn PacketConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[port] = conn
}

// Remove unregisters the transmit path of port.
func (s *Sender) Remove(port mstp.PortNum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, port)
}

// Transmit sends payload as an STP LLC frame from the port's MAC address
// to the bridge group address.
func (s *Sender) Transmit(port mstp.PortNum, payload []byte) error {
	s.mu.RLock()
	conn, ok := s.conns[port]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("transmit on port %d: %w", port, ErrUnknownPort)
	}

	frame, err := EncodeFrame(conn.HardwareAddr(), payload)
	if err != nil {
		return fmt.Errorf("transmit on %s: %w", conn.IfName(), err)
	}

	if err := conn.WriteFrame(frame); err != nil {
		s.logger.Debug("transmit failed",
			slog.String("interface", conn.IfName()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("transmit on %s: %w", conn.IfName(), err)
	}

	return nil
}
