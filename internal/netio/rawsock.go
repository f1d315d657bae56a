package netio

import (
	"errors"
	"net"
)

// -------------------------------------------------------------------------
// PacketConn Interface
// -------------------------------------------------------------------------

// maxFrameSize bounds a received Ethernet frame without FCS.
const maxFrameSize = 1518

// PacketConn abstracts link-layer frame I/O on one bridge port.
// Implementations deliver only frames addressed to the bridge group
// address and not originated by this host.
//
// The interface is intentionally minimal to enable mock implementations
// for testing without CAP_NET_RAW.
type PacketConn interface {
	// ReadFrame reads one Ethernet frame into buf and returns its length.
	ReadFrame(buf []byte) (int, error)

	// WriteFrame transmits one complete Ethernet frame.
	WriteFrame(frame []byte) error

	// Close releases the socket and unblocks a pending ReadFrame.
	Close() error

	// IfName returns the interface the connection is bound to.
	IfName() string

	// HardwareAddr returns the MAC address of the interface.
	HardwareAddr() net.HardwareAddr
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrPoolType indicates the frame pool returned an unexpected type.
	ErrPoolType = errors.New("frame pool returned unexpected type")

	// ErrUnknownPort indicates a transmit or state change for a port with
	// no registered connection.
	ErrUnknownPort = errors.New("no connection for port")
)
