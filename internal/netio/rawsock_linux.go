//go:build linux

package netio

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// LinuxPacketConn: AF_PACKET socket bound to one interface
// -------------------------------------------------------------------------

// ethP8022 is ETH_P_802_2: the kernel delivers 802.3 frames carrying an
// LLC header under this pseudo protocol.
const ethP8022 = 0x0004

// LinuxPacketConn implements PacketConn with an AF_PACKET SOCK_RAW socket.
//
// Socket configuration:
//  1. Protocol ETH_P_802_2, bound to the interface index
//  2. PACKET_ADD_MEMBERSHIP for the bridge group address
//  3. Non-blocking descriptor registered with the runtime poller, so Close
//     unblocks a pending read
//  4. Frames with PACKET_OUTGOING are skipped on receive
type LinuxPacketConn struct {
	file   *os.File
	ifName string
	addr   net.HardwareAddr

	mu     sync.Mutex
	closed bool
}

// ListenPort opens an AF_PACKET socket on the named interface.
func ListenPort(ifName string) (*LinuxPacketConn, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", ifName, err)
	}

	proto := int(htons(ethP8022))
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: socket: %w", ifName, err)
	}

	if err := applySockOpts(fd, ifi.Index); err != nil {
		closeErr := unix.Close(fd)
		return nil, errors.Join(fmt.Errorf("listen on %s: %w", ifName, err), closeErr)
	}

	return &LinuxPacketConn{
		file:   os.NewFile(uintptr(fd), "packet:"+ifName),
		ifName: ifName,
		addr:   ifi.HardwareAddr,
	}, nil
}

// applySockOpts binds fd to ifIndex and joins the bridge group address.
func applySockOpts(fd, ifIndex int) error {
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(ethP8022),
		Ifindex:  ifIndex,
	}
	if err := unix.Bind(fd, sll); err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	mreq := &unix.PacketMreq{
		Ifindex: int32(ifIndex), //nolint:gosec // G115: interface indexes are small positive integers.
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    uint16(len(BridgeGroupAddress)),
	}
	copy(mreq.Address[:], BridgeGroupAddress)
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("set PACKET_ADD_MEMBERSHIP: %w", err)
	}

	return nil
}

// ReadFrame reads one frame received on the interface.
func (c *LinuxPacketConn) ReadFrame(buf []byte) (int, error) {
	rc, err := c.file.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("read frame on %s: %w", c.ifName, err)
	}

	for {
		var (
			n       int
			from    unix.Sockaddr
			readErr error
		)
		err := rc.Read(func(fd uintptr) bool {
			//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
			n, from, readErr = unix.Recvfrom(int(fd), buf, 0)
			return readErr != unix.EAGAIN
		})
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return 0, ErrSocketClosed
			}
			return 0, fmt.Errorf("read frame on %s: %w", c.ifName, err)
		}
		if readErr != nil {
			return 0, fmt.Errorf("read frame on %s: %w", c.ifName, readErr)
		}
		if sll, ok := from.(*unix.SockaddrLinklayer); ok && sll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}
		return n, nil
	}
}

// WriteFrame transmits frame on the bound interface.
func (c *LinuxPacketConn) WriteFrame(frame []byte) error {
	if _, err := c.file.Write(frame); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrSocketClosed
		}
		return fmt.Errorf("write frame on %s: %w", c.ifName, err)
	}
	return nil
}

// Close releases the underlying socket.
func (c *LinuxPacketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.file.Close(); err != nil {
		return fmt.Errorf("close packet socket on %s: %w", c.ifName, err)
	}
	return nil
}

// IfName returns the bound interface name.
func (c *LinuxPacketConn) IfName() string { return c.ifName }

// HardwareAddr returns the interface MAC address.
func (c *LinuxPacketConn) HardwareAddr() net.HardwareAddr { return c.addr }

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// OpenListener opens an AF_PACKET socket on ifName for bridge port num.
func OpenListener(num mstp.PortNum, ifName string) (*Listener, error) {
	conn, err := ListenPort(ifName)
	if err != nil {
		return nil, err
	}
	return NewListenerFromConn(num, conn), nil
}
