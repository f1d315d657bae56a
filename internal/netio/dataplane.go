package netio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// KernelBridge: Linux bridge port state via sysfs
// -------------------------------------------------------------------------

// Linux bridge port states (include/uapi/linux/if_bridge.h BR_STATE_*).
const (
	brStateDisabled   = 0
	brStateLearning   = 2
	brStateForwarding = 3
	brStateBlocking   = 4
)

// DefaultSysfsRoot is the network class directory of sysfs.
const DefaultSysfsRoot = "/sys/class/net"

// KernelBridge implements mstp.DataPlane for a Linux bridge. The CIST
// state of a port is written to brport/state and mirrored into the
// learning flag. The kernel keeps a single STP state per port, so MSTI
// states are recorded and logged only.
type KernelBridge struct {
	root     string
	learning func(ifName string, on bool) error
	logger   *slog.Logger

	mu     sync.Mutex
	ports  map[mstp.PortNum]string
	states map[treePort]mstp.PortState
}

type treePort struct {
	mstid mstp.MSTID
	port  mstp.PortNum
}

var _ mstp.DataPlane = (*KernelBridge)(nil)

// DataPlaneOption configures a KernelBridge.
type DataPlaneOption func(*KernelBridge)

// WithSysfsRoot replaces DefaultSysfsRoot.
func WithSysfsRoot(root string) DataPlaneOption {
	return func(k *KernelBridge) { k.root = root }
}

// WithLearning sets the function that toggles address learning on a
// bridge port. NetlinkLearning is the Linux implementation.
func WithLearning(fn func(ifName string, on bool) error) DataPlaneOption {
	return func(k *KernelBridge) { k.learning = fn }
}

// NewKernelBridge creates a data plane with no ports.
func NewKernelBridge(logger *slog.Logger, opts ...DataPlaneOption) *KernelBridge {
	k := &KernelBridge{
		root:     DefaultSysfsRoot,
		learning: func(string, bool) error { return nil },
		logger:   logger.With(slog.String("component", "netio.dataplane")),
		ports:    make(map[mstp.PortNum]string),
		states:   make(map[treePort]mstp.PortState),
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Add maps bridge port num to interface ifName.
func (k *KernelBridge) Add(num mstp.PortNum, ifName string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ports[num] = ifName
}

// Remove forgets port num and its recorded states.
func (k *KernelBridge) Remove(num mstp.PortNum) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.ports, num)
	for key := range k.states {
		if key.port == num {
			delete(k.states, key)
		}
	}
}

// State returns the last state applied to (mstid, num).
func (k *KernelBridge) State(mstid mstp.MSTID, num mstp.PortNum) (mstp.PortState, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.states[treePort{mstid: mstid, port: num}]
	return s, ok
}

// SetPortState applies state to port num in tree mstid.
func (k *KernelBridge) SetPortState(mstid mstp.MSTID, num mstp.PortNum, state mstp.PortState) error {
	k.mu.Lock()
	ifName, ok := k.ports[num]
	if ok {
		k.states[treePort{mstid: mstid, port: num}] = state
	}
	k.mu.Unlock()

	if !ok {
		return fmt.Errorf("set state of port %d: %w", num, ErrUnknownPort)
	}

	if mstid != 0 {
		k.logger.Debug("msti port state",
			slog.Int("mstid", int(mstid)),
			slog.String("interface", ifName),
			slog.String("state", state.String()),
		)
		return nil
	}

	if err := k.writeBrport(ifName, "state", strconv.Itoa(kernelState(state))); err != nil {
		return err
	}

	if err := k.learning(ifName, state == mstp.StateLearning || state == mstp.StateForwarding); err != nil {
		return fmt.Errorf("set learning on %s: %w", ifName, err)
	}

	k.logger.Info("port state applied",
		slog.String("interface", ifName),
		slog.String("state", state.String()),
	)
	return nil
}

// Flush removes the learned addresses of port num. The kernel FDB is
// shared by all trees, so an MSTI flush clears the whole port.
func (k *KernelBridge) Flush(mstid mstp.MSTID, num mstp.PortNum) error {
	k.mu.Lock()
	ifName, ok := k.ports[num]
	k.mu.Unlock()

	if !ok {
		return fmt.Errorf("flush port %d: %w", num, ErrUnknownPort)
	}

	if err := k.writeBrport(ifName, "flush", "1"); err != nil {
		return err
	}

	k.logger.Debug("fdb flushed",
		slog.Int("mstid", int(mstid)),
		slog.String("interface", ifName),
	)
	return nil
}

func (k *KernelBridge) writeBrport(ifName, attr, value string) error {
	path := filepath.Join(k.root, ifName, "brport", attr)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil { //nolint:gosec // G306: sysfs attributes keep their own mode.
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func kernelState(s mstp.PortState) int {
	switch s {
	case mstp.StateDiscarding:
		return brStateBlocking
	case mstp.StateLearning:
		return brStateLearning
	case mstp.StateForwarding:
		return brStateForwarding
	default:
		return brStateDisabled
	}
}

// -------------------------------------------------------------------------
// Link Speed: 802.1Q-2011 Table 13-4
// -------------------------------------------------------------------------

// LinkSpeed reads the speed of ifName in Mb/s from sysfs. Interfaces
// without a known speed report zero.
func (k *KernelBridge) LinkSpeed(ifName string) (uint64, error) {
	path := filepath.Join(k.root, ifName, "speed")
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if v <= 0 {
		return 0, nil
	}
	return uint64(v), nil
}

// PathCostForSpeed returns the recommended port path cost for a link of
// mbps Mb/s: 20,000,000,000 divided by the speed in Kb/s. Zero selects
// mstp.DefaultPathCost.
func PathCostForSpeed(mbps uint64) uint32 {
	if mbps == 0 {
		return mstp.DefaultPathCost
	}
	cost := 20_000_000 / mbps
	switch {
	case cost < 1:
		return 1
	case cost > mstp.MaxPathCost:
		return mstp.MaxPathCost
	}
	return uint32(cost)
}
