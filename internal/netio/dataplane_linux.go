//go:build linux

package netio

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// NetlinkLearning toggles IFLA_BRPORT_LEARNING on a bridge port.
func NetlinkLearning(ifName string, on bool) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", ifName, err)
	}
	if err := netlink.LinkSetLearning(link, on); err != nil {
		return fmt.Errorf("set learning %t on %s: %w", on, ifName, err)
	}
	return nil
}

// InterfaceMAC returns the hardware address of ifName, used as the
// bridge address when none is configured.
func InterfaceMAC(ifName string) (mstp.MAC, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return mstp.MAC{}, fmt.Errorf("lookup link %s: %w", ifName, err)
	}

	var m mstp.MAC
	hw := link.Attrs().HardwareAddr
	if len(hw) != len(m) {
		return mstp.MAC{}, fmt.Errorf("link %s hardware address %q: %w", ifName, hw, mstp.ErrInvalidMAC)
	}
	copy(m[:], hw)
	return m, nil
}
