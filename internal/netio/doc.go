// Package netio moves BPDUs between Linux bridge ports and the protocol
// core.
//
// Frames are 802.3 with an LLC header, encoded with gopacket and carried
// on AF_PACKET sockets opened through golang.org/x/sys/unix. Link state
// arrives over NETLINK_ROUTE via vishvananda/netlink, and CIST port states
// are applied to the kernel bridge through sysfs.
package netio
