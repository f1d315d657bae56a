package mstp

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // MD5 is mandated by 802.1Q-2011 Section 13.7.
	"encoding/binary"
	"encoding/hex"
)

// -------------------------------------------------------------------------
// MST Configuration Identifier: 802.1Q-2011 Section 13.7
// -------------------------------------------------------------------------

const (
	// ConfigNameSize is the size of the Configuration Name field.
	ConfigNameSize = 32

	// DigestSize is the size of the Configuration Digest field.
	DigestSize = 16

	configIDSize = 1 + ConfigNameSize + 2 + DigestSize

	// MaxVLAN is the largest VLAN id that can be mapped to an MSTI.
	MaxVLAN = 4094
)

// digestKey is the HMAC-MD5 signature key from Table 13-1.
var digestKey = [16]byte{
	0x13, 0xAC, 0x06, 0xA6, 0x2E, 0x47, 0xFD, 0x51,
	0xF9, 0x5D, 0x2B, 0xA2, 0x43, 0xCD, 0x03, 0x46,
}

// ConfigID is the MST Configuration Identifier. Two bridges are in the
// same region when their identifiers are equal.
type ConfigID struct {
	FormatSelector uint8
	Name           [ConfigNameSize]byte
	Revision       uint16
	Digest         [DigestSize]byte
}

// NewConfigID builds an identifier from a region name (truncated to 32
// octets), a revision level and a VLAN to MSTID table.
func NewConfigID(name string, revision uint16, table *VLANTable) ConfigID {
	var c ConfigID
	copy(c.Name[:], name)
	c.Revision = revision
	c.Digest = table.Digest()
	return c
}

// RegionName returns the name with trailing NUL padding removed.
func (c ConfigID) RegionName() string {
	return string(bytes.TrimRight(c.Name[:], "\x00"))
}

// DigestString returns the digest as lowercase hex.
func (c ConfigID) DigestString() string {
	return hex.EncodeToString(c.Digest[:])
}

func putConfigID(buf []byte, c ConfigID) {
	buf[0] = c.FormatSelector
	copy(buf[1:1+ConfigNameSize], c.Name[:])
	binary.BigEndian.PutUint16(buf[33:35], c.Revision)
	copy(buf[35:35+DigestSize], c.Digest[:])
}

func readConfigID(buf []byte) ConfigID {
	var c ConfigID
	c.FormatSelector = buf[0]
	copy(c.Name[:], buf[1:1+ConfigNameSize])
	c.Revision = binary.BigEndian.Uint16(buf[33:35])
	copy(c.Digest[:], buf[35:35+DigestSize])
	return c
}

// VLANTable maps every VLAN id 0..4095 to an MSTID. The zero value maps
// all VLANs to the CIST.
type VLANTable [MaxVLAN + 2]MSTID

// Digest computes the Configuration Digest: HMAC-MD5 over the 4096
// big-endian 16-bit MSTIDs (802.1Q-2011 Section 13.7 c)).
func (t *VLANTable) Digest() [DigestSize]byte {
	var buf [len(VLANTable{}) * 2]byte
	for vid, id := range t {
		binary.BigEndian.PutUint16(buf[vid*2:], uint16(id))
	}
	mac := hmac.New(md5.New, digestKey[:])
	mac.Write(buf[:])
	var d [DigestSize]byte
	copy(d[:], mac.Sum(nil))
	return d
}
