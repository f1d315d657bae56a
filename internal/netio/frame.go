package netio

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// -------------------------------------------------------------------------
// BPDU Framing: 802.1Q-2011 Section 14.1, 802.2 LLC
// -------------------------------------------------------------------------

// llcSAP is the LLC service access point of the Spanning Tree Protocol
// (802.1Q-2011 Table 14-1).
const llcSAP = 0x42

// llcControlUI is the LLC control field of an unnumbered information PDU.
const llcControlUI = 0x03

// llcHeaderLen is the size of the LLC header preceding the BPDU.
const llcHeaderLen = 3

// BridgeGroupAddress is the destination of every BPDU (802.1Q-2011
// Table 8-1).
var BridgeGroupAddress = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x00}

// Framing errors.
var (
	// ErrNotEthernet indicates the frame has no Ethernet header.
	ErrNotEthernet = errors.New("frame has no ethernet header")

	// ErrNotSTP indicates an 802.3 frame whose LLC SAPs are not the STP SAP.
	ErrNotSTP = errors.New("frame is not an STP LLC PDU")

	// ErrInvalidSourceMAC indicates a source address that is not 48 bits.
	ErrInvalidSourceMAC = errors.New("source MAC must be 6 bytes")
)

// EncodeFrame builds an 802.3 frame with an LLC header carrying payload
// from src to the bridge group address. Frames shorter than the Ethernet
// minimum are padded.
func EncodeFrame(src net.HardwareAddr, payload []byte) ([]byte, error) {
	if len(src) != 6 {
		return nil, fmt.Errorf("encode frame: %w", ErrInvalidSourceMAC)
	}

	eth := layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       BridgeGroupAddress,
		EthernetType: layers.EthernetTypeLLC,
	}
	llc := layers.LLC{
		DSAP:    llcSAP,
		SSAP:    llcSAP,
		Control: llcControlUI,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &llc, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodedFrame is a received BPDU with its link-layer addresses.
type DecodedFrame struct {
	Src     net.HardwareAddr
	Dst     net.HardwareAddr
	Payload []byte
}

// DecodeFrame strips the Ethernet and LLC headers of an STP frame. The
// returned payload aliases data. Padding beyond the 802.3 length field is
// removed.
func DecodeFrame(data []byte) (DecodedFrame, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true, Lazy: true})

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return DecodedFrame{}, fmt.Errorf("decode frame: %w", ErrNotEthernet)
	}

	llcLayer := pkt.Layer(layers.LayerTypeLLC)
	llc, ok := llcLayer.(*layers.LLC)
	if !ok || llc.DSAP != llcSAP || llc.SSAP != llcSAP {
		return DecodedFrame{}, fmt.Errorf("decode frame: %w", ErrNotSTP)
	}

	return DecodedFrame{
		Src:     eth.SrcMAC,
		Dst:     eth.DstMAC,
		Payload: llc.LayerPayload(),
	}, nil
}
