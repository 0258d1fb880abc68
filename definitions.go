// Package stack implements the wire-format vocabulary shared by every layer
// of a minimal embedded IPv4/ARP/ICMP/UDP/TCP protocol core: the link-layer
// EtherType/IPProto enumerations, the RFC 1071 internet checksum, and the
// frame-validation helper used by the per-protocol Frame views.
package stack

import "fmt"

// EtherType identifies the payload protocol carried by an Ethernet II frame.
type EtherType uint16

// IsSize reports whether et is actually an 802.3 length field rather than an
// EtherType. Values <=1500 are lengths; this core only ever emits EtherType
// values above that range and treats anything else as unknown.
func (et EtherType) IsSize() bool { return et <= 1500 }

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	default:
		return fmt.Sprintf("EtherType(0x%04x)", uint16(et))
	}
}

// IPProto is the IPv4 protocol number carried in the IPv4 header.
type IPProto uint8

const (
	IPProtoICMP IPProto = 1
	IPProtoTCP  IPProto = 6
	IPProtoUDP  IPProto = 17
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return fmt.Sprintf("IPProto(%d)", uint8(p))
	}
}

// ARPOp is the ARP header operation field.
type ARPOp uint16

const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

// IPv4Flags holds the flags/fragment-offset field of an IPv4 header.
type IPv4Flags uint16

const (
	// IPv4DontFragment is the single flags/offset value this core ever
	// emits: don't-fragment set, no fragment offset.
	IPv4DontFragment IPv4Flags = 0x4000
)

// MoreFragments reports the MF bit. Any segment with MF set or a non-zero
// FragmentOffset is dropped by this core, which does not reassemble
// fragmented datagrams.
func (f IPv4Flags) MoreFragments() bool { return f&0x2000 != 0 }

// FragmentOffset is the 13-bit fragment offset field, in units of 8 bytes.
func (f IPv4Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }

// DontFragment reports the DF bit.
func (f IPv4Flags) DontFragment() bool { return f&0x4000 != 0 }

// Fixed header sizes used across Frame views.
const (
	SizeHeaderEthernet = 14
	SizeHeaderARPv4    = 28 // HTYPE=1, PTYPE=IPv4, HLEN=6, PLEN=4
	SizeHeaderIPv4     = 20
	SizeHeaderICMP     = 8
	SizeHeaderUDP      = 8
	SizeHeaderTCP      = 20
)

// BroadcastMAC is the all-ones Ethernet broadcast address.
func BroadcastMAC() [6]byte { return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} }
