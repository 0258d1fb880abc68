// Package arp implements a zero-copy view over an IPv4-over-Ethernet ARP
// packet (RFC 826) and the bounded IPv4-to-MAC resolver/cache described by
// the stack's data model.
package arp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/tinynet/stack"
)

const (
	sizeHeader   = 8
	sizeHeaderv4 = sizeHeader + 6*2 + 4*2
)

var errShort = errors.New("arp: packet too short")

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is shorter than the IPv4-over-Ethernet ARP header (28 bytes). Callers
// should still call [Frame.ValidateSize] before trusting variable-length
// hardware/protocol address fields on wire-derived buffers of other address
// families.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ARP packet and provides accessors
// for its fields and variable-length address data. See RFC 826.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the hardware type and hardware address length fields.
func (afrm Frame) Hardware() (htype uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.hwlen()
}

func (afrm Frame) hwlen() uint8 { return afrm.buf[4] }

// SetHardware sets the hardware type and hardware address length fields.
func (afrm Frame) SetHardware(htype uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], htype)
	afrm.buf[4] = length
}

// Protocol returns the protocol type and protocol address length fields.
func (afrm Frame) Protocol() (ptype stack.EtherType, length uint8) {
	return stack.EtherType(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.protolen()
}

func (afrm Frame) protolen() uint8 { return afrm.buf[5] }

// SetProtocol sets the protocol type and protocol address length fields.
func (afrm Frame) SetProtocol(ptype stack.EtherType, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(ptype))
	afrm.buf[5] = length
}

// Operation returns the ARP header operation field.
func (afrm Frame) Operation() stack.ARPOp { return stack.ARPOp(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP header operation field.
func (afrm Frame) SetOperation(op stack.ARPOp) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// Sender returns the hardware and protocol addresses of the packet's sender.
func (afrm Frame) Sender() (hardwareAddr, proto []byte) {
	_, hlen := afrm.Hardware()
	_, plen := afrm.Protocol()
	return afrm.buf[8 : 8+hlen], afrm.buf[8+hlen : 8+hlen+plen]
}

// Target returns the hardware and protocol addresses of the packet's target.
func (afrm Frame) Target() (hardwareAddr, proto []byte) {
	_, hlen := afrm.Hardware()
	_, plen := afrm.Protocol()
	toff := 8 + hlen + plen
	return afrm.buf[toff : toff+hlen], afrm.buf[toff+hlen : toff+hlen+plen]
}

// Sender4 returns the IPv4 sender hardware/protocol addresses as fixed arrays.
func (afrm Frame) Sender4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns the IPv4 target hardware/protocol addresses as fixed arrays.
func (afrm Frame) Target4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// ClearHeader zeros out the fixed (non variable-length) header contents.
func (afrm Frame) ClearHeader() {
	for i := range afrm.buf[:8] {
		afrm.buf[i] = 0
	}
}

// Clip returns afrm with its buffer truncated to the actual declared size,
// dropping any trailing padding present in the original buffer.
func (afrm Frame) Clip() Frame {
	return Frame{buf: afrm.buf[:sizeHeader+2*int(afrm.hwlen())+2*int(afrm.protolen())]}
}

// SwapTargetSender exchanges the sender and target hardware/protocol fields
// in place, as used when turning a received request into a reply.
func (afrm Frame) SwapTargetSender() {
	hwTarget, protoTarget := afrm.Target()
	hwSender, protoSender := afrm.Sender()
	for i := range hwTarget {
		hwTarget[i], hwSender[i] = hwSender[i], hwTarget[i]
	}
	for i := range protoTarget {
		protoTarget[i], protoSender[i] = protoSender[i], protoTarget[i]
	}
}

// ValidateSize checks the frame's declared address lengths against the
// actual buffer size and records any inconsistency in v.
func (afrm Frame) ValidateSize(v *stack.Validator) {
	_, hlen := afrm.Hardware()
	_, plen := afrm.Protocol()
	minLen := 8 + 2*(int(hlen)+int(plen))
	if len(afrm.buf) < minLen {
		v.AddError(errShort)
	}
}

func (afrm Frame) String() string {
	htype, _ := afrm.Hardware()
	ptype, _ := afrm.Protocol()
	sndhw, sndpt := afrm.Sender()
	tgthw, tgtpt := afrm.Target()
	var sndstr, tgtstr string
	if ptype == stack.EtherTypeIPv4 {
		sender, _ := netip.AddrFromSlice(sndpt)
		target, _ := netip.AddrFromSlice(tgtpt)
		sndstr, tgtstr = sender.String(), target.String()
	} else {
		sndstr = net.HardwareAddr(sndpt).String()
		tgtstr = net.HardwareAddr(tgtpt).String()
	}
	return fmt.Sprintf("ARP op=%d HW=(%d,SENDER=%s,TARGET=%s) PROTO=(%s,SENDER=%s,TARGET=%s)",
		afrm.Operation(), htype, net.HardwareAddr(sndhw).String(), net.HardwareAddr(tgthw).String(),
		ptype.String(), sndstr, tgtstr)
}
