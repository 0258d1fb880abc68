// Package ethernet implements a zero-copy view over an Ethernet II frame
// header: destination/source hardware address and EtherType, followed by
// the payload. VLAN tagging is not supported; this core runs on a single
// untagged interface.
package ethernet

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/tinynet/stack"
)

var errShort = errors.New("ethernet: frame shorter than header")

// NewFrame returns a Frame with data set to buf. An error is returned if the
// buffer is too short to hold an Ethernet header. Callers should still call
// [Frame.ValidateSize] before trusting the EtherType/payload length.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < stack.SizeHeaderEthernet {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet frame without the preamble
// or frame check sequence (first byte is the start of the destination
// address) and provides accessors for its fields and payload. See IEEE 802.3.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the length of the Ethernet header, always 14.
func (efrm Frame) HeaderLength() int { return stack.SizeHeaderEthernet }

// Payload returns the data portion of the frame following the header.
func (efrm Frame) Payload() []byte { return efrm.buf[stack.SizeHeaderEthernet:] }

// DestinationHardwareAddr returns the target's MAC address.
func (efrm Frame) DestinationHardwareAddr() *[6]byte {
	return (*[6]byte)(efrm.buf[0:6])
}

// SourceHardwareAddr returns the sender's MAC address.
func (efrm Frame) SourceHardwareAddr() *[6]byte {
	return (*[6]byte)(efrm.buf[6:12])
}

// IsBroadcast reports whether the destination address is ff:ff:ff:ff:ff:ff.
func (efrm Frame) IsBroadcast() bool {
	d := efrm.buf[0:6]
	return d[0] == 0xff && d[1] == 0xff && d[2] == 0xff && d[3] == 0xff && d[4] == 0xff && d[5] == 0xff
}

// EtherType returns the EtherType field of the frame.
func (efrm Frame) EtherType() stack.EtherType {
	return stack.EtherType(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field of the frame.
func (efrm Frame) SetEtherType(v stack.EtherType) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

// SetDestinationHardwareAddr sets the destination MAC address.
func (efrm Frame) SetDestinationHardwareAddr(addr [6]byte) {
	copy(efrm.buf[0:6], addr[:])
}

// SetSourceHardwareAddr sets the source MAC address.
func (efrm Frame) SetSourceHardwareAddr(addr [6]byte) {
	copy(efrm.buf[6:12], addr[:])
}

// ClearHeader zeros out the fixed header contents.
func (efrm Frame) ClearHeader() {
	for i := range efrm.buf[:stack.SizeHeaderEthernet] {
		efrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's length against the fixed header size and
// records any inconsistency in v.
func (efrm Frame) ValidateSize(v *stack.Validator) {
	if len(efrm.buf) < stack.SizeHeaderEthernet {
		v.AddError(errShort)
	}
}

// AppendAddr appends the colon-separated hex text representation of hwAddr to dst.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}
