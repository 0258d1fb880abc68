// Package udp implements a zero-copy view over a UDP datagram (RFC 768) and
// the fixed-size socket table that multiplexes datagrams to registered
// local ports.
package udp

import (
	"encoding/binary"
	"errors"

	"github.com/tinynet/stack"
)

const sizeHeader = stack.SizeHeaderUDP

var (
	errBadLen = errors.New("udp: bad UDP length")
	errShort  = errors.New("udp: short buffer")
)

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is shorter than the 8-byte UDP header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a UDP datagram and provides accessors
// for its fields and payload. See RFC 768.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ufrm Frame) RawData() []byte { return ufrm.buf }

// SourcePort returns the sending port.
func (ufrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(ufrm.buf[0:2]) }

// SetSourcePort sets the sending port.
func (ufrm Frame) SetSourcePort(src uint16) { binary.BigEndian.PutUint16(ufrm.buf[0:2], src) }

// DestinationPort returns the receiving port.
func (ufrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(ufrm.buf[2:4]) }

// SetDestinationPort sets the receiving port.
func (ufrm Frame) SetDestinationPort(dst uint16) { binary.BigEndian.PutUint16(ufrm.buf[2:4], dst) }

// Length returns the UDP length field (header plus payload).
func (ufrm Frame) Length() uint16 { return binary.BigEndian.Uint16(ufrm.buf[4:6]) }

// SetLength sets the UDP length field.
func (ufrm Frame) SetLength(length uint16) { binary.BigEndian.PutUint16(ufrm.buf[4:6], length) }

// CRC returns the checksum field.
func (ufrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(ufrm.buf[6:8]) }

// SetCRC sets the checksum field.
func (ufrm Frame) SetCRC(checksum uint16) { binary.BigEndian.PutUint16(ufrm.buf[6:8], checksum) }

// Payload returns the datagram payload, bounded by Length.
func (ufrm Frame) Payload() []byte { return ufrm.buf[sizeHeader:ufrm.Length()] }

// CRCWrite adds the UDP header and payload to crc, which must already carry
// the IPv4 pseudo-header (source/destination address and protocol; see
// Table.Send). This stack only computes outbound checksums: inbound UDP
// checksums are accepted unconditionally.
func (ufrm Frame) CRCWrite(crc *stack.Checksum) {
	crc.AddUint16(ufrm.Length())
	crc.Write(ufrm.buf[:sizeHeader])
	crc.Write(ufrm.Payload())
}

// ClearHeader zeros out the header contents.
func (ufrm Frame) ClearHeader() {
	for i := range ufrm.buf[:sizeHeader] {
		ufrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's declared length against the actual buffer
// and records any inconsistency in v.
func (ufrm Frame) ValidateSize(v *stack.Validator) {
	ul := ufrm.Length()
	if ul < sizeHeader {
		v.AddError(errBadLen)
	}
	if int(ul) > len(ufrm.buf) {
		v.AddError(errShort)
	}
}
