package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tinynet/stack"
)

const sizeHeader = stack.SizeHeaderTCP

// fixedOffset is the only data-offset value this engine ever emits: a fixed
// 20-byte header with no options, expressed as a count of 32-bit words.
const fixedOffset = 5

var (
	errShort   = errors.New("tcp: short buffer")
	errBadOffs = errors.New("tcp: bad data offset")
)

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is shorter than the 20-byte TCP header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a TCP segment and provides accessors for
// its fields and payload. This stack never emits or parses TCP options; the
// data offset is always fixedOffset. See RFC 9293.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

func (tfrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[0:2]) }
func (tfrm Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[0:2], p) }

func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[2:4]) }
func (tfrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[2:4], p) }

// Seq returns the sequence number of the first octet of this segment (the
// ISN if SYN is set).
func (tfrm Frame) Seq() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[4:8])) }
func (tfrm Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(tfrm.buf[4:8], uint32(v)) }

// Ack is the next sequence number the sender expects to receive.
func (tfrm Frame) Ack() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[8:12])) }
func (tfrm Frame) SetAck(v Value) { binary.BigEndian.PutUint32(tfrm.buf[8:12], uint32(v)) }

// Offset returns the data offset field in 32-bit words.
func (tfrm Frame) Offset() uint8 { return tfrm.buf[12] >> 4 }

// Flags returns the flags byte.
func (tfrm Frame) Flags() Flags { return Flags(tfrm.buf[13]) }

// SetOffsetAndFlags sets the data-offset nibble and the flags byte.
func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	tfrm.buf[12] = offset << 4
	tfrm.buf[13] = uint8(flags)
}

// HeaderLength returns the header length in bytes, derived from Offset.
func (tfrm Frame) HeaderLength() int { return 4 * int(tfrm.Offset()) }

func (tfrm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }
func (tfrm Frame) SetWindowSize(w uint16) { binary.BigEndian.PutUint16(tfrm.buf[14:16], w) }

func (tfrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(tfrm.buf[16:18]) }
func (tfrm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(tfrm.buf[16:18], crc) }

func (tfrm Frame) UrgentPtr() uint16 { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], up) }

// Payload returns the segment data following the header, using the actual
// data offset rather than assuming no options are present.
func (tfrm Frame) Payload() []byte { return tfrm.buf[tfrm.HeaderLength():] }

// ClearHeader zeros out the fixed header contents.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:sizeHeader] {
		tfrm.buf[i] = 0
	}
}

// CRCWrite adds the TCP header and payload to crc, which must already carry
// the IPv4 pseudo-header (source/destination address, protocol and segment
// length; see Table.emit).
func (tfrm Frame) CRCWrite(crc *stack.Checksum) {
	crc.Write(tfrm.buf)
}

// ValidateSize checks the frame's declared offset against the actual buffer.
// This stack never parses TCP options, so any offset other than the fixed
// 20-byte header is rejected rather than silently misreading option bytes
// as payload.
func (tfrm Frame) ValidateSize(v *stack.Validator) {
	if tfrm.Offset() != fixedOffset {
		v.AddError(errBadOffs)
		return
	}
	if tfrm.HeaderLength() > len(tfrm.buf) {
		v.AddError(errShort)
	}
}

func (tfrm Frame) String() string {
	return fmt.Sprintf("TCP :%d -> :%d seq=%d ack=%d win=%d %s",
		tfrm.SourcePort(), tfrm.DestinationPort(), tfrm.Seq(), tfrm.Ack(), tfrm.WindowSize(), tfrm.Flags())
}
