// Package icmp implements a zero-copy view over an ICMP header (RFC 792)
// and the echo responder that answers ping requests in place.
package icmp

import (
	"encoding/binary"
	"errors"

	"github.com/tinynet/stack"
)

// Type is the ICMP message type field.
type Type uint8

const (
	TypeEchoReply Type = 0
	TypeEcho      Type = 8
)

var errShort = errors.New("icmp: short frame")

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is shorter than the 8-byte ICMP header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < stack.SizeHeaderICMP {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ICMP message and provides accessors
// for its fields. This stack only implements the echo request/reply pair.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

// Type returns the ICMP message type field.
func (frm Frame) Type() Type { return Type(frm.buf[0]) }

// SetType sets the ICMP message type field.
func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

// Code returns the ICMP code field.
func (frm Frame) Code() uint8 { return frm.buf[1] }

// SetCode sets the ICMP code field.
func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field.
func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }

// SetCRC sets the checksum field.
func (frm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(frm.buf[2:4], crc) }

// CalculateCRC computes the ICMP checksum over the full message (header plus
// payload), including the checksum field as it currently reads. Callers
// must zero the checksum field with SetCRC(0) before calling this if buf
// still carries a stale value, since the checksum field is not skipped but
// must already read as zero for the sum to be correct.
func (frm Frame) CalculateCRC() uint16 {
	var crc stack.Checksum
	crc.Write(frm.buf)
	return crc.Sum16()
}

// Identifier returns the echo identifier field.
func (frm Frame) Identifier() uint16 { return binary.BigEndian.Uint16(frm.buf[4:6]) }

// SetIdentifier sets the echo identifier field.
func (frm Frame) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(frm.buf[4:6], id) }

// SequenceNumber returns the echo sequence number field.
func (frm Frame) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.buf[6:8]) }

// SetSequenceNumber sets the echo sequence number field.
func (frm Frame) SetSequenceNumber(seq uint16) { binary.BigEndian.PutUint16(frm.buf[6:8], seq) }

// Data returns the echo payload, which the reply echoes back unmodified.
func (frm Frame) Data() []byte { return frm.buf[8:] }
