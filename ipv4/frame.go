// Package ipv4 implements a zero-copy view over an IPv4 header (RFC 791,
// header only, no options) and the engine that assembles, validates,
// checksums and routes datagrams for the rest of the stack.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/tinynet/stack"
)

var (
	errBadTL      = errors.New("ipv4: bad total length")
	errShort      = errors.New("ipv4: short data")
	errBadIHL     = errors.New("ipv4: bad IHL")
	errBadVersion = errors.New("ipv4: bad version")
)

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is shorter than the fixed 20-byte IPv4 header. Callers should still call
// [Frame.ValidateSize] before trusting TotalLength-derived slices.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet and provides accessors
// for its fields and payload. This stack never emits IP options and always
// sets IHL to 5; HeaderLength reports the IHL found in the buffer, while
// CalculateHeaderCRC covers only the fixed 20-byte header.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns the IPv4 header length in bytes, as declared by IHL.
func (ifrm Frame) HeaderLength() int { return int(ifrm.ihl()) * 4 }

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// VersionAndIHL returns the version and IHL fields.
func (ifrm Frame) VersionAndIHL() (version, ihl uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version and IHL fields. This stack always sets
// IHL to 5 (no options).
func (ifrm Frame) SetVersionAndIHL(version, ihl uint8) { ifrm.buf[0] = version<<4 | ihl&0xf }

// ToS returns the Type of Service field.
func (ifrm Frame) ToS() ToS { return ToS(ifrm.buf[1]) }

// SetToS sets the Type of Service field.
func (ifrm Frame) SetToS(tos ToS) { ifrm.buf[1] = byte(tos) }

// TotalLength returns the entire datagram size in bytes, header included.
func (ifrm Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(ifrm.buf[2:4]) }

// SetTotalLength sets the TotalLength field.
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID returns the datagram identification field.
func (ifrm Frame) ID() uint16 { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }

// SetID sets the identification field.
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// Flags returns the combined flags/fragment-offset field.
func (ifrm Frame) Flags() stack.IPv4Flags {
	return stack.IPv4Flags(binary.BigEndian.Uint16(ifrm.buf[6:8]))
}

// SetFlags sets the combined flags/fragment-offset field.
func (ifrm Frame) SetFlags(flags stack.IPv4Flags) {
	binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags))
}

// TTL returns the time-to-live field.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the time-to-live field.
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol returns the encapsulated protocol field.
func (ifrm Frame) Protocol() stack.IPProto { return stack.IPProto(ifrm.buf[9]) }

// SetProtocol sets the encapsulated protocol field.
func (ifrm Frame) SetProtocol(proto stack.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the header checksum field.
func (ifrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(ifrm.buf[10:12]) }

// SetCRC sets the header checksum field.
func (ifrm Frame) SetCRC(cs uint16) { binary.BigEndian.PutUint16(ifrm.buf[10:12], cs) }

// CalculateHeaderCRC computes the IPv4 header checksum over the current
// header contents, treating the checksum field itself as zero.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc stack.Checksum
	crc.Write(ifrm.buf[0:10])
	crc.Write(ifrm.buf[12:20])
	return crc.Sum16()
}

// SourceAddr returns the source IPv4 address.
func (ifrm Frame) SourceAddr() *[4]byte { return (*[4]byte)(ifrm.buf[12:16]) }

// DestinationAddr returns the destination IPv4 address.
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.buf[16:20]) }

// Payload returns the datagram payload, bounded by TotalLength.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	return ifrm.buf[off:ifrm.TotalLength()]
}

// ClearHeader zeros out the fixed header contents.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:sizeHeader] {
		ifrm.buf[i] = 0
	}
}

// ValidateSize checks the frame's declared length fields against the actual
// buffer and records any inconsistency in v.
func (ifrm Frame) ValidateSize(v *stack.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < sizeHeader {
		v.AddError(errBadTL)
	}
	if int(tl) > len(ifrm.buf) {
		v.AddError(errShort)
	}
	if ihl < 5 {
		v.AddError(errBadIHL)
	}
}

// ValidateExceptCRC performs ValidateSize plus the version field check,
// deferring the checksum comparison to the caller (who already has the
// CalculateHeaderCRC/CRC values at hand).
func (ifrm Frame) ValidateExceptCRC(v *stack.Validator) {
	ifrm.ValidateSize(v)
	if ifrm.version() != 4 {
		v.AddError(errBadVersion)
	}
}

func (ifrm Frame) String() string {
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	tl := int(ifrm.TotalLength()) - ifrm.HeaderLength()
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d TTL=%d ID=%d ToS=0x%x",
		ifrm.Protocol(), src, dst, tl, ifrm.TTL(), ifrm.ID(), ifrm.ToS())
}
