package ipv4

import (
	"testing"

	"github.com/tinynet/stack"
)

func TestCalculateHeaderCRC(t *testing.T) {
	buf := []byte{
		0x45, 0x00, 0x00, 0x73, 0x00, 0x00, 0x40, 0x00, 0x40, 0x11,
		0x00, 0x00, 0xC0, 0xA8, 0x00, 0x01, 0xC0, 0xA8, 0x00, 0xC7,
	}
	ifrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	got := ifrm.CalculateHeaderCRC()
	const want = 0xB861
	if got != want {
		t.Fatalf("got checksum 0x%04x want 0x%04x", got, want)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	buf := []byte{
		0x45, 0x00, 0x00, 0x73, 0x00, 0x00, 0x40, 0x00, 0x40, 0x11,
		0x00, 0x00, 0xC0, 0xA8, 0x00, 0x01, 0xC0, 0xA8, 0x00, 0xC7,
	}
	ifrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	c := ifrm.CalculateHeaderCRC()
	ifrm.SetCRC(c)
	// CalculateHeaderCRC skips the checksum field, so the round trip sums the
	// whole header, checksum field included.
	var crc stack.Checksum
	crc.Write(buf[:sizeHeader])
	if got := crc.Sum16(); got != 0 {
		t.Fatalf("recomputing checksum after writing it back should yield 0, got 0x%04x", got)
	}
}

func TestFrameFieldRoundTrip(t *testing.T) {
	buf := make([]byte, sizeHeader+4)
	ifrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	if v, ihl := ifrm.VersionAndIHL(); v != 4 || ihl != 5 {
		t.Fatalf("got version=%d ihl=%d", v, ihl)
	}
	ifrm.SetTotalLength(24)
	if ifrm.TotalLength() != 24 {
		t.Fatal("total length mismatch")
	}
	src := [4]byte{192, 168, 1, 1}
	dst := [4]byte{192, 168, 1, 2}
	*ifrm.SourceAddr() = src
	*ifrm.DestinationAddr() = dst
	if *ifrm.SourceAddr() != src || *ifrm.DestinationAddr() != dst {
		t.Fatal("address round trip failed")
	}
}
