package udp

import (
	"bytes"
	"testing"

	"github.com/tinynet/stack"
)

type fakeSender struct {
	dstIP   [4]byte
	proto   stack.IPProto
	payload []byte
}

func (f *fakeSender) Send(dstIP [4]byte, proto stack.IPProto, payload []byte) error {
	f.dstIP = dstIP
	f.proto = proto
	f.payload = append([]byte(nil), payload...)
	return nil
}

func buildDatagram(srcPort, dstPort uint16, payload []byte) []byte {
	buf := make([]byte, sizeHeader+len(payload))
	frm, _ := NewFrame(buf)
	frm.SetSourcePort(srcPort)
	frm.SetDestinationPort(dstPort)
	frm.SetLength(uint16(len(buf)))
	copy(frm.Payload(), payload)
	return buf
}

func TestTableRegisterAndHandle(t *testing.T) {
	var tbl Table
	tbl.Reset(Config{LocalIP: [4]byte{192, 168, 2, 156}})

	recvBuf := make([]byte, 64)
	h := tbl.Register(7, recvBuf)
	if h == invalidHandle {
		t.Fatal("expected valid handle")
	}
	if tbl.Socket(h).State != StateWaiting {
		t.Fatalf("got state %v want WAITING", tbl.Socket(h).State)
	}

	srcIP := [4]byte{192, 168, 2, 50}
	msg := []byte("hello")
	datagram := buildDatagram(9000, 7, msg)
	if err := tbl.HandleIPv4(srcIP, tbl.localIP, datagram); err != nil {
		t.Fatal(err)
	}

	sock := tbl.Socket(h)
	if sock.State != StateEstablished {
		t.Fatalf("got state %v want ESTABLISHED", sock.State)
	}
	if sock.SourceIP != srcIP {
		t.Fatalf("got source ip %v want %v", sock.SourceIP, srcIP)
	}
	if !bytes.Equal(tbl.Received(h), msg) {
		t.Fatalf("got payload %q want %q", tbl.Received(h), msg)
	}
}

func TestTableHandleNoMatch(t *testing.T) {
	var tbl Table
	tbl.Reset(Config{})
	h := tbl.Register(7, make([]byte, 64))

	datagram := buildDatagram(9000, 8, []byte("x"))
	if err := tbl.HandleIPv4([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, datagram); err != nil {
		t.Fatal(err)
	}
	if tbl.Socket(h).State != StateWaiting {
		t.Fatal("socket should remain WAITING when no datagram matches its port")
	}
}

func TestTableReregister(t *testing.T) {
	var tbl Table
	tbl.Reset(Config{})
	h := tbl.Register(7, make([]byte, 64))
	tbl.HandleIPv4([4]byte{1, 2, 3, 4}, [4]byte{}, buildDatagram(1, 7, []byte("a")))
	if tbl.Socket(h).State != StateEstablished {
		t.Fatal("expected ESTABLISHED after handle")
	}
	tbl.Reregister(h)
	if tbl.Socket(h).State != StateWaiting {
		t.Fatal("expected WAITING after reregister")
	}
}

func TestTableDisconnect(t *testing.T) {
	var tbl Table
	tbl.Reset(Config{})
	h := tbl.Register(7, make([]byte, 64))
	tbl.Disconnect(h)
	if tbl.Socket(h).State != StateUnused {
		t.Fatal("expected UNUSED after disconnect")
	}
}

func TestTableSendChecksum(t *testing.T) {
	var sender fakeSender
	var tbl Table
	tbl.Reset(Config{LocalIP: [4]byte{192, 168, 2, 156}, Sender: &sender})

	dstIP := [4]byte{192, 168, 2, 50}
	msg := []byte("ping")
	if err := tbl.Send(dstIP, 1234, 7, msg); err != nil {
		t.Fatal(err)
	}
	if sender.proto != stack.IPProtoUDP {
		t.Fatalf("got proto %v want UDP", sender.proto)
	}
	sentFrm, err := NewFrame(sender.payload)
	if err != nil {
		t.Fatal(err)
	}
	if sentFrm.SourcePort() != 1234 || sentFrm.DestinationPort() != 7 {
		t.Fatalf("got ports %d/%d want 1234/7", sentFrm.SourcePort(), sentFrm.DestinationPort())
	}
	if !bytes.Equal(sentFrm.Payload(), msg) {
		t.Fatalf("got payload %q want %q", sentFrm.Payload(), msg)
	}

	var crc stack.Checksum
	crc.Write(tbl.localIP[:])
	crc.Write(dstIP[:])
	crc.AddUint16(uint16(stack.IPProtoUDP))
	sentFrm.CRCWrite(&crc)
	if got := crc.Sum16(); got != 0 {
		t.Fatalf("checksum did not validate, residual 0x%04x", got)
	}
}
