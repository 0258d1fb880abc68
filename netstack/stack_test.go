package netstack

import (
	"bytes"
	"testing"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/ethernet"
	"github.com/tinynet/stack/tcp"
	"github.com/tinynet/stack/udp"
)

// loopbackDevice frames outbound payloads as Ethernet II and delivers them
// synchronously to a peer Stack's OnFrame, exercising two Stack instances
// exchanging frames over a wired fake link instead of a real NIC.
type loopbackDevice struct {
	localMAC [6]byte
	peer     *Stack
	sent     [][]byte
}

func (d *loopbackDevice) SendFrame(dst [6]byte, ethertype stack.EtherType, payload []byte) error {
	frame := make([]byte, 14+len(payload))
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	efrm.SetDestinationHardwareAddr(dst)
	efrm.SetSourceHardwareAddr(d.localMAC)
	efrm.SetEtherType(ethertype)
	copy(efrm.Payload(), payload)
	d.sent = append(d.sent, frame)
	if d.peer != nil {
		return d.peer.OnFrame(frame)
	}
	return nil
}

func newLinkedPair(t *testing.T, ipA, ipB [4]byte, macA, macB [6]byte) (a, b *Stack) {
	t.Helper()
	devA := &loopbackDevice{localMAC: macA}
	devB := &loopbackDevice{localMAC: macB}

	var err error
	a, err = New(Config{LocalIP: ipA, LocalMAC: macA, Netmask: [4]byte{255, 255, 255, 0}, Device: devA})
	if err != nil {
		t.Fatal(err)
	}
	b, err = New(Config{LocalIP: ipB, LocalMAC: macB, Netmask: [4]byte{255, 255, 255, 0}, Device: devB})
	if err != nil {
		t.Fatal(err)
	}
	devA.peer = b
	devB.peer = a
	return a, b
}

func TestAnnounceSendsGratuitousARP(t *testing.T) {
	dev := &loopbackDevice{localMAC: [6]byte{1, 2, 3, 4, 5, 6}}
	s, err := New(Config{LocalIP: [4]byte{192, 168, 2, 156}, LocalMAC: dev.localMAC, Device: dev})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Announce(); err != nil {
		t.Fatal(err)
	}
	if len(dev.sent) != 1 {
		t.Fatalf("got %d frames want 1", len(dev.sent))
	}
	efrm, err := ethernet.NewFrame(dev.sent[0])
	if err != nil {
		t.Fatal(err)
	}
	if efrm.EtherType() != stack.EtherTypeARP {
		t.Fatalf("got ethertype %v want ARP", efrm.EtherType())
	}
	if *efrm.DestinationHardwareAddr() != stack.BroadcastMAC() {
		t.Fatal("expected broadcast destination")
	}
}

func TestUDPEndToEndAcrossStacks(t *testing.T) {
	ipA := [4]byte{192, 168, 1, 10}
	ipB := [4]byte{192, 168, 1, 20}
	macA := [6]byte{0xAA, 0, 0, 0, 0, 1}
	macB := [6]byte{0xBB, 0, 0, 0, 0, 2}
	a, b := newLinkedPair(t, ipA, ipB, macA, macB)

	h := b.RegisterUDP(7, make([]byte, 64))

	msg := []byte("hello")
	if err := a.SendUDP(ipB, 9000, 7, msg); err != nil {
		t.Fatal(err)
	}

	sock := b.UDPSocket(h)
	if sock.State != udp.StateEstablished {
		t.Fatalf("got state %v want ESTABLISHED", sock.State)
	}
	if !bytes.Equal(b.ReceivedUDP(h), msg) {
		t.Fatalf("got payload %q want %q", b.ReceivedUDP(h), msg)
	}
}

func TestTCPHandshakeAcrossStacks(t *testing.T) {
	ipA := [4]byte{192, 168, 1, 10}
	ipB := [4]byte{192, 168, 1, 20}
	macA := [6]byte{0xAA, 0, 0, 0, 0, 1}
	macB := [6]byte{0xBB, 0, 0, 0, 0, 2}
	a, b := newLinkedPair(t, ipA, ipB, macA, macB)

	hB := b.ReserveTCP(80, make([]byte, 64), make([]byte, 64), make([]byte, 64))
	if err := b.ListenTCP(hB); err != nil {
		t.Fatal(err)
	}

	hA := a.ReserveTCP(9000, make([]byte, 64), make([]byte, 64), make([]byte, 64))
	if err := a.ConnectTCP(hA, ipB, 80, 0); err != nil {
		t.Fatal(err)
	}

	sockA := a.TCPSocket(hA)
	sockB := b.TCPSocket(hB)
	if sockA.State != tcp.StateEstablished || sockB.State != tcp.StateEstablished {
		t.Fatalf("got client/server state %v/%v want ESTABLISHED/ESTABLISHED", sockA.State, sockB.State)
	}

	payload := []byte("ping")
	for _, c := range payload {
		if !a.WriteByteTCP(hA, c) {
			t.Fatal("expected WriteByteTCP to succeed")
		}
	}
	a.Tick()

	for _, want := range payload {
		got, ok := b.ReadByteTCP(hB)
		if !ok {
			t.Fatal("expected byte, got eof")
		}
		if got != want {
			t.Fatalf("got byte %q want %q", got, want)
		}
	}
}
