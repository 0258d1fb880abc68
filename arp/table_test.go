package arp

import (
	"net"
	"testing"

	"github.com/tinynet/stack"
)

func mustMAC(s string) [6]byte {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	var b [6]byte
	copy(b[:], hw)
	return b
}

func TestTableRequestReply(t *testing.T) {
	localIP := [4]byte{192, 168, 2, 156}
	localMAC := mustMAC("4E:45:58:54:4F:4E")
	remoteIP := [4]byte{192, 168, 2, 1}
	remoteMAC := mustMAC("AA:BB:CC:DD:EE:FF")

	var tbl Table
	tbl.Reset(localIP, localMAC, nil)

	buf := make([]byte, sizeHeaderv4)
	afrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(stack.EtherTypeIPv4, 4)
	afrm.SetOperation(stack.ARPRequest)
	senderMAC, senderIP := afrm.Sender4()
	*senderMAC, *senderIP = remoteMAC, remoteIP
	targetMAC, targetIP := afrm.Target4()
	*targetMAC, *targetIP = [6]byte{}, localIP

	sendReply, err := tbl.HandleFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !sendReply {
		t.Fatal("expected reply to be generated")
	}
	if afrm.Operation() != stack.ARPReply {
		t.Errorf("got op %d want reply", afrm.Operation())
	}
	gotSenderMAC, gotSenderIP := afrm.Sender4()
	if *gotSenderMAC != localMAC || *gotSenderIP != localIP {
		t.Errorf("reply sender fields wrong: mac=%x ip=%v", *gotSenderMAC, *gotSenderIP)
	}
	gotTargetMAC, gotTargetIP := afrm.Target4()
	if *gotTargetMAC != remoteMAC || *gotTargetIP != remoteIP {
		t.Errorf("reply target fields wrong: mac=%x ip=%v", *gotTargetMAC, *gotTargetIP)
	}

	mac, ok := tbl.Lookup(remoteIP)
	if !ok || mac != remoteMAC {
		t.Errorf("expected request sender to be learned, got %x ok=%v", mac, ok)
	}
}

func TestTableQueryLifecycle(t *testing.T) {
	var tbl Table
	tbl.Reset([4]byte{10, 0, 0, 1}, [6]byte{1, 2, 3, 4, 5, 6}, nil)

	target := [4]byte{10, 0, 0, 2}
	idx := tbl.StartQuery(target)
	if idx < 0 {
		t.Fatal("expected free slot")
	}
	if tbl.EntryState(idx) != StateWaiting {
		t.Fatalf("got state %v want WAITING", tbl.EntryState(idx))
	}
	if _, ok := tbl.Lookup(target); ok {
		t.Fatal("WAITING entry should not resolve")
	}

	remoteMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if !tbl.HandleReply(target, remoteMAC) {
		t.Fatal("expected reply to complete query")
	}
	if tbl.EntryState(idx) != StateEnabled {
		t.Fatalf("got state %v want ENABLED", tbl.EntryState(idx))
	}
	mac, ok := tbl.Lookup(target)
	if !ok || mac != remoteMAC {
		t.Fatalf("got %x,%v want %x,true", mac, ok, remoteMAC)
	}
}

func TestTableTickExpiry(t *testing.T) {
	var tbl Table
	tbl.Reset([4]byte{10, 0, 0, 1}, [6]byte{1, 2, 3, 4, 5, 6}, nil)
	ip := [4]byte{10, 0, 0, 9}
	tbl.Learn(ip, [6]byte{9, 9, 9, 9, 9, 9})

	for i := 0; i < int(entryLifetime)-1; i++ {
		tbl.Tick()
		if _, ok := tbl.Lookup(ip); !ok {
			t.Fatalf("entry expired early at tick %d", i)
		}
	}
	tbl.Tick()
	if _, ok := tbl.Lookup(ip); ok {
		t.Fatal("entry should have expired after its lifetime elapsed")
	}
}

func TestTableFirstFitNoEviction(t *testing.T) {
	var tbl Table
	tbl.Reset([4]byte{10, 0, 0, 1}, [6]byte{1, 2, 3, 4, 5, 6}, nil)
	for i := 0; i < 16; i++ {
		tbl.Learn([4]byte{10, 0, 0, byte(i)}, [6]byte{byte(i), 0, 0, 0, 0, 0})
	}
	// Table is full: one more learn for a brand new IP must be dropped, not evict an existing entry.
	tbl.Learn([4]byte{10, 0, 1, 1}, [6]byte{0xff})
	if _, ok := tbl.Lookup([4]byte{10, 0, 1, 1}); ok {
		t.Fatal("full table should not have accepted a new entry")
	}
	if _, ok := tbl.Lookup([4]byte{10, 0, 0, 0}); !ok {
		t.Fatal("existing entry should not have been evicted")
	}
}
