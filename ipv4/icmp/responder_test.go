package icmp

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

func TestResponderEchoReply(t *testing.T) {
	const (
		ident = 0x1234
		seq   = 1
	)
	echoPayload := bytes.Repeat([]byte{0xAB}, 32)

	buf := make([]byte, stack.SizeHeaderICMP+len(echoPayload))
	frm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	frm.SetType(TypeEcho)
	frm.SetCode(0)
	frm.SetIdentifier(ident)
	frm.SetSequenceNumber(seq)
	copy(frm.Data(), echoPayload)
	frm.SetCRC(0)
	frm.SetCRC(frm.CalculateCRC())

	var sender fakeSender
	var r Responder
	r.Reset(&sender, nil)

	srcIP := [4]byte{192, 168, 2, 50}
	dstIP := [4]byte{192, 168, 2, 156}
	if err := r.HandleIPv4(srcIP, dstIP, buf); err != nil {
		t.Fatal(err)
	}

	if sender.dstIP != srcIP {
		t.Fatalf("reply should go back to requester, got %v", sender.dstIP)
	}
	if sender.proto != stack.IPProtoICMP {
		t.Fatalf("got proto %v want ICMP", sender.proto)
	}
	replyFrm, err := NewFrame(sender.payload)
	if err != nil {
		t.Fatal(err)
	}
	if replyFrm.Type() != TypeEchoReply {
		t.Fatalf("got type %d want echo reply", replyFrm.Type())
	}
	if replyFrm.Identifier() != ident || replyFrm.SequenceNumber() != seq {
		t.Fatalf("got id=%x seq=%d want id=%x seq=%d", replyFrm.Identifier(), replyFrm.SequenceNumber(), ident, seq)
	}
	if !bytes.Equal(replyFrm.Data(), echoPayload) {
		t.Fatal("echo payload not preserved")
	}
	gotCRC := replyFrm.CRC()
	replyFrm.SetCRC(0)
	wantCRC := replyFrm.CalculateCRC()
	if gotCRC != wantCRC {
		t.Fatalf("got crc 0x%04x want 0x%04x", gotCRC, wantCRC)
	}
}

func TestResponderIgnoresNonEcho(t *testing.T) {
	buf := make([]byte, stack.SizeHeaderICMP)
	frm, _ := NewFrame(buf)
	frm.SetType(TypeEchoReply) // not a request, should be ignored.

	var sender fakeSender
	var r Responder
	r.Reset(&sender, nil)
	if err := r.HandleIPv4([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, buf); err != nil {
		t.Fatal(err)
	}
	if sender.payload != nil {
		t.Fatal("should not have sent a reply for a non-echo-request message")
	}
}
