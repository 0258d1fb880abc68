package tcp

import (
	"bytes"
	"testing"

	"github.com/tinynet/stack"
)

type mockSender struct {
	calls []sentSegment
}

type sentSegment struct {
	dstIP   [4]byte
	proto   stack.IPProto
	payload []byte
}

func (m *mockSender) Send(dstIP [4]byte, proto stack.IPProto, payload []byte) error {
	m.calls = append(m.calls, sentSegment{dstIP: dstIP, proto: proto, payload: append([]byte(nil), payload...)})
	return nil
}

func (m *mockSender) last() sentSegment {
	if len(m.calls) == 0 {
		return sentSegment{}
	}
	return m.calls[len(m.calls)-1]
}

func buildSegment(srcPort, dstPort uint16, seq, ack Value, flags Flags, payload []byte) []byte {
	buf := make([]byte, sizeHeader+len(payload))
	frm, _ := NewFrame(buf)
	frm.SetSourcePort(srcPort)
	frm.SetDestinationPort(dstPort)
	frm.SetSeq(seq)
	frm.SetAck(ack)
	frm.SetOffsetAndFlags(fixedOffset, flags)
	copy(frm.Payload(), payload)
	return buf
}

func newTestTable(sender Sender) *Table {
	var tbl Table
	tbl.Reset(Config{LocalIP: [4]byte{10, 0, 0, 1}, Sender: sender, TxBufSize: 64})
	return &tbl
}

func TestReserveListenHandshake(t *testing.T) {
	var sender mockSender
	tbl := newTestTable(&sender)

	h := tbl.Reserve(80, make([]byte, 32), make([]byte, 32), make([]byte, 32))
	if h == invalidHandle {
		t.Fatal("expected valid handle")
	}
	if err := tbl.Listen(h); err != nil {
		t.Fatal(err)
	}
	if tbl.Socket(h).State != StateListen {
		t.Fatalf("got state %v want LISTEN", tbl.Socket(h).State)
	}

	peerIP := [4]byte{10, 0, 0, 2}
	syn := buildSegment(9000, 80, Value(0), Value(0), FlagSYN, nil)
	if err := tbl.HandleIPv4(peerIP, tbl.localIP, syn); err != nil {
		t.Fatal(err)
	}
	if tbl.Socket(h).State != StateEstablished {
		t.Fatalf("got state %v want ESTABLISHED after SYN", tbl.Socket(h).State)
	}

	synAck := sender.last()
	synAckFrm, err := NewFrame(synAck.payload)
	if err != nil {
		t.Fatal(err)
	}
	if !synAckFrm.Flags().HasAll(FlagSYN | FlagACK) {
		t.Fatalf("got flags %v want SYN|ACK", synAckFrm.Flags())
	}
	if synAckFrm.Ack() != Value(1) {
		t.Fatalf("got ack %d want 1", synAckFrm.Ack())
	}

	ack := buildSegment(9000, 80, Value(1), synAckFrm.Seq().Add(1), FlagACK, nil)
	if err := tbl.HandleIPv4(peerIP, tbl.localIP, ack); err != nil {
		t.Fatal(err)
	}
	if tbl.Socket(h).State != StateEstablished {
		t.Fatalf("got state %v want ESTABLISHED after final ACK", tbl.Socket(h).State)
	}
}

func TestEstablishedDataEcho(t *testing.T) {
	var sender mockSender
	tbl := newTestTable(&sender)

	h := tbl.Reserve(80, make([]byte, 32), make([]byte, 32), make([]byte, 32))
	tbl.Listen(h)

	peerIP := [4]byte{10, 0, 0, 2}
	syn := buildSegment(9000, 80, Value(100), Value(0), FlagSYN, nil)
	if err := tbl.HandleIPv4(peerIP, tbl.localIP, syn); err != nil {
		t.Fatal(err)
	}
	iss := sender.last()
	issFrm, _ := NewFrame(iss.payload)
	peerSeq := Value(101)

	msg := []byte("hello")
	seg := buildSegment(9000, 80, peerSeq, issFrm.Seq().Add(1), FlagACK|FlagPSH, msg)
	if err := tbl.HandleIPv4(peerIP, tbl.localIP, seg); err != nil {
		t.Fatal(err)
	}

	ackSeg := sender.last()
	ackFrm, err := NewFrame(ackSeg.payload)
	if err != nil {
		t.Fatal(err)
	}
	if !ackFrm.Flags().HasAll(FlagACK) {
		t.Fatalf("got flags %v want ACK", ackFrm.Flags())
	}
	if want := peerSeq.Add(uint32(len(msg))); ackFrm.Ack() != want {
		t.Fatalf("got ack %d want %d", ackFrm.Ack(), want)
	}

	for _, want := range msg {
		got, ok := tbl.ReadByte(h)
		if !ok {
			t.Fatal("expected byte, got eof")
		}
		if got != want {
			t.Fatalf("got byte %q want %q", got, want)
		}
	}
}

func TestRetransmitToUnknown(t *testing.T) {
	var sender mockSender
	tbl := newTestTable(&sender)

	h := tbl.Reserve(80, make([]byte, 32), make([]byte, 32), make([]byte, 32))
	tbl.Listen(h)

	peerIP := [4]byte{10, 0, 0, 2}
	syn := buildSegment(9000, 80, Value(0), Value(0), FlagSYN, nil)
	if err := tbl.HandleIPv4(peerIP, tbl.localIP, syn); err != nil {
		t.Fatal(err)
	}

	payload := []byte("0123456789")
	for _, c := range payload {
		if !tbl.WriteByte(h, c) {
			t.Fatal("expected WriteByte to succeed while ESTABLISHED")
		}
	}

	tbl.Tick() // drains send FIFO into the first transmission.
	first := sender.last()
	firstFrm, err := NewFrame(first.payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstFrm.Payload(), payload) {
		t.Fatalf("got payload %q want %q", firstFrm.Payload(), payload)
	}
	firstSeq := firstFrm.Seq()

	// Withhold the peer's ACK past TCP_RETRY_INTERVAL: first retransmission.
	for i := stack.Tick(0); i <= retryInterval; i++ {
		tbl.Tick()
	}
	second := sender.last()
	secondFrm, err := NewFrame(second.payload)
	if err != nil {
		t.Fatal(err)
	}
	if secondFrm.Seq() != firstSeq {
		t.Fatalf("got retransmit seq %d want %d", secondFrm.Seq(), firstSeq)
	}
	if !bytes.Equal(secondFrm.Payload(), payload) {
		t.Fatalf("got retransmit payload %q want %q", secondFrm.Payload(), payload)
	}

	// Second retransmission.
	for i := stack.Tick(0); i <= retryInterval; i++ {
		tbl.Tick()
	}
	third := sender.last()
	thirdFrm, err := NewFrame(third.payload)
	if err != nil {
		t.Fatal(err)
	}
	if thirdFrm.Seq() != firstSeq {
		t.Fatalf("got second retransmit seq %d want %d", thirdFrm.Seq(), firstSeq)
	}
	if !bytes.Equal(thirdFrm.Payload(), payload) {
		t.Fatalf("got second retransmit payload %q want %q", thirdFrm.Payload(), payload)
	}

	// Retries now exhausted: one more retry interval forces UNKNOWN.
	for i := stack.Tick(0); i <= retryInterval; i++ {
		tbl.Tick()
	}
	if tbl.Socket(h).State != StateUnknown {
		t.Fatalf("got state %v want UNKNOWN after retry exhaustion", tbl.Socket(h).State)
	}
	if tbl.WriteByte(h, 'x') {
		t.Fatal("expected WriteByte to fail once socket is UNKNOWN")
	}
}
