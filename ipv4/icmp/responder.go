package icmp

import (
	"log/slog"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/internal/netlog"
)

// Sender transmits an IPv4 datagram carrying proto/payload to dstIP. It is
// satisfied by *ipv4.Engine.
type Sender interface {
	Send(dstIP [4]byte, proto stack.IPProto, payload []byte) error
}

// Responder answers ICMP echo requests in place: the received datagram
// buffer is reused as the reply buffer, with only the type and checksum
// fields rewritten before being handed back to the sender.
type Responder struct {
	sender Sender
	log    *slog.Logger
}

// Reset (re)initializes the responder to send replies through sender.
func (r *Responder) Reset(sender Sender, log *slog.Logger) {
	*r = Responder{sender: sender, log: log}
}

// HandleIPv4 implements ipv4.ProtocolHandler. Only echo requests are
// answered; every other ICMP type is silently dropped, matching the source
// behaviour of supporting ping and nothing else.
func (r *Responder) HandleIPv4(srcIP, dstIP [4]byte, payload []byte) error {
	frm, err := NewFrame(payload)
	if err != nil {
		netlog.LogAttrs(r.log, slog.LevelDebug, "icmp: drop short message")
		return nil
	}
	if frm.Type() != TypeEcho {
		netlog.LogAttrs(r.log, slog.LevelDebug, "icmp: drop unsupported type", slog.Int("type", int(frm.Type())))
		return nil
	}
	frm.SetType(TypeEchoReply)
	// The checksum field must read as zero before CalculateCRC sums the
	// message, mirroring the original echo handler's explicit zeroing step;
	// skipping it sums the stale request checksum into the reply's checksum.
	frm.SetCRC(0)
	frm.SetCRC(frm.CalculateCRC())
	return r.sender.Send(srcIP, stack.IPProtoICMP, frm.RawData())
}
