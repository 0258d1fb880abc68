// Package netstack wires the frame dispatcher, ARP resolver, IPv4 engine,
// ICMP responder, UDP socket table and TCP connection engine into the
// single stack instance an integrator drives: construct a [Stack], feed it
// inbound frames through [Stack.OnFrame], call [Stack.Tick] at a fixed
// cadence, and use the ARP/UDP/TCP methods to serve applications. The core
// owns all of the stack's mutable state itself; nothing here reads the
// clock, touches a file, or parses a flag.
package netstack

import (
	"errors"
	"log/slog"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/arp"
	"github.com/tinynet/stack/ethernet"
	"github.com/tinynet/stack/internal/netlog"
	"github.com/tinynet/stack/ipv4"
	"github.com/tinynet/stack/ipv4/icmp"
	"github.com/tinynet/stack/tcp"
	"github.com/tinynet/stack/udp"
)

var errNotIPv4Capable = errors.New("netstack: Device required")

// Device is the link-layer driver boundary: transmit one frame addressed to
// dst, carrying ethertype as its EtherType and payload as its body. The
// stack never holds a receive buffer of its own; the driver delivers
// inbound frames synchronously through [Stack.OnFrame].
type Device interface {
	SendFrame(dst [6]byte, ethertype stack.EtherType, payload []byte) error
}

// Config configures a new Stack.
type Config struct {
	LocalIP  [4]byte
	LocalMAC [6]byte
	Netmask  [4]byte
	Gateway  [4]byte
	Device   Device

	// IPTxBufSize bounds outbound IPv4 datagrams (IP_TX_BUF_SIZE). Default 256.
	IPTxBufSize int
	// TCPTxBufSize bounds a single outbound TCP segment (TCP_TX_BUF_SIZE). Default 220.
	TCPTxBufSize int
	// UDPTxBufSize bounds a single outbound UDP datagram. Default 256.
	UDPTxBufSize int

	Log *slog.Logger
}

// Stack is the single owned-state instance of the embedded network core: it
// holds the ARP table, the IPv4 engine, the ICMP responder, and the UDP/TCP
// socket tables, and is the sole object the platform integrator's driver
// and timer callbacks touch.
type Stack struct {
	localMAC [6]byte
	device   Device

	arpTable arp.Table
	ip       ipv4.Engine
	icmp     icmp.Responder
	udpTable udp.Table
	tcpTable tcp.Table

	now stack.Tick
	log *slog.Logger

	arpScratch [64]byte
}

// New constructs and configures a Stack from cfg.
func New(cfg Config) (*Stack, error) {
	if cfg.Device == nil {
		return nil, errNotIPv4Capable
	}
	s := &Stack{localMAC: cfg.LocalMAC, device: cfg.Device, log: cfg.Log}
	s.arpTable.Reset(cfg.LocalIP, cfg.LocalMAC, cfg.Log)
	s.ip.Reset(ipv4.Config{
		LocalIP:   cfg.LocalIP,
		Netmask:   cfg.Netmask,
		Gateway:   cfg.Gateway,
		ARPTable:  &s.arpTable,
		Device:    cfg.Device,
		TxBufSize: cfg.IPTxBufSize,
		Log:       cfg.Log,
	})
	s.icmp.Reset(&s.ip, cfg.Log)
	s.udpTable.Reset(udp.Config{LocalIP: cfg.LocalIP, Sender: &s.ip, TxBufSize: cfg.UDPTxBufSize, Log: cfg.Log})
	s.tcpTable.Reset(tcp.Config{LocalIP: cfg.LocalIP, Sender: &s.ip, TxBufSize: cfg.TCPTxBufSize, Log: cfg.Log})

	if err := s.ip.RegisterHandler(stack.IPProtoICMP, &s.icmp); err != nil {
		return nil, err
	}
	if err := s.ip.RegisterHandler(stack.IPProtoUDP, &s.udpTable); err != nil {
		return nil, err
	}
	if err := s.ip.RegisterHandler(stack.IPProtoTCP, &s.tcpTable); err != nil {
		return nil, err
	}
	return s, nil
}

// Now returns the stack's monotonic tick counter.
func (s *Stack) Now() stack.Tick { return s.now }

// Tick advances the monotonic counter and runs the periodic maintenance
// that depends on it: ARP entry expiry and the TCP retransmit/timeout
// sustainer.
func (s *Stack) Tick() {
	s.now++
	s.arpTable.Tick()
	s.tcpTable.Tick()
}

// OnFrame classifies an inbound Ethernet frame by EtherType and hands the
// payload to the matching handler (ARP request/reply, or the IPv4 engine).
// Frames not addressed to the local MAC (and not broadcast) and frames of
// any other EtherType are dropped without error.
func (s *Stack) OnFrame(frame []byte) error {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	var v stack.Validator
	efrm.ValidateSize(&v)
	if v.HasError() {
		return nil
	}
	if !efrm.IsBroadcast() && *efrm.DestinationHardwareAddr() != s.localMAC {
		return nil
	}
	srcMAC := *efrm.SourceHardwareAddr()
	payload := efrm.Payload()

	switch efrm.EtherType() {
	case stack.EtherTypeARP:
		sendReply, err := s.arpTable.HandleFrame(payload)
		if err != nil {
			netlog.LogAttrs(s.log, slog.LevelDebug, "netstack: drop malformed arp frame")
			return nil
		}
		if sendReply {
			return s.device.SendFrame(srcMAC, stack.EtherTypeARP, payload)
		}
		return nil
	case stack.EtherTypeIPv4:
		return s.ip.Receive(payload, srcMAC)
	default:
		netlog.LogAttrs(s.log, slog.LevelDebug, "netstack: drop unknown ethertype", slog.Int("ethertype", int(efrm.EtherType())))
		return nil
	}
}

// Announce issues a gratuitous ARP for the stack's own address, refreshing
// any peer's cached mapping for it.
func (s *Stack) Announce() error {
	n, err := s.arpTable.BuildRequest(s.arpScratch[:], s.ip.LocalAddr())
	if err != nil {
		return err
	}
	return s.device.SendFrame(stack.BroadcastMAC(), stack.EtherTypeARP, s.arpScratch[:n])
}

// RegisterUDP allocates a UDP socket bound to localPort.
func (s *Stack) RegisterUDP(localPort uint16, recvBuf []byte) udp.Handle {
	return s.udpTable.Register(localPort, recvBuf)
}

// ReregisterUDP returns an ESTABLISHED UDP socket to WAITING.
func (s *Stack) ReregisterUDP(h udp.Handle) { s.udpTable.Reregister(h) }

// DisconnectUDP releases a UDP socket.
func (s *Stack) DisconnectUDP(h udp.Handle) { s.udpTable.Disconnect(h) }

// UDPSocket returns a copy of the socket record for inspection.
func (s *Stack) UDPSocket(h udp.Handle) udp.Socket { return s.udpTable.Socket(h) }

// ReceivedUDP returns the payload most recently delivered to h.
func (s *Stack) ReceivedUDP(h udp.Handle) []byte { return s.udpTable.Received(h) }

// SendUDP builds and transmits one UDP datagram.
func (s *Stack) SendUDP(dstIP [4]byte, localPort, dstPort uint16, msg []byte) error {
	return s.udpTable.Send(dstIP, localPort, dstPort, msg)
}

// ReserveTCP allocates a TCP socket bound to localPort, backed by the given
// receive, send and retransmit-holding buffers.
func (s *Stack) ReserveTCP(localPort uint16, recvBuf, sendBuf, retxBuf []byte) tcp.Handle {
	return s.tcpTable.Reserve(localPort, recvBuf, sendBuf, retxBuf)
}

// ListenTCP transitions a reserved socket to LISTEN.
func (s *Stack) ListenTCP(h tcp.Handle) error { return s.tcpTable.Listen(h) }

// ConnectTCP actively opens a connection, emitting the initial SYN.
func (s *Stack) ConnectTCP(h tcp.Handle, remoteIP [4]byte, remotePort uint16, iss tcp.Value) error {
	return s.tcpTable.Connect(h, remoteIP, remotePort, iss)
}

// DisconnectTCP actively closes an ESTABLISHED socket.
func (s *Stack) DisconnectTCP(h tcp.Handle) error { return s.tcpTable.Disconnect(h) }

// FlushTCP waits for the send FIFO and the last retransmit window to drain.
func (s *Stack) FlushTCP(h tcp.Handle) error { return s.tcpTable.Flush(h) }

// SetTimeoutTCP sets the per-socket receive timeout used by ReadByteTCP.
func (s *Stack) SetTimeoutTCP(h tcp.Handle, ticks stack.Tick) { s.tcpTable.SetTimeout(h, ticks) }

// ReadByteTCP blocks for the next byte of h's receive stream.
func (s *Stack) ReadByteTCP(h tcp.Handle) (b byte, ok bool) { return s.tcpTable.ReadByte(h) }

// WriteByteTCP enqueues one byte on h's send stream.
func (s *Stack) WriteByteTCP(h tcp.Handle, c byte) bool { return s.tcpTable.WriteByte(h, c) }

// TCPSocket returns a copy of the socket record for inspection.
func (s *Stack) TCPSocket(h tcp.Handle) tcp.Socket { return s.tcpTable.Socket(h) }
