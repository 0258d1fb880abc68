package ipv4

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/arp"
	"github.com/tinynet/stack/internal/netlog"
)

// fixedID is the IPv4 identification field value this engine always emits.
// The source implementation this stack is modeled on never fragments
// outbound datagrams, so a constant identification field is harmless.
const fixedID = 0x0400

// outTTL is the time-to-live value placed on every outbound datagram.
const outTTL = 128

// arpPollInterval is how often Send polls the ARP table while waiting for a
// query it just issued to resolve.
const arpPollInterval = 10 * time.Millisecond

var errOversizeSend = errors.New("ipv4: payload exceeds buffer capacity")

// broadcastIP is 255.255.255.255, which bypasses ARP entirely.
var broadcastIP = [4]byte{255, 255, 255, 255}

// FrameSink is the link-layer transmit primitive the engine sends completed
// datagrams through.
type FrameSink interface {
	SendFrame(dst [6]byte, ethertype stack.EtherType, payload []byte) error
}

// ProtocolHandler receives a fully-validated inbound datagram's payload.
type ProtocolHandler interface {
	HandleIPv4(srcIP, dstIP [4]byte, payload []byte) error
}

// Engine assembles, checksums, routes and dispatches IPv4 datagrams for a
// single local address on a single subnet. It owns no sockets itself;
// ICMP/UDP/TCP handlers are registered by protocol number and receive
// payloads once the datagram has passed checksum and fragmentation checks.
//
// txMu serializes Send against itself: every caller (ICMP replies, UDP and
// TCP output) shares the one txBuf, so a second
// Send must wait for the first to finish building and handing its frame to
// the device, including any ARP resolution that first Send blocks on. This
// keeps the single shared outbound buffer safe when ICMP, UDP and TCP send
// concurrently from separate goroutines.
type Engine struct {
	localIP [4]byte
	netmask [4]byte
	gateway [4]byte

	arpTable *arp.Table
	device   FrameSink

	handlers [3]protoHandlerEntry // ICMP, UDP, TCP: fixed, no map on the datapath.
	nHandler int

	txMu  sync.Mutex
	txBuf []byte
	log   *slog.Logger
}

type protoHandlerEntry struct {
	proto   stack.IPProto
	handler ProtocolHandler
}

// Config configures a new Engine.
type Config struct {
	LocalIP  [4]byte
	Netmask  [4]byte
	Gateway  [4]byte
	ARPTable *arp.Table
	Device   FrameSink
	// TxBufSize bounds the size of outbound datagrams this engine can build,
	// mirroring the fixed IP_TX_BUF_SIZE of the embedded source.
	TxBufSize int
	Log       *slog.Logger
}

// Reset (re)initializes the engine from cfg.
func (e *Engine) Reset(cfg Config) {
	size := cfg.TxBufSize
	if size <= 0 {
		size = 256
	}
	*e = Engine{
		localIP:  cfg.LocalIP,
		netmask:  cfg.Netmask,
		gateway:  cfg.Gateway,
		arpTable: cfg.ARPTable,
		device:   cfg.Device,
		txBuf:    make([]byte, size),
		log:      cfg.Log,
	}
}

// LocalAddr returns the engine's configured local IPv4 address.
func (e *Engine) LocalAddr() [4]byte { return e.localIP }

// RegisterHandler installs the handler invoked for inbound datagrams
// carrying proto. At most three protocols (ICMP, UDP, TCP) may be
// registered, matching the fixed protocol set this stack understands.
// Unlocked: handlers are wired up once during setup, before Receive's single
// frame-reader goroutine starts calling handlerFor.
func (e *Engine) RegisterHandler(proto stack.IPProto, h ProtocolHandler) error {
	for i := 0; i < e.nHandler; i++ {
		if e.handlers[i].proto == proto {
			e.handlers[i].handler = h
			return nil
		}
	}
	if e.nHandler == len(e.handlers) {
		return stack.ErrTableFull
	}
	e.handlers[e.nHandler] = protoHandlerEntry{proto: proto, handler: h}
	e.nHandler++
	return nil
}

func (e *Engine) handlerFor(proto stack.IPProto) ProtocolHandler {
	for i := 0; i < e.nHandler; i++ {
		if e.handlers[i].proto == proto {
			return e.handlers[i].handler
		}
	}
	return nil
}

// Receive validates and dispatches one inbound IPv4 datagram. srcMAC is the
// Ethernet source address the datagram arrived with, used to opportunistically
// learn the ARP mapping for the datagram's source address. Malformed,
// fragmented, or checksum-mismatched datagrams are logged and dropped
// without error; a non-nil error indicates the buffer could not even be
// parsed as an IPv4 frame, or is the error returned by the protocol handler
// the payload was dispatched to.
func (e *Engine) Receive(frame []byte, srcMAC [6]byte) error {
	ifrm, err := NewFrame(frame)
	if err != nil {
		return err
	}
	var v stack.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.HasError() {
		netlog.LogAttrs(e.log, slog.LevelDebug, "ipv4: drop malformed", slog.String("err", v.Err().Error()))
		return nil
	}
	flags := ifrm.Flags()
	if flags.MoreFragments() || flags.FragmentOffset() != 0 {
		netlog.LogAttrs(e.log, slog.LevelDebug, "ipv4: drop fragmented datagram")
		return nil
	}
	gotCRC := ifrm.CRC()
	wantCRC := ifrm.CalculateHeaderCRC()
	if gotCRC != wantCRC {
		netlog.LogAttrs(e.log, slog.LevelDebug, "ipv4: drop bad checksum",
			slog.Uint64("want", uint64(wantCRC)), slog.Uint64("got", uint64(gotCRC)))
		return nil
	}
	src := *ifrm.SourceAddr()
	dst := *ifrm.DestinationAddr()
	if e.arpTable != nil && src != ([4]byte{}) {
		e.arpTable.Learn(src, srcMAC)
	}
	if dst != e.localIP && dst != broadcastIP {
		return nil // not addressed to us.
	}
	handler := e.handlerFor(ifrm.Protocol())
	if handler == nil {
		netlog.LogAttrs(e.log, slog.LevelDebug, "ipv4: drop unhandled protocol", slog.String("proto", ifrm.Protocol().String()))
		return nil
	}
	return handler.HandleIPv4(src, dst, ifrm.Payload())
}

// Send builds and transmits one IPv4 datagram carrying proto/payload to
// dstIP. It performs the routing decision (direct vs. gateway), resolves
// the next-hop MAC via the ARP table -- blocking up to the table's resolve
// timeout if a query must be issued -- and silently drops the datagram if
// no route, no ARP slot, or no reply is available, mirroring the source
// behaviour of never surfacing a transport-layer send failure past "could
// not deliver".
func (e *Engine) Send(dstIP [4]byte, proto stack.IPProto, payload []byte) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	total := sizeHeader + len(payload)
	if total > len(e.txBuf) {
		return errOversizeSend
	}
	buf := e.txBuf[:total]
	ifrm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetTotalLength(uint16(total))
	ifrm.SetID(fixedID)
	ifrm.SetFlags(stack.IPv4DontFragment)
	ifrm.SetTTL(outTTL)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = e.localIP
	*ifrm.DestinationAddr() = dstIP
	copy(buf[sizeHeader:], payload)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	dstMAC, ok := e.resolveNextHop(dstIP)
	if !ok {
		netlog.LogAttrs(e.log, slog.LevelDebug, "ipv4: send dropped, no route", netlog.Addr4("dst", dstIP))
		return nil
	}
	return e.device.SendFrame(dstMAC, stack.EtherTypeIPv4, buf)
}

// resolveNextHop applies the routing decision: addresses within the local
// subnet are looked up directly, everything else routes via the gateway,
// and the broadcast address bypasses ARP altogether.
func (e *Engine) resolveNextHop(dstIP [4]byte) (mac [6]byte, ok bool) {
	if dstIP == broadcastIP {
		return stack.BroadcastMAC(), true
	}
	target := dstIP
	if !sameSubnet(dstIP, e.localIP, e.netmask) {
		target = e.gateway
	}
	if mac, ok := e.arpTable.Lookup(target); ok {
		return mac, true
	}
	return e.resolveBlocking(target)
}

func (e *Engine) resolveBlocking(target [4]byte) (mac [6]byte, ok bool) {
	idx := e.arpTable.StartQuery(target)
	if idx < 0 {
		return mac, false
	}
	var req [64]byte
	n, err := e.arpTable.BuildRequest(req[:], target)
	if err != nil {
		return mac, false
	}
	_ = e.device.SendFrame(stack.BroadcastMAC(), stack.EtherTypeARP, req[:n])

	budget := arp.ResolveTimeout()
	deadline := time.Now().Add(time.Duration(budget) * arpPollInterval)
	for time.Now().Before(deadline) {
		if e.arpTable.EntryState(idx) == arp.StateEnabled {
			return e.arpTable.Lookup(target)
		}
		time.Sleep(arpPollInterval)
	}
	netlog.LogAttrs(e.log, slog.LevelDebug, "ipv4: arp resolve timeout", netlog.Addr4("ip", target))
	return mac, false
}

func sameSubnet(a, b, mask [4]byte) bool {
	for i := range a {
		if a[i]&mask[i] != b[i]&mask[i] {
			return false
		}
	}
	return true
}
