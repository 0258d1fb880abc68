package udp

import (
	"log/slog"
	"sync"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/internal/netlog"
)

// SocketState is the lifecycle state of a [Socket].
type SocketState uint8

const (
	StateUnused SocketState = iota
	StateWaiting
	StateEstablished
)

func (s SocketState) String() string {
	switch s {
	case StateUnused:
		return "UNUSED"
	case StateWaiting:
		return "WAITING"
	case StateEstablished:
		return "ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// Socket is a single fixed-size UDP endpoint slot.
type Socket struct {
	State     SocketState
	LocalPort uint16
	SourceIP  [4]byte
	buf       []byte
	length    int
}

// Handle identifies a socket slot returned by [Table.Register]. Register
// returns -1 when no slot is free; that value is never a valid handle.
type Handle int

const invalidHandle Handle = -1

// Sender transmits an IPv4 datagram; satisfied by *ipv4.Engine.
type Sender interface {
	Send(dstIP [4]byte, proto stack.IPProto, payload []byte) error
}

// Table is the fixed-size UDP socket table: N sockets, allocated first-fit,
// with no queueing beyond the single receive buffer per socket. mu serializes
// the receive path (HandleIPv4, called from the frame/tick context) against
// the application-context calls (Register, Send, etc.); none of these block,
// so every exported method holds mu for its whole body.
type Table struct {
	mu sync.Mutex

	sockets [16]Socket
	localIP [4]byte
	sender  Sender
	txBuf   []byte
	log     *slog.Logger
}

// Config configures a new Table.
type Config struct {
	LocalIP   [4]byte
	Sender    Sender
	TxBufSize int
	Log       *slog.Logger
}

// Reset (re)initializes the table from cfg.
func (t *Table) Reset(cfg Config) {
	size := cfg.TxBufSize
	if size <= 0 {
		size = 256
	}
	*t = Table{localIP: cfg.LocalIP, sender: cfg.Sender, txBuf: make([]byte, size), log: cfg.Log}
}

// Register allocates a WAITING slot bound to localPort, receiving into buf.
// Returns an invalid handle if no slot is free.
func (t *Table) Register(localPort uint16, buf []byte) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sockets {
		if t.sockets[i].State == StateUnused {
			t.sockets[i] = Socket{State: StateWaiting, LocalPort: localPort, buf: buf}
			return Handle(i)
		}
	}
	return invalidHandle
}

// Reregister returns an ESTABLISHED socket to WAITING so the next datagram
// overwrites its buffer.
func (t *Table) Reregister(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.socket(h); s != nil && s.State == StateEstablished {
		s.State = StateWaiting
		s.length = 0
	}
}

// Disconnect releases a socket slot back to UNUSED.
func (t *Table) Disconnect(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.socket(h); s != nil {
		*s = Socket{}
	}
}

// Socket returns a copy of the socket record at h, or the zero Socket if h
// is out of range. Application code uses this to read State/SourceIP/
// received length; Received returns the actual payload bytes.
func (t *Table) Socket(h Handle) Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.socket(h); s != nil {
		return *s
	}
	return Socket{}
}

// Received returns the payload bytes last written into h's buffer. Valid
// only while the socket is ESTABLISHED.
func (t *Table) Received(h Handle) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.socket(h)
	if s == nil || s.State != StateEstablished {
		return nil
	}
	return s.buf[:s.length]
}

func (t *Table) socket(h Handle) *Socket {
	if h < 0 || int(h) >= len(t.sockets) {
		return nil
	}
	return &t.sockets[h]
}

// HandleIPv4 implements ipv4.ProtocolHandler. It scans for the first WAITING
// socket whose local port matches the destination port and whose buffer
// accommodates the payload, copies the payload in, and transitions the
// socket to ESTABLISHED. Datagrams matching no such socket are dropped.
func (t *Table) HandleIPv4(srcIP, dstIP [4]byte, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ufrm, err := NewFrame(payload)
	if err != nil {
		return err
	}
	var v stack.Validator
	ufrm.ValidateSize(&v)
	if v.HasError() {
		netlog.LogAttrs(t.log, slog.LevelDebug, "udp: drop malformed datagram")
		return nil
	}
	dstPort := ufrm.DestinationPort()
	data := ufrm.Payload()
	for i := range t.sockets {
		s := &t.sockets[i]
		if s.State == StateWaiting && s.LocalPort == dstPort && len(data) <= len(s.buf) {
			n := copy(s.buf, data)
			s.SourceIP = srcIP
			s.length = n
			s.State = StateEstablished
			return nil
		}
	}
	netlog.LogAttrs(t.log, slog.LevelDebug, "udp: drop, no matching waiting socket", slog.Int("port", int(dstPort)))
	return nil
}

// Send builds and transmits a UDP datagram from localPort to dstIP:dstPort
// carrying msg, including the mandatory outbound checksum over the IPv4
// pseudo-header and the datagram.
func (t *Table) Send(dstIP [4]byte, localPort, dstPort uint16, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := sizeHeader + len(msg)
	if total > len(t.txBuf) {
		return errShort
	}
	buf := t.txBuf[:total]
	ufrm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	ufrm.ClearHeader()
	ufrm.SetSourcePort(localPort)
	ufrm.SetDestinationPort(dstPort)
	ufrm.SetLength(uint16(total))
	copy(buf[sizeHeader:], msg)

	var crc stack.Checksum
	crc.Write(t.localIP[:])
	crc.Write(dstIP[:])
	crc.AddUint16(uint16(stack.IPProtoUDP))
	ufrm.CRCWrite(&crc)
	ufrm.SetCRC(crc.Sum16())

	return t.sender.Send(dstIP, stack.IPProtoUDP, buf)
}
