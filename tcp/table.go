package tcp

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/internal/fifo"
	"github.com/tinynet/stack/internal/netlog"
)

// retryInterval is TCP_RETRY_INTERVAL: ticks between retransmission
// attempts.
const retryInterval stack.Tick = 1000

// totalRetries is TCP_TOTAL_RETRIES.
const totalRetries = 2

// rxBufMinFraction is TCP_RX_BUF_MIN_SIZE: the advertised window clamps to
// zero once it would otherwise fall below this fraction of the send FIFO's
// capacity.
const rxBufMinFraction = 0.5

// finWaitTicks bounds how long disconnect waits for the peer's FIN, and flush
// waits for the last retransmit window to drain, expressed here as a polling
// budget rather than a literal tick count since this engine has no
// synchronous access to the tick source from blocking calls.
const finWaitTicks = 100

// tickInterval is the assumed cadence of Table.Tick, used to translate
// tick-denominated busy-wait budgets into real time for the blocking stream
// API, the same translation ipv4.Engine applies to ARP resolution.
const tickInterval = 10 * time.Millisecond

var errBadHandle = errors.New("tcp: invalid handle")

// Sender transmits an IPv4 datagram; satisfied by *ipv4.Engine.
type Sender interface {
	Send(dstIP [4]byte, proto stack.IPProto, payload []byte) error
}

// Handle identifies a socket slot returned by [Table.Reserve].
type Handle int

const invalidHandle Handle = -1

// Socket is one entry of the fixed N=4 connection table.
type Socket struct {
	State      State
	LocalPort  uint16
	RemotePort uint16
	RemoteIP   [4]byte

	sndNxt     Value // next sequence number we will send.
	rcvNxt     Value // next sequence number we expect from the peer.
	unackedSeq Value // sequence number of the data currently sitting in retx.

	pendingAckTicks stack.Tick
	retries         int

	recvTimeout stack.Tick

	recv fifo.FIFO // stream bytes delivered to the application.
	send fifo.FIFO // stream bytes queued by the application for transmission.
	retx fifo.FIFO // shadow copy of the last unacknowledged transmission.
}

// Table is the fixed-size N=4 TCP connection engine. Its methods are called
// from two logical contexts that run concurrently in a real integration: the
// frame/tick (interrupt) context calling HandleIPv4 and Tick, and the
// application (background) context calling the reserve/listen/connect/
// read/write family. mu serializes both onto the same socket and tx-buffer
// state; the blocking calls (ReadByte, WriteByte, Disconnect, Flush) release
// it between polls so the interrupt context is never held off.
type Table struct {
	mu sync.Mutex

	sockets [4]Socket
	localIP [4]byte
	sender  Sender
	txBuf   []byte
	log     *slog.Logger

	sustainRunning atomic.Bool
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
		size = 220
	}
	*t = Table{localIP: cfg.LocalIP, sender: cfg.Sender, txBuf: make([]byte, size), log: cfg.Log}
}

// Reserve allocates a socket bound to localPort, backed by the given receive,
// send and retransmit-holding buffers. The socket starts UNUSED; call Listen
// or Connect to begin using it.
func (t *Table) Reserve(localPort uint16, recvBuf, sendBuf, retxBuf []byte) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sockets {
		if t.sockets[i].State == StateUnused {
			s := &t.sockets[i]
			*s = Socket{LocalPort: localPort}
			s.recv.Reset(recvBuf)
			s.send.Reset(sendBuf)
			s.retx.Reset(retxBuf)
			return Handle(i)
		}
	}
	return invalidHandle
}

func (t *Table) socket(h Handle) *Socket {
	if h < 0 || int(h) >= len(t.sockets) {
		return nil
	}
	return &t.sockets[h]
}

// Socket returns a copy of the socket record at h for inspection.
func (t *Table) Socket(h Handle) Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.socket(h); s != nil {
		return *s
	}
	return Socket{}
}

// Listen transitions a reserved socket to LISTEN, ready to accept an inbound
// SYN on its local port.
func (t *Table) Listen(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.socket(h)
	if s == nil {
		return errBadHandle
	}
	s.State = StateListen
	return nil
}

// Connect actively opens a connection to remoteIP:remotePort, emitting the
// initial SYN and entering SYN_SENT.
func (t *Table) Connect(h Handle, remoteIP [4]byte, remotePort uint16, iss Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.socket(h)
	if s == nil {
		return errBadHandle
	}
	s.RemoteIP = remoteIP
	s.RemotePort = remotePort
	s.sndNxt = iss
	s.State = StateSynSent
	s.retries = totalRetries
	s.pendingAckTicks = retryInterval
	err := t.emit(s, FlagSYN, nil, s.sndNxt)
	s.sndNxt = s.sndNxt.Add(1) // SYN consumes one sequence number.
	return err
}

// SetTimeout sets the per-socket receive timeout used by ReadByte.
func (t *Table) SetTimeout(h Handle, ticks stack.Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.socket(h); s != nil {
		s.recvTimeout = ticks
	}
}

// Disconnect actively closes an ESTABLISHED socket: it emits FIN|ACK, waits
// up to finWaitTicks for the peer's answering FIN (which Tick/HandleIPv4
// running concurrently may deliver), then forces the socket to UNKNOWN
// regardless.
func (t *Table) Disconnect(h Handle) error {
	t.mu.Lock()
	s := t.socket(h)
	if s == nil {
		t.mu.Unlock()
		return errBadHandle
	}
	if s.State != StateEstablished {
		s.State = StateUnknown
		t.mu.Unlock()
		return nil
	}
	s.State = StateFinWait1
	t.emit(s, FlagFIN|FlagACK, nil, s.sndNxt)
	s.sndNxt = s.sndNxt.Add(1)
	t.mu.Unlock()

	for i := 0; i < finWaitTicks; i++ {
		time.Sleep(tickInterval)
		t.mu.Lock()
		done := s.State != StateFinWait1
		t.mu.Unlock()
		if done {
			break
		}
	}

	t.mu.Lock()
	s.State = StateUnknown
	t.mu.Unlock()
	return nil
}

// Flush waits until the send FIFO has drained and any outstanding
// retransmission window has cleared or timed out.
func (t *Table) Flush(h Handle) error {
	t.mu.Lock()
	s := t.socket(h)
	if s == nil {
		t.mu.Unlock()
		return errBadHandle
	}
	t.mu.Unlock()

	for {
		t.mu.Lock()
		pending := s.send.Len() > 0 && s.State == StateEstablished
		t.mu.Unlock()
		if !pending {
			break
		}
		time.Sleep(tickInterval)
	}
	for i := 0; i < finWaitTicks; i++ {
		t.mu.Lock()
		pending := s.retx.Len() > 0 && s.State == StateEstablished
		t.mu.Unlock()
		if !pending {
			break
		}
		time.Sleep(tickInterval)
	}
	return nil
}

// ReadByte blocks while h is ESTABLISHED and its receive FIFO is empty,
// returning the next byte once available. It returns ok=false (end of
// stream) if the per-socket receive timeout expires or the socket leaves
// ESTABLISHED.
func (t *Table) ReadByte(h Handle) (b byte, ok bool) {
	t.mu.Lock()
	s := t.socket(h)
	t.mu.Unlock()
	if s == nil {
		return 0, false
	}
	var waited stack.Tick
	for {
		t.mu.Lock()
		c, err := s.recv.ReadByte()
		state := s.State
		timeout := s.recvTimeout
		t.mu.Unlock()
		if err == nil {
			return c, true
		}
		if state != StateEstablished {
			return 0, false
		}
		if timeout != 0 && waited >= timeout {
			return 0, false
		}
		time.Sleep(tickInterval)
		waited++
	}
}

// WriteByte spin-waits until h's send FIFO has room, then enqueues c. It
// fails immediately if h is not ESTABLISHED.
func (t *Table) WriteByte(h Handle, c byte) bool {
	t.mu.Lock()
	s := t.socket(h)
	if s == nil || s.State != StateEstablished {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if s.State != StateEstablished {
			t.mu.Unlock()
			return false
		}
		if s.send.Free() > 0 {
			ok := s.send.WriteByte(c) == nil
			t.mu.Unlock()
			return ok
		}
		t.mu.Unlock()
		time.Sleep(tickInterval)
	}
}

// window computes the advertised receive window: free receive capacity,
// clamped to zero if it would fall below half the send FIFO's capacity.
func (s *Socket) window() uint16 {
	free := s.recv.Free()
	threshold := int(rxBufMinFraction * float64(s.send.Capacity()))
	if free < threshold {
		return 0
	}
	return uint16(free)
}

// payloadCapacity is the number of payload bytes a single segment built into
// t.txBuf can carry.
func (t *Table) payloadCapacity() int {
	return len(t.txBuf) - sizeHeader
}

// emit builds and transmits one TCP segment with the given flags and
// payload, using seq as the segment's sequence number. ack, when the ACK
// flag is set, is always the socket's current rcvNxt.
func (t *Table) emit(s *Socket, flags Flags, payload []byte, seq Value) error {
	total := sizeHeader + len(payload)
	if total > len(t.txBuf) {
		total = len(t.txBuf)
		payload = payload[:total-sizeHeader]
	}
	buf := t.txBuf[:total]
	tfrm, err := NewFrame(buf)
	if err != nil {
		return err
	}
	tfrm.ClearHeader()
	tfrm.SetSourcePort(s.LocalPort)
	tfrm.SetDestinationPort(s.RemotePort)
	tfrm.SetSeq(seq)
	if flags.HasAny(FlagACK) {
		tfrm.SetAck(s.rcvNxt)
	}
	tfrm.SetOffsetAndFlags(fixedOffset, flags)
	tfrm.SetWindowSize(s.window())
	copy(buf[sizeHeader:], payload)

	var crc stack.Checksum
	crc.Write(t.localIP[:])
	crc.Write(s.RemoteIP[:])
	crc.AddUint16(uint16(stack.IPProtoTCP))
	crc.AddUint16(uint16(total))
	tfrm.CRCWrite(&crc)
	tfrm.SetCRC(crc.Sum16())

	return t.sender.Send(s.RemoteIP, stack.IPProtoTCP, buf)
}

// HandleIPv4 implements ipv4.ProtocolHandler, dispatching an inbound segment
// to the matching socket and applying the TCP state machine to it. Inbound
// TCP checksums are not validated, matching this stack's UDP behaviour of
// trusting datagrams once the IP header has checked out.
func (t *Table) HandleIPv4(srcIP, dstIP [4]byte, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tfrm, err := NewFrame(payload)
	if err != nil {
		return err
	}
	var v stack.Validator
	tfrm.ValidateSize(&v)
	if v.HasError() {
		netlog.LogAttrs(t.log, slog.LevelDebug, "tcp: drop malformed segment")
		return nil
	}
	dstPort := tfrm.DestinationPort()
	srcPort := tfrm.SourcePort()
	data := tfrm.Payload()
	flags := tfrm.Flags()
	seq := tfrm.Seq()

	for i := range t.sockets {
		s := &t.sockets[i]
		switch {
		case s.State == StateListen && s.LocalPort == dstPort && flags.HasAll(FlagSYN):
			s.RemoteIP = srcIP
			s.RemotePort = srcPort
			s.rcvNxt = seq.Add(uint32(1 + len(data)))
			s.send.Clear()
			s.recv.Clear()
			s.retx.Clear()
			s.pendingAckTicks = 0
			s.retries = 0
			iss := s.sndNxt
			s.sndNxt = s.sndNxt.Add(uint32(1 + len(data)))
			s.State = StateEstablished
			return t.emit(s, FlagSYN|FlagACK, nil, iss)

		case s.State == StateSynSent && s.RemoteIP == srcIP && s.RemotePort == srcPort && dstPort == s.LocalPort && flags.HasAll(FlagSYN|FlagACK):
			s.rcvNxt = seq.Add(1)
			s.pendingAckTicks = 0
			s.retries = 0
			s.send.Clear()
			s.recv.Clear()
			s.retx.Clear()
			s.State = StateEstablished
			return t.emit(s, FlagACK, nil, s.sndNxt)

		case s.State == StateEstablished && s.RemoteIP == srcIP && s.RemotePort == srcPort && dstPort == s.LocalPort:
			return t.handleEstablished(s, tfrm, flags, data, seq)

		case s.State == StateFinWait1 && s.RemoteIP == srcIP && s.RemotePort == srcPort && dstPort == s.LocalPort && flags.HasAll(FlagFIN):
			s.rcvNxt = seq.Add(uint32(1 + len(data)))
			s.State = StateUnknown
			return t.emit(s, FlagACK, nil, s.sndNxt)
		}
	}
	netlog.LogAttrs(t.log, slog.LevelDebug, "tcp: drop, no matching socket", slog.Int("dstport", int(dstPort)))
	return nil
}

func (t *Table) handleEstablished(s *Socket, tfrm Frame, flags Flags, data []byte, seq Value) error {
	needAck := false

	if flags.HasAll(FlagACK) && tfrm.Ack() == s.sndNxt {
		s.pendingAckTicks = 0
		s.retries = 0
		s.retx.Clear()
	}
	if flags.HasAll(FlagSYN) {
		s.rcvNxt = seq.Add(uint32(1 + len(data)))
		needAck = true
	} else if len(data) > 0 {
		s.rcvNxt = seq.Add(uint32(len(data)))
		s.recv.Write(data) // bytes past the FIFO's capacity are silently dropped.
		needAck = true
	}
	if flags.HasAll(FlagFIN) {
		s.rcvNxt = s.rcvNxt.Add(1)
		s.State = StateUnknown
		return t.emit(s, FlagACK|FlagFIN, nil, s.sndNxt)
	}
	if needAck {
		return t.emit(s, FlagACK, nil, s.sndNxt)
	}
	return nil
}

// Tick runs one sustain pass: periodic retransmission and send-FIFO drain
// for every socket, re-entrant-guarded so an overlapping invocation (e.g. a
// previous pass still running when the next tick fires) is a no-op.
func (t *Table) Tick() {
	if !t.sustainRunning.CompareAndSwap(false, true) {
		return
	}
	defer t.sustainRunning.Store(false)
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.sockets {
		t.sustainSocket(&t.sockets[i])
	}
}

func (t *Table) sustainSocket(s *Socket) {
	if s.pendingAckTicks > 0 {
		s.pendingAckTicks--
	}

	switch s.State {
	case StateSynSent:
		if s.pendingAckTicks == 0 {
			if s.retries > 0 {
				s.retries--
				s.pendingAckTicks = retryInterval
				t.emit(s, FlagSYN, nil, s.sndNxt-1) // same ISN as the original SYN.
			} else {
				s.State = StateUnknown
			}
		}
	case StateEstablished:
		if s.retx.Len() > 0 && s.pendingAckTicks == 0 {
			if s.retries > 0 {
				s.retries--
				s.pendingAckTicks = retryInterval
				n := min(t.payloadCapacity(), s.retx.Len())
				buf := make([]byte, n)
				s.retx.Peek(buf) // preserved until ACKed or retries exhaust.
				t.emit(s, FlagACK|FlagPSH, buf, s.unackedSeq)
			} else {
				s.State = StateUnknown
			}
		} else if s.send.Len() > 0 {
			n := min(t.payloadCapacity(), s.send.Len())
			buf := make([]byte, n)
			s.send.Read(buf)
			seq := s.sndNxt
			s.unackedSeq = seq
			s.sndNxt = s.sndNxt.Add(uint32(n))
			if s.retx.Capacity() > 0 {
				s.retx.Clear()
				s.retx.Write(buf)
			}
			s.pendingAckTicks = retryInterval
			s.retries = totalRetries
			t.emit(s, FlagACK|FlagPSH, buf, seq)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
