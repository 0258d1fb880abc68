package arp

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/internal/netlog"
)

// EntryState is the lifecycle state of a single [Table] entry.
type EntryState uint8

const (
	// StateDisabled marks a free slot available for allocation.
	StateDisabled EntryState = iota
	// StateWaiting marks a slot holding an outstanding query.
	StateWaiting
	// StateEnabled marks a slot usable for routing.
	StateEnabled
)

func (s EntryState) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateWaiting:
		return "WAITING"
	case StateEnabled:
		return "ENABLED"
	default:
		return "UNKNOWN"
	}
}

const (
	// entryLifetime is the number of ticks an ENABLED entry stays valid
	// after being resolved or refreshed.
	entryLifetime stack.Tick = 600
	// resolveTimeout bounds how many ticks a resolver (ipv4.Engine's blocking
	// next-hop resolution) busy-waits for a WAITING entry to become ENABLED
	// before reporting failure.
	resolveTimeout stack.Tick = 40
)

// Entry is a single IPv4-to-MAC mapping slot.
type Entry struct {
	State    EntryState
	IP       [4]byte
	MAC      [6]byte
	Lifetime stack.Tick
}

// Table is the bounded ARP cache and resolver: a fixed array of N entries,
// allocated first-fit with no LRU eviction, mirroring the data model used
// throughout the rest of the stack for fixed-size resource tables. mu
// serializes the receive path (Learn, HandleReply, Tick) against the send
// path (StartQuery, called while resolving a route from application code),
// since both run concurrently against the same entries in a real driver.
type Table struct {
	mu sync.Mutex

	entries  [16]Entry
	localIP  [4]byte
	localMAC [6]byte
	log      *slog.Logger
}

// Reset (re)initializes the table for the given local addresses, clearing
// every entry.
func (t *Table) Reset(localIP [4]byte, localMAC [6]byte, log *slog.Logger) {
	*t = Table{localIP: localIP, localMAC: localMAC, log: log}
}

// SetLog installs the logger used for dropped/learned/expired entry events.
func (t *Table) SetLog(log *slog.Logger) { t.log = log }

func (t *Table) logAttrs(msg string, attrs ...slog.Attr) {
	netlog.LogAttrs(t.log, slog.LevelDebug, msg, attrs...)
}

// Lookup searches ENABLED entries for ip, returning the mapped MAC and true
// on a hit.
func (t *Table) Lookup(ip [4]byte) (mac [6]byte, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateEnabled && e.IP == ip {
			return e.MAC, true
		}
	}
	return mac, false
}

// Learn installs or refreshes an ENABLED entry for (ip, mac), as done
// opportunistically whenever an IPv4 datagram arrives from ip. If ip already
// has an entry its MAC and lifetime are refreshed; otherwise a DISABLED slot
// is allocated first-fit. If no slot is free the datagram that triggered the
// learn is simply not cached (mirrors the original source's "ignore the
// packet" behaviour on a full table).
func (t *Table) Learn(ip [4]byte, mac [6]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.learnLocked(ip, mac)
}

func (t *Table) learnLocked(ip [4]byte, mac [6]byte) {
	idx := t.indexOf(ip)
	if idx < 0 {
		idx = t.firstFit()
	}
	if idx < 0 {
		t.logAttrs("arp table full, learn dropped")
		return
	}
	e := &t.entries[idx]
	e.State = StateEnabled
	e.IP = ip
	e.MAC = mac
	e.Lifetime = entryLifetime
}

// StartQuery allocates a DISABLED slot for ip, marks it WAITING and returns
// the slot index so the caller can emit the ARP request. Returns -1 if no
// slot is free.
func (t *Table) StartQuery(ip [4]byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.firstFit()
	if idx < 0 {
		return -1
	}
	e := &t.entries[idx]
	e.State = StateWaiting
	e.IP = ip
	e.MAC = [6]byte{}
	return idx
}

// HandleReply completes an outstanding WAITING query matching senderIP,
// filling in the MAC and transitioning the entry to ENABLED. Reports
// whether a matching query was found.
func (t *Table) HandleReply(senderIP [4]byte, senderMAC [6]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handleReplyLocked(senderIP, senderMAC)
}

func (t *Table) handleReplyLocked(senderIP [4]byte, senderMAC [6]byte) bool {
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateWaiting && e.IP == senderIP {
			e.MAC = senderMAC
			e.State = StateEnabled
			e.Lifetime = entryLifetime
			return true
		}
	}
	return false
}

// EntryState reports the state of the entry at idx, or StateDisabled if idx
// is out of range.
func (t *Table) EntryState(idx int) EntryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.entries) {
		return StateDisabled
	}
	return t.entries[idx].State
}

// Tick decrements the lifetime of every ENABLED entry by one, transitioning
// any entry reaching zero back to DISABLED.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.State != StateEnabled {
			continue
		}
		if e.Lifetime > 0 {
			e.Lifetime--
		}
		if e.Lifetime == 0 {
			e.State = StateDisabled
			t.logAttrs("arp entry expired", netlog.Addr4("ip", e.IP))
		}
	}
}

// ResolveTimeout is the tick budget a caller-driven busy-wait (such as
// ipv4.Engine's next-hop resolution) allows a WAITING entry before declaring
// failure.
func ResolveTimeout() stack.Tick { return resolveTimeout }

func (t *Table) indexOf(ip [4]byte) int {
	for i := range t.entries {
		if t.entries[i].State != StateDisabled && t.entries[i].IP == ip {
			return i
		}
	}
	return -1
}

func (t *Table) firstFit() int {
	for i := range t.entries {
		if t.entries[i].State == StateDisabled {
			return i
		}
	}
	return -1
}

// HandleFrame processes one received ARP frame addressed to the local
// protocol address. On a request it returns the reply frame to transmit
// (built in place over the provided scratch buffer, which must be the
// original received frame buffer so target/sender fields are already
// populated and only need swapping). On a reply, it completes a matching
// outstanding query. It returns sendReply=true when buf now holds a frame
// that should be transmitted as-is.
func (t *Table) HandleFrame(buf []byte) (sendReply bool, err error) {
	afrm, err := NewFrame(buf)
	if err != nil {
		return false, err
	}
	var v stack.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		return false, v.Err()
	}
	htype, hlen := afrm.Hardware()
	ptype, plen := afrm.Protocol()
	if htype != 1 || hlen != 6 || ptype != stack.EtherTypeIPv4 || plen != 4 {
		return false, nil // not IPv4-over-Ethernet, not ours to handle.
	}
	senderMAC, senderIP := afrm.Sender4()
	_, targetIP := afrm.Target4()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch afrm.Operation() {
	case stack.ARPRequest:
		if !bytes.Equal(targetIP[:], t.localIP[:]) {
			return false, nil // not for us.
		}
		t.learnLocked(*senderIP, *senderMAC)
		afrm.SwapTargetSender()
		afrm.SetOperation(stack.ARPReply)
		newSenderMAC, newSenderIP := afrm.Sender4()
		*newSenderMAC = t.localMAC
		*newSenderIP = t.localIP
		return true, nil

	case stack.ARPReply:
		t.handleReplyLocked(*senderIP, *senderMAC)
		return false, nil

	default:
		return false, nil
	}
}

// BuildRequest writes an ARP request for targetIP into buf, which must be at
// least 28 bytes. Returns the number of bytes written. Unlocked: localIP and
// localMAC are fixed at Reset and never mutated afterward.
func (t *Table) BuildRequest(buf []byte, targetIP [4]byte) (int, error) {
	afrm, err := NewFrame(buf)
	if err != nil {
		return 0, err
	}
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(stack.EtherTypeIPv4, 4)
	afrm.SetOperation(stack.ARPRequest)
	senderMAC, senderIP := afrm.Sender4()
	*senderMAC = t.localMAC
	*senderIP = t.localIP
	targetMAC, targetIPField := afrm.Target4()
	*targetMAC = [6]byte{}
	*targetIPField = targetIP
	return sizeHeaderv4, nil
}
