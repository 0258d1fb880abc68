// Package netlog provides the structured-logging helper shared by every
// layer of the stack. Each layer holds a nilable *slog.Logger field and logs
// through LogAttrs so that logging can be fully disabled (nil logger) on the
// datapath without callers special-casing it at every call site.
package netlog

import (
	"context"
	"encoding/binary"
	"log/slog"
)

// Enabled reports whether l has a handler that would emit at lvl. A nil
// logger is never enabled.
func Enabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs logs msg and attrs through l at level if l is non-nil; otherwise
// it is a no-op. Callers pass attrs built with Addr4/Addr6 below to avoid
// formatting addresses into strings when logging turns out to be disabled
// further down the handler chain.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

// Addr4 returns a slog.Attr for a 4-byte IPv4 address packed into a uint64,
// avoiding a string allocation for the common case of a disabled logger.
func Addr4(key string, addr [4]byte) slog.Attr {
	return slog.Uint64(key, uint64(binary.BigEndian.Uint32(addr[:])))
}

// Addr6 returns a slog.Attr for a 6-byte hardware address packed into a
// uint64, avoiding a string allocation for the common case of a disabled
// logger.
func Addr6(key string, addr [6]byte) slog.Attr {
	var buf [8]byte
	copy(buf[2:], addr[:])
	return slog.Uint64(key, binary.BigEndian.Uint64(buf[:]))
}
