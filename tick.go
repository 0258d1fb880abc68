package stack

// Tick is the stack-wide monotonic counter incremented once per invocation
// of the periodic timer callback (nominally every ~10ms). All in-stack
// timeouts are expressed in ticks and compared with wraparound tolerance,
// since the counter is a 16-bit value that wraps roughly every 10-11 minutes
// at that cadence.
type Tick uint16

// Elapsed reports whether at least budget ticks have passed since start,
// as measured at now. The subtraction is performed modulo 2^16, so a single
// wrap of the counter between start and now is tolerated as long as budget
// is small relative to the full range of Tick.
func Elapsed(start, now Tick, budget Tick) bool {
	return Tick(now-start) >= budget
}
