package stack

import "errors"

// Sentinel errors shared across frame views. Per-layer packages define their
// own sentinels for conditions specific to that layer.
var (
	ErrShortBuffer  = errors.New("stack: buffer too short for header")
	ErrBadChecksum  = errors.New("stack: checksum mismatch")
	ErrBadVersion   = errors.New("stack: bad IP version field")
	ErrFragmented   = errors.New("stack: fragmented datagram unsupported")
	ErrTableFull    = errors.New("stack: fixed-size table has no free slot")
	ErrUnknownProto = errors.New("stack: unrecognized protocol")
)
