// Package devicetap implements the netstack.Device boundary against a real
// Linux network interface: either a TAP device the kernel creates for us, or
// an AF_PACKET raw socket bridging an existing interface. It is the only
// package in this module that talks to an operating system.
package devicetap

import "errors"

// ErrClosed is returned by ReadFrame/SendFrame once the device has been closed.
var ErrClosed = errors.New("devicetap: closed")

// MTU is the maximum Ethernet frame size (including the 14-byte header) this
// package will read or write. It covers the standard 1500-byte IPv4 MTU plus
// header and leaves headroom for VLAN-tagged frames it otherwise ignores.
const MTU = 1518
