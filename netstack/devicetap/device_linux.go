//go:build linux

package devicetap

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/ethernet"
	"github.com/tinynet/stack/netstack"
)

// Device is a netstack.Device backed by either a kernel TAP interface or an
// AF_PACKET raw socket bridged onto an existing interface. Either backing
// hands us and accepts whole Ethernet II frames, so SendFrame only has to
// stamp the header and write.
type Device struct {
	fd       int
	name     string
	localMAC [6]byte
	closed   bool
}

var _ netstack.Device = (*Device)(nil)

// OpenTAP creates (or opens) a TAP interface named name and brings no
// addressing of its own -- the operator still configures the interface's IP
// address with the OS, e.g. via `ip addr add`, before traffic flows.
func OpenTAP(name string, localMAC [6]byte) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("devicetap: interface name %q too long", name)
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("devicetap: open /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("devicetap: build ifreq: %w", err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("devicetap: TUNSETIFF %q: %w", name, err)
	}
	return &Device{fd: fd, name: name, localMAC: localMAC}, nil
}

// OpenBridge binds an AF_PACKET/SOCK_RAW socket to the named interface,
// receiving and sending raw Ethernet frames on an existing NIC instead of a
// kernel-created TAP. This is the path a pingecho demo run against a real
// network link uses.
func OpenBridge(name string, localMAC [6]byte) (*Device, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("devicetap: lookup interface %q: %w", name, err)
	}
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("devicetap: open AF_PACKET socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("devicetap: bind %q: %w", name, err)
	}
	return &Device{fd: fd, name: name, localMAC: localMAC}, nil
}

// SendFrame implements netstack.Device: it stamps an Ethernet II header
// addressed to dst with ethertype and payload, then writes the frame to the
// underlying TAP fd or raw socket.
func (d *Device) SendFrame(dst [6]byte, ethertype stack.EtherType, payload []byte) error {
	if d.closed {
		return ErrClosed
	}
	frame := make([]byte, 14+len(payload))
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return err
	}
	efrm.SetDestinationHardwareAddr(dst)
	efrm.SetSourceHardwareAddr(d.localMAC)
	efrm.SetEtherType(ethertype)
	copy(efrm.Payload(), payload)
	_, err = unix.Write(d.fd, frame)
	return err
}

// ReadFrame blocks for the next inbound raw Ethernet frame and copies it
// into buf, which should be at least MTU bytes.
func (d *Device) ReadFrame(buf []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	return unix.Read(d.fd, buf)
}

// Close releases the underlying file descriptor. Safe to call once.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return unix.Close(d.fd)
}

// Run pumps frames from the device into s.OnFrame until ReadFrame returns an
// error (typically because Close was called from another goroutine).
func (d *Device) Run(s *netstack.Stack) error {
	var buf [MTU]byte
	for {
		n, err := d.ReadFrame(buf[:])
		if err != nil {
			return err
		}
		if err := s.OnFrame(buf[:n]); err != nil {
			return err
		}
	}
}

func htons(i uint16) uint16 { return i<<8&0xff00 | i>>8 }
