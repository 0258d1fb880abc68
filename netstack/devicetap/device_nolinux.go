//go:build !linux

package devicetap

import (
	"errors"

	"github.com/tinynet/stack"
	"github.com/tinynet/stack/netstack"
)

// Device is the non-Linux stub: TAP and AF_PACKET access is Linux-specific,
// so every operation reports errors.ErrUnsupported, keeping the rest of the
// module buildable on other platforms.
type Device struct{}

var _ netstack.Device = (*Device)(nil)

func OpenTAP(name string, localMAC [6]byte) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func OpenBridge(name string, localMAC [6]byte) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) SendFrame(dst [6]byte, ethertype stack.EtherType, payload []byte) error {
	return errors.ErrUnsupported
}

func (d *Device) ReadFrame(buf []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (d *Device) Close() error { return errors.ErrUnsupported }

func (d *Device) Run(s *netstack.Stack) error { return errors.ErrUnsupported }
