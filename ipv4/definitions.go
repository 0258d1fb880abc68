package ipv4

import "github.com/tinynet/stack"

const sizeHeader = stack.SizeHeaderIPv4

// ToS is the Type of Service / Traffic Class field: 6 MSB are Differentiated
// Services, 2 LSB are Explicit Congestion Notification.
type ToS uint8

// DS returns the Differentiated Services field.
func (tos ToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN returns the Explicit Congestion Notification field.
func (tos ToS) ECN() uint8 { return uint8(tos) & 0b11 }
