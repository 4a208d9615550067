package device

import "fmt"

// Fixed limits of the endpoint and interface address space.
const (
	// MaxEndpointNumber is the highest endpoint number (USB 2.0 allows 0-15).
	MaxEndpointNumber = 15

	// MaxEndpointAddresses is the number of possible endpoint addresses
	// (0x00-0x0F OUT and 0x80-0x8F IN).
	MaxEndpointAddresses = 32

	// MaxInterfaces is the number of addressable interface numbers.
	MaxInterfaces = 256
)

// Packet sizes used by the composite functions.
const (
	// BulkMaxPacketSizeFS is the bulk max packet size at full speed.
	BulkMaxPacketSizeFS = 64

	// BulkMaxPacketSizeHS is the bulk max packet size at high speed.
	BulkMaxPacketSizeHS = 512

	// InterruptMaxPacketSize is the max packet size of a CDC notification endpoint.
	InterruptMaxPacketSize = 8

	// InterruptIntervalFS is the notification polling interval at full speed.
	InterruptIntervalFS = 0x10

	// InterruptIntervalHS is the notification polling interval at high speed.
	InterruptIntervalHS = 0x10
)

// USB Speeds as defined in USB 2.0 specification.
const (
	SpeedLow  Speed = 0 // 1.5 Mbps (USB 1.0)
	SpeedFull Speed = 1 // 12 Mbps (USB 1.1)
	SpeedHigh Speed = 2 // 480 Mbps (USB 2.0)
)

// Speed represents USB connection speed.
type Speed uint8

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
}

// ParseSpeed converts a configuration name ("full", "high") into a Speed.
func ParseSpeed(name string) (Speed, bool) {
	switch name {
	case "full", "fs", "":
		return SpeedFull, true
	case "high", "hs":
		return SpeedHigh, true
	default:
		return SpeedFull, false
	}
}

// PacketProfile holds the endpoint sizes chosen once per configuration.
type PacketProfile struct {
	BulkMaxPacketSize      uint16
	InterruptMaxPacketSize uint16
	InterruptInterval      uint8
}

// Profile returns the packet profile for this speed. Only two profiles
// exist: high speed and everything else (full speed).
func (s Speed) Profile() PacketProfile {
	if s == SpeedHigh {
		return PacketProfile{
			BulkMaxPacketSize:      BulkMaxPacketSizeHS,
			InterruptMaxPacketSize: InterruptMaxPacketSize,
			InterruptInterval:      InterruptIntervalHS,
		}
	}
	return PacketProfile{
		BulkMaxPacketSize:      BulkMaxPacketSizeFS,
		InterruptMaxPacketSize: InterruptMaxPacketSize,
		InterruptInterval:      InterruptIntervalFS,
	}
}

// Device states relevant to the router (USB 2.0 section 9.1).
const (
	StateDefault    State = 0 // Reset, using default address
	StateAddress    State = 1 // Unique address assigned
	StateConfigured State = 2 // Configuration selected
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
