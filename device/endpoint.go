package device

import (
	"fmt"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointKind is the role an endpoint plays inside a function slot.
type EndpointKind uint8

// Endpoint kinds owned by function slots.
const (
	KindControlInterrupt EndpointKind = iota // Interrupt IN (CDC notification)
	KindBulkIn                               // Bulk IN (device to host data)
	KindBulkOut                              // Bulk OUT (host to device data)
)

// String returns a human-readable endpoint kind.
func (k EndpointKind) String() string {
	switch k {
	case KindControlInterrupt:
		return "control-interrupt"
	case KindBulkIn:
		return "bulk-in"
	case KindBulkOut:
		return "bulk-out"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseEndpointKind converts a configuration name into an EndpointKind.
func ParseEndpointKind(name string) (EndpointKind, bool) {
	switch name {
	case "control-interrupt", "interrupt", "notify":
		return KindControlInterrupt, true
	case "bulk-in", "in":
		return KindBulkIn, true
	case "bulk-out", "out":
		return KindBulkOut, true
	default:
		return 0, false
	}
}

// TransferType returns the USB transfer type used to open an endpoint of this kind.
func (k EndpointKind) TransferType() uint8 {
	if k == KindControlInterrupt {
		return EndpointTypeInterrupt
	}
	return EndpointTypeBulk
}

// Direction returns the direction bit an endpoint of this kind must carry.
func (k EndpointKind) Direction() uint8 {
	if k == KindBulkOut {
		return EndpointDirectionOut
	}
	return EndpointDirectionIn
}

// OwnedEndpoint is an endpoint address claimed by a function slot.
type OwnedEndpoint struct {
	Address uint8
	Kind    EndpointKind
}

// Number returns the endpoint number (0-15).
func (e OwnedEndpoint) Number() uint8 {
	return EndpointNumber(e.Address)
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e OwnedEndpoint) IsIn() bool {
	return e.Address&EndpointDirectionIn != 0
}

// MaxPacketSize returns the packet size this endpoint is opened with.
func (e OwnedEndpoint) MaxPacketSize(p PacketProfile) uint16 {
	if e.Kind == KindControlInterrupt {
		return p.InterruptMaxPacketSize
	}
	return p.BulkMaxPacketSize
}

// String returns a human-readable endpoint description.
func (e OwnedEndpoint) String() string {
	return fmt.Sprintf("0x%02X(%s)", e.Address, e.Kind)
}

// EndpointNumber returns the endpoint number of an address.
func EndpointNumber(address uint8) uint8 {
	return address & 0x0F
}

// EndpointIndex converts an endpoint address to a dense table index.
// OUT endpoints 0x00-0x0F map to 0-15, IN endpoints 0x80-0x8F to 16-31.
func EndpointIndex(address uint8) int {
	if address&EndpointDirectionIn != 0 {
		return int(address&0x0F) + 16
	}
	return int(address & 0x0F)
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}
