package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/compusb/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
)

// bmRequestType field masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Direction is the data-stage direction of a control transfer.
type Direction uint8

// Direction values as encoded in bmRequestType.
const (
	DirectionHostToDevice Direction = 0x00 // OUT
	DirectionDeviceToHost Direction = 0x80 // IN
)

// String returns "IN" or "OUT".
func (d Direction) String() string {
	if d == DirectionDeviceToHost {
		return "IN"
	}
	return "OUT"
}

// RequestType is the type field of bmRequestType.
type RequestType uint8

// RequestType values as encoded in bmRequestType.
const (
	TypeStandard RequestType = 0x00 // Standard request
	TypeClass    RequestType = 0x20 // Class-specific request
	TypeVendor   RequestType = 0x40 // Vendor-specific request
	TypeReserved RequestType = 0x60 // Reserved
)

// String returns a human-readable request type.
func (t RequestType) String() string {
	switch t {
	case TypeStandard:
		return "Standard"
	case TypeClass:
		return "Class"
	case TypeVendor:
		return "Vendor"
	default:
		return "Reserved"
	}
}

// Recipient is the recipient field of bmRequestType.
type Recipient uint8

// Recipient values as encoded in bmRequestType.
const (
	RecipientDevice    Recipient = 0x00 // Device
	RecipientInterface Recipient = 0x01 // Interface
	RecipientEndpoint  Recipient = 0x02 // Endpoint
	RecipientOther     Recipient = 0x03 // Other
)

// String returns a human-readable recipient.
func (r Recipient) String() string {
	switch r {
	case RecipientDevice:
		return "Device"
	case RecipientInterface:
		return "Interface"
	case RecipientEndpoint:
		return "Endpoint"
	case RecipientOther:
		return "Other"
	default:
		return fmt.Sprintf("Recipient(%d)", uint8(r))
	}
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ControlRequest is a decoded SETUP packet. One exists per control
// transfer and is discarded once the transfer is dispatched.
type ControlRequest struct {
	Recipient Recipient
	Type      RequestType
	Direction Direction
	Request   uint8  // bRequest
	Value     uint16 // wValue
	Index     uint16 // wIndex: interface number or endpoint address
	Length    uint16 // wLength: data stage length
}

// ParseControlRequest decodes an 8-byte SETUP packet into out.
func ParseControlRequest(data []byte, out *ControlRequest) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.SetRequestType(data[0])
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// SetRequestType decodes a raw bmRequestType byte into the request fields.
func (r *ControlRequest) SetRequestType(bm uint8) {
	r.Direction = Direction(bm & RequestTypeDirectionMask)
	r.Type = RequestType(bm & RequestTypeTypeMask)
	r.Recipient = Recipient(bm & RequestTypeRecipientMask)
}

// RequestType returns the raw bmRequestType byte.
func (r *ControlRequest) RequestType() uint8 {
	return uint8(r.Direction) | uint8(r.Type) | uint8(r.Recipient)
}

// MarshalTo serializes the request to buf in wire order.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (r *ControlRequest) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = r.RequestType()
	buf[1] = r.Request
	binary.LittleEndian.PutUint16(buf[2:4], r.Value)
	binary.LittleEndian.PutUint16(buf[4:6], r.Index)
	binary.LittleEndian.PutUint16(buf[6:8], r.Length)
	return SetupPacketSize
}

// IsIn returns true if the data stage flows device to host.
func (r *ControlRequest) IsIn() bool {
	return r.Direction == DirectionDeviceToHost
}

// HasData returns true if the request carries a data stage.
func (r *ControlRequest) HasData() bool {
	return r.Length != 0
}

// InterfaceNumber returns the interface number from wIndex.
func (r *ControlRequest) InterfaceNumber() uint8 {
	return uint8(r.Index & 0xFF)
}

// EndpointNumber returns the endpoint number from wIndex, ignoring the
// direction bit.
func (r *ControlRequest) EndpointNumber() uint8 {
	return uint8(r.Index & 0x7F)
}

// String returns a human-readable representation of the request.
func (r *ControlRequest) String() string {
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		r.Direction, r.Type, r.Recipient, r.Request, r.Value, r.Index, r.Length)
}

// NewClassRequest builds a class request addressed to an interface.
func NewClassRequest(dir Direction, iface uint8, request uint8, value, length uint16) ControlRequest {
	return ControlRequest{
		Recipient: RecipientInterface,
		Type:      TypeClass,
		Direction: dir,
		Request:   request,
		Value:     value,
		Index:     uint16(iface),
		Length:    length,
	}
}

// NewStandardRequest builds a standard request for the given recipient.
func NewStandardRequest(dir Direction, recipient Recipient, request uint8, value, index, length uint16) ControlRequest {
	return ControlRequest{
		Recipient: recipient,
		Type:      TypeStandard,
		Direction: dir,
		Request:   request,
		Value:     value,
		Index:     index,
		Length:    length,
	}
}
