// Package device holds the device-level building blocks of the composite
// function router.
//
// It is platform-agnostic and reaches hardware only through the
// [hal.Peripheral] interface defined in [github.com/ardnew/compusb/device/hal].
//
// # Contents
//
//   - [ControlRequest] decodes the 8-byte SETUP packet
//   - [OwnedEndpoint] and [EndpointKind] describe the endpoint addressing scheme
//   - [Speed] selects one of two fixed [PacketProfile] values
//   - [Device] tracks the Default → Address → Configured state machine
//   - [StandardRequestHandler] answers slot-independent standard requests
//
// The slot table, the request router and the dispatch facade live in
// [github.com/ardnew/compusb/device/composite]; the per-instance CDC state
// machine lives in [github.com/ardnew/compusb/device/class/cdc].
//
// # Zero-Allocation Design
//
// Decoding uses output parameters ([ParseControlRequest]) and
// serialization writes into caller buffers ([ControlRequest.MarshalTo]),
// so the hot dispatch path does not allocate.
package device
