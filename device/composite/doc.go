// Package composite routes the events of a composite USB device to its
// logical functions.
//
// A SlotTable describes the functions: each FunctionSlot owns a contiguous
// range of interface numbers and a set of endpoint addresses, and is
// served either by the CDC instance handler or by a registered
// ForeignDriver. The table is immutable; a new one is built whenever the
// device is reconfigured.
//
// The Router resolves a control request by recipient: interface requests
// by interface number, endpoint requests by endpoint number, and device
// requests to a configurable default slot. Data events are resolved by
// endpoint number in constant time.
//
// The Dispatcher is the surface a USB core drives (Init, DeInit, Setup,
// DataIn, DataOut, ControlRxReady) and the surface serial consumers use
// (Transmit, SendSerialState, LineCoding). It keeps no per-slot state;
// instances and drivers live in the Registry owned by the device context.
//
// Usage:
//
//	table, _ := composite.DualCDC()
//	reg := composite.NewRegistry(2)
//	reg.RegisterCDC(callbacks)
//	d := composite.NewDispatcher(device.NewDevice(device.SpeedFull), table, reg, periph)
//	d.Device().SetAddress(1)
//	d.Configure(1)
//	d.Transmit(0, []byte("hello"))
package composite
