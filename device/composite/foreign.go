package composite

import (
	"github.com/ardnew/compusb/device"
)

// ForeignDriver serves a function slot whose class logic lives outside
// the router, such as mass storage. The router opens and closes the
// slot's endpoints; the driver handles everything else for its slot.
type ForeignDriver interface {
	// Init starts the function after its endpoints are open.
	Init(slot *FunctionSlot, profile device.PacketProfile) error

	// DeInit stops the function after its endpoints are closed.
	DeInit(slot *FunctionSlot) error

	// Setup handles a standard, class or vendor request resolved to slot.
	Setup(slot *FunctionSlot, req *device.ControlRequest) error

	// DataIn handles completion of an IN transfer on endpoint number epnum.
	DataIn(slot *FunctionSlot, epnum uint8) error

	// DataOut handles completion of an OUT transfer on endpoint number epnum.
	DataOut(slot *FunctionSlot, epnum uint8) error

	// ControlRxReady delivers a control OUT data stage. It reports whether
	// the driver had a command waiting for it.
	ControlRxReady(slot *FunctionSlot) (bool, error)
}
