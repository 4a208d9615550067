package composite

import (
	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Router resolves control requests and endpoint events to the function
// slot that owns them.
type Router struct {
	table *SlotTable
}

// NewRouter creates a router over table.
func NewRouter(table *SlotTable) *Router {
	return &Router{table: table}
}

// Table returns the slot table the router resolves against.
func (r *Router) Table() *SlotTable {
	return r.table
}

// Resolve returns the slot owning req:
//   - interface recipient: the slot whose range contains the low byte of wIndex
//   - endpoint recipient: the slot owning endpoint number wIndex & 0x7F
//   - device recipient: the default slot
func (r *Router) Resolve(req *device.ControlRequest) (*FunctionSlot, error) {
	var (
		slot *FunctionSlot
		ok   bool
	)
	switch req.Recipient {
	case device.RecipientInterface:
		slot, ok = r.table.ByInterface(req.InterfaceNumber())
	case device.RecipientEndpoint:
		if n := req.EndpointNumber(); n <= device.MaxEndpointNumber {
			slot, ok = r.table.ByEndpointNumber(n)
		}
	case device.RecipientDevice:
		slot, ok = r.table.Default()
	}
	if !ok {
		return nil, errors.Wrapf(pkg.ErrNoOwningSlot, "%s", req.String())
	}
	return slot, nil
}

// ResolveEndpoint returns the slot owning endpoint address, direction
// bit included. Endpoint 0 belongs to no slot.
func (r *Router) ResolveEndpoint(address uint8) (*FunctionSlot, error) {
	if n := address &^ device.EndpointDirectionIn; n == 0 || n > device.MaxEndpointNumber {
		return nil, errors.Wrapf(pkg.ErrNoOwningSlot, "endpoint 0x%02X", address)
	}
	slot, ok := r.table.ByAddress(address)
	if !ok {
		return nil, errors.Wrapf(pkg.ErrNoOwningSlot, "endpoint 0x%02X", address)
	}
	return slot, nil
}
