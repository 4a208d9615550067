package composite

import (
	"fmt"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/class/cdc"
	"github.com/ardnew/compusb/device/hal"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Dispatcher is the class-driver surface a USB core calls. It resolves
// every event to a function slot and forwards it to the CDC handler or
// the slot's foreign driver. All per-slot state lives in the Registry.
type Dispatcher struct {
	dev     *device.Device
	router  *Router
	reg     *Registry
	periph  hal.Peripheral
	handler *cdc.Handler
	std     *device.StandardRequestHandler
}

// NewDispatcher creates a dispatcher for dev routing over table. Events
// for CDC slots reach the callbacks registered in reg.
func NewDispatcher(dev *device.Device, table *SlotTable, reg *Registry, periph hal.Peripheral) *Dispatcher {
	return &Dispatcher{
		dev:     dev,
		router:  NewRouter(table),
		reg:     reg,
		periph:  periph,
		handler: cdc.NewHandler(periph, upstream{r: reg}),
		std:     device.NewStandardRequestHandler(dev),
	}
}

// Router returns the request router.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// Registry returns the instance registry.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// Device returns the device state.
func (d *Dispatcher) Device() *device.Device {
	return d.dev
}

// Configure applies SET_CONFIGURATION: a nonzero value initializes every
// slot, zero tears them down.
func (d *Dispatcher) Configure(value uint8) error {
	if err := d.dev.SetConfiguration(value); err != nil {
		return err
	}
	if value == 0 {
		return d.DeInit()
	}
	return d.Init()
}

// Init brings up every slot of the table.
//
// All CDC instances are acquired before any endpoint is opened; if the
// pool runs out, the instances taken so far are released and nothing is
// opened. A slot that fails to start rolls back every slot started
// before it.
func (d *Dispatcher) Init() error {
	table := d.router.Table()
	profile := d.dev.Speed().Profile()

	if err := d.DeInit(); err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "teardown before init reported error",
			"error", err)
	}

	for i := 0; i < table.Len(); i++ {
		slot := table.At(i)
		if slot.Kind != KindForeign {
			continue
		}
		if _, ok := d.reg.Foreign(slot.ID); !ok {
			return errors.Wrapf(pkg.ErrInvalidParameter, "%s: no driver registered", slot)
		}
	}

	instances := make([]*cdc.Instance, table.Len())
	release := func(from int) {
		for j := from; j < len(instances); j++ {
			d.reg.Pool().Release(instances[j])
			instances[j] = nil
		}
	}

	for i := 0; i < table.Len(); i++ {
		slot := table.At(i)
		if slot.Kind != KindCDC {
			continue
		}
		inst, err := d.reg.Pool().Acquire(slot.ID, slot.CDCEndpoints(), profile)
		if err != nil {
			release(0)
			pkg.LogError(pkg.ComponentDispatch, "instance allocation failed",
				"slot", slot.ID, "error", err)
			return err
		}
		instances[i] = inst
	}

	for i := 0; i < table.Len(); i++ {
		slot := table.At(i)
		if err := d.start(slot, instances[i], profile); err != nil {
			release(i)
			for j := i - 1; j >= 0; j-- {
				d.stop(table.At(j))
			}
			pkg.LogError(pkg.ComponentDispatch, "slot init failed",
				"slot", slot.ID, "error", err)
			return err
		}
	}

	pkg.LogInfo(pkg.ComponentDispatch, "composite initialized",
		"slots", table.Len(),
		"speed", d.dev.Speed().String())
	return nil
}

// start opens the endpoints of slot and starts its handler.
func (d *Dispatcher) start(slot *FunctionSlot, inst *cdc.Instance, profile device.PacketProfile) error {
	opened := 0
	for _, ep := range slot.Endpoints {
		if err := d.periph.OpenEndpoint(ep.Address, ep.Kind.TransferType(), ep.MaxPacketSize(profile)); err != nil {
			d.closeEndpoints(slot.Endpoints[:opened])
			return errors.Wrapf(err, "%s: open %s", slot, ep)
		}
		opened++
		pkg.LogDebug(pkg.ComponentEndpoint, "endpoint opened",
			"slot", slot.ID,
			"address", fmt.Sprintf("0x%02X", ep.Address),
			"kind", ep.Kind.String(),
			"maxPacketSize", ep.MaxPacketSize(profile))
	}

	var err error
	switch slot.Kind {
	case KindCDC:
		d.reg.activate(slot.ID, inst)
		err = d.handler.Start(inst)
	case KindForeign:
		drv, _ := d.reg.Foreign(slot.ID)
		err = drv.Init(slot, profile)
		if err == nil {
			d.reg.activate(slot.ID, nil)
		}
	}
	if err != nil {
		d.reg.deactivate(slot.ID)
		d.closeEndpoints(slot.Endpoints)
		return errors.Wrapf(err, "%s", slot)
	}
	return nil
}

// DeInit tears down every live slot: endpoints are closed, the upstream
// consumer or foreign driver is notified, and instances are released.
// Calling it again, or before Init, does nothing.
func (d *Dispatcher) DeInit() error {
	table := d.router.Table()
	var first error
	for i := 0; i < table.Len(); i++ {
		if err := d.stop(table.At(i)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// stop tears down one slot if it is live.
func (d *Dispatcher) stop(slot *FunctionSlot) error {
	inst, was := d.reg.deactivate(slot.ID)
	if !was {
		return nil
	}

	d.closeEndpoints(slot.Endpoints)

	var err error
	switch slot.Kind {
	case KindCDC:
		if inst != nil {
			err = d.handler.Stop(inst)
			d.reg.Pool().Release(inst)
		}
	case KindForeign:
		if drv, ok := d.reg.Foreign(slot.ID); ok {
			err = drv.DeInit(slot)
		}
	}

	pkg.LogDebug(pkg.ComponentDispatch, "slot stopped", "slot", slot.ID)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "slot teardown reported error",
			"slot", slot.ID, "error", err)
	}
	return err
}

func (d *Dispatcher) closeEndpoints(eps []device.OwnedEndpoint) {
	for _, ep := range eps {
		if err := d.periph.CloseEndpoint(ep.Address); err != nil {
			pkg.LogWarn(pkg.ComponentEndpoint, "close failed",
				"address", fmt.Sprintf("0x%02X", ep.Address), "error", err)
		}
	}
}

// Setup routes a control request. Any failure stalls the control
// endpoint and is returned.
func (d *Dispatcher) Setup(req *device.ControlRequest) error {
	err := d.setup(req)
	if err != nil {
		pkg.LogDebug(pkg.ComponentRouter, "request stalled",
			"request", req.String(), "error", err)
		if serr := d.periph.ControlStall(); serr != nil {
			pkg.LogWarn(pkg.ComponentRouter, "stall failed", "error", serr)
		}
	}
	return err
}

func (d *Dispatcher) setup(req *device.ControlRequest) error {
	d.cancelPending()

	slot, err := d.router.Resolve(req)
	if err != nil {
		if req.Recipient == device.RecipientDevice && req.Type == device.TypeStandard {
			return d.standard(req)
		}
		return err
	}

	pkg.LogDebug(pkg.ComponentRouter, "request resolved",
		"slot", slot.ID, "request", req.String())

	if slot.Kind == KindForeign && d.reg.IsActive(slot.ID) {
		drv, _ := d.reg.Foreign(slot.ID)
		return drv.Setup(slot, req)
	}

	switch req.Type {
	case device.TypeStandard:
		return d.standard(req)
	case device.TypeClass:
		if slot.Kind != KindCDC {
			return errors.Wrapf(pkg.ErrInstanceAbsent, "%s", slot)
		}
		inst, err := d.reg.Instance(slot.ID)
		if err != nil {
			return err
		}
		return d.handler.Setup(inst, req)
	default:
		return errors.Wrapf(pkg.ErrUnsupportedRequest, "%s: %s", slot, req.String())
	}
}

// standard answers a standard request from device state alone.
func (d *Dispatcher) standard(req *device.ControlRequest) error {
	data, err := d.std.HandleSetup(req)
	if err != nil {
		return err
	}
	if req.IsIn() && req.HasData() {
		return d.periph.ControlSend(data)
	}
	return nil
}

// cancelPending drops commands staged by an earlier Setup whose data
// stage never arrived.
func (d *Dispatcher) cancelPending() {
	table := d.router.Table()
	for i := 0; i < table.Len(); i++ {
		slot := table.At(i)
		if slot.Kind != KindCDC {
			continue
		}
		if inst, err := d.reg.Instance(slot.ID); err == nil {
			inst.CancelPending()
		}
	}
}

// ControlRxReady delivers a control OUT data stage to whichever function
// staged a command for it. It does nothing when none did.
func (d *Dispatcher) ControlRxReady() error {
	table := d.router.Table()
	for i := 0; i < table.Len(); i++ {
		slot := table.At(i)

		var (
			handled bool
			err     error
		)
		switch slot.Kind {
		case KindCDC:
			inst, ierr := d.reg.Instance(slot.ID)
			if ierr != nil {
				continue
			}
			handled, err = d.handler.ControlRxReady(inst)
		case KindForeign:
			if !d.reg.IsActive(slot.ID) {
				continue
			}
			drv, _ := d.reg.Foreign(slot.ID)
			handled, err = drv.ControlRxReady(slot)
		}
		if handled {
			return err
		}
	}
	return nil
}

// DataIn routes completion of an IN transfer on endpoint number epnum.
// Only the slot owning the IN address of that number receives it.
func (d *Dispatcher) DataIn(epnum uint8) error {
	if epnum > device.MaxEndpointNumber {
		return errors.Wrapf(pkg.ErrNoOwningSlot, "IN endpoint %d", epnum)
	}
	slot, err := d.router.ResolveEndpoint(epnum | device.EndpointDirectionIn)
	if err != nil {
		return err
	}
	switch slot.Kind {
	case KindCDC:
		inst, err := d.reg.Instance(slot.ID)
		if err != nil {
			return err
		}
		return d.handler.DataIn(inst, epnum)
	default:
		drv, err := d.foreign(slot)
		if err != nil {
			return err
		}
		return drv.DataIn(slot, epnum)
	}
}

// DataOut routes completion of an OUT transfer on endpoint number epnum.
// Only the slot owning the OUT address of that number receives it.
func (d *Dispatcher) DataOut(epnum uint8) error {
	if epnum > device.MaxEndpointNumber {
		return errors.Wrapf(pkg.ErrNoOwningSlot, "OUT endpoint %d", epnum)
	}
	slot, err := d.router.ResolveEndpoint(epnum)
	if err != nil {
		return err
	}
	switch slot.Kind {
	case KindCDC:
		inst, err := d.reg.Instance(slot.ID)
		if err != nil {
			return err
		}
		return d.handler.DataOut(inst, epnum)
	default:
		drv, err := d.foreign(slot)
		if err != nil {
			return err
		}
		return drv.DataOut(slot, epnum)
	}
}

// foreign returns the driver of a live foreign slot.
func (d *Dispatcher) foreign(slot *FunctionSlot) (ForeignDriver, error) {
	if !d.reg.IsActive(slot.ID) {
		return nil, errors.Wrapf(pkg.ErrInstanceAbsent, "%s", slot)
	}
	drv, ok := d.reg.Foreign(slot.ID)
	if !ok {
		return nil, errors.Wrapf(pkg.ErrInstanceAbsent, "%s: no driver", slot)
	}
	return drv, nil
}

// instance returns the live CDC instance of slot id.
func (d *Dispatcher) instance(id uint8) (*cdc.Instance, error) {
	slot, ok := d.router.Table().Slot(id)
	if !ok {
		return nil, errors.Wrapf(pkg.ErrNoOwningSlot, "slot %d", id)
	}
	if slot.Kind != KindCDC {
		return nil, errors.Wrapf(pkg.ErrInvalidParameter, "%s is not a serial port", slot)
	}
	return d.reg.Instance(id)
}

// Transmit sends buf on the bulk IN endpoint of CDC slot id. buf must
// stay untouched until the TransmitComplete callback for it.
func (d *Dispatcher) Transmit(id uint8, buf []byte) error {
	inst, err := d.instance(id)
	if err != nil {
		return err
	}
	return d.handler.Transmit(inst, buf)
}

// SendSerialState notifies the host of the serial line state of CDC
// slot id.
func (d *Dispatcher) SendSerialState(id uint8, state uint16) error {
	inst, err := d.instance(id)
	if err != nil {
		return err
	}
	return d.handler.SendSerialState(inst, state)
}

// LineCoding returns the line coding last set by the host on CDC slot id.
func (d *Dispatcher) LineCoding(id uint8) (cdc.LineCoding, error) {
	inst, err := d.instance(id)
	if err != nil {
		return cdc.LineCoding{}, err
	}
	return inst.LineCoding(), nil
}

// Instance returns the live CDC instance of slot id.
func (d *Dispatcher) Instance(id uint8) (*cdc.Instance, error) {
	return d.instance(id)
}
