package msc

import (
	"fmt"
	"sync"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/composite"
	"github.com/ardnew/compusb/device/hal"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// botState is the phase of the bulk-only transport.
type botState uint8

const (
	stateIdle    botState = iota // not configured
	stateCommand                 // waiting for a CBW
	stateDataIn                  // data stage queued on the IN endpoint
	stateDataOut                 // receiving the data stage
	stateStatus                  // CSW queued on the IN endpoint
)

func (s botState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCommand:
		return "command"
	case stateDataIn:
		return "data-in"
	case stateDataOut:
		return "data-out"
	case stateStatus:
		return "status"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// maxPacketBuffer covers the bulk max packet size at every speed.
const maxPacketBuffer = device.BulkMaxPacketSizeHS

// Driver runs the bulk-only transport for a mass-storage function slot.
// It is registered with a composite.Registry as the slot's foreign
// driver and executes commands through a Transport.
type Driver struct {
	periph    hal.Peripheral
	std       *device.StandardRequestHandler
	transport Transport

	in, out   uint8
	maxPacket int
	state     botState

	cbw      CommandBlockWrapper
	data     []byte // data stage target or source
	expected int    // dCBWDataTransferLength
	received int    // data-out bytes received so far
	chunk    int    // length of the armed data-out buffer
	discard  bool   // data-out stage is drained, not kept
	status   uint8

	cbwBuf  [maxPacketBuffer]byte
	cswBuf  [CSWSize]byte
	lunBuf  [1]byte
	scratch [maxPacketBuffer]byte

	mutex sync.Mutex
}

// New creates a driver answering standard requests from dev state and
// executing SCSI commands on transport.
func New(periph hal.Peripheral, dev *device.Device, transport Transport) *Driver {
	return &Driver{
		periph:    periph,
		std:       device.NewStandardRequestHandler(dev),
		transport: transport,
	}
}

// Transport returns the command executor.
func (d *Driver) Transport() Transport {
	return d.transport
}

// Init implements composite.ForeignDriver. The slot must own one bulk IN
// and one bulk OUT endpoint.
func (d *Driver) Init(slot *composite.FunctionSlot, profile device.PacketProfile) error {
	in, ok := slot.Endpoint(device.KindBulkIn)
	if !ok {
		return errors.Wrapf(pkg.ErrInvalidParameter, "%s: no bulk IN endpoint", slot)
	}
	out, ok := slot.Endpoint(device.KindBulkOut)
	if !ok {
		return errors.Wrapf(pkg.ErrInvalidParameter, "%s: no bulk OUT endpoint", slot)
	}

	d.mutex.Lock()
	d.in, d.out = in.Address, out.Address
	d.maxPacket = int(in.MaxPacketSize(profile))
	if d.maxPacket > maxPacketBuffer {
		d.maxPacket = maxPacketBuffer
	}
	d.mutex.Unlock()

	d.transport.Reset()

	pkg.LogInfo(pkg.ComponentMSC, "bulk-only transport started",
		"slot", slot.ID,
		"in", fmt.Sprintf("0x%02X", d.in),
		"out", fmt.Sprintf("0x%02X", d.out),
		"maxPacketSize", d.maxPacket)

	return d.armCommand()
}

// DeInit implements composite.ForeignDriver.
func (d *Driver) DeInit(slot *composite.FunctionSlot) error {
	d.mutex.Lock()
	d.state = stateIdle
	d.data = nil
	d.mutex.Unlock()

	d.transport.Reset()
	pkg.LogDebug(pkg.ComponentMSC, "bulk-only transport stopped", "slot", slot.ID)
	return nil
}

// State returns the transport phase name.
func (d *Driver) State() string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state.String()
}

// Setup implements composite.ForeignDriver. The slot receives every
// request addressed to its interface or endpoints, standard ones
// included.
func (d *Driver) Setup(slot *composite.FunctionSlot, req *device.ControlRequest) error {
	switch req.Type {
	case device.TypeStandard:
		data, err := d.std.HandleSetup(req)
		if err != nil {
			return err
		}
		if req.IsIn() && req.HasData() {
			return d.periph.ControlSend(data)
		}
		return nil

	case device.TypeClass:
		switch req.Request {
		case RequestBulkOnlyMassStorageReset:
			if req.IsIn() || req.Value != 0 || req.Length != 0 {
				return errors.Wrapf(pkg.ErrUnsupportedRequest, "%s: malformed reset", slot)
			}
			pkg.LogInfo(pkg.ComponentMSC, "bulk-only reset", "slot", slot.ID)
			d.transport.Reset()
			return d.armCommand()

		case RequestGetMaxLUN:
			if !req.IsIn() || req.Value != 0 || req.Length < 1 {
				return errors.Wrapf(pkg.ErrUnsupportedRequest, "%s: malformed GET_MAX_LUN", slot)
			}
			d.mutex.Lock()
			d.lunBuf[0] = d.transport.MaxLUN()
			buf := d.lunBuf[:]
			d.mutex.Unlock()
			return d.periph.ControlSend(buf)
		}
	}
	return errors.Wrapf(pkg.ErrUnsupportedRequest, "%s: %s", slot, req.String())
}

// ControlRxReady implements composite.ForeignDriver. The transport has no
// class request with an OUT data stage.
func (d *Driver) ControlRxReady(*composite.FunctionSlot) (bool, error) {
	return false, nil
}

// DataOut implements composite.ForeignDriver.
func (d *Driver) DataOut(slot *composite.FunctionSlot, _ uint8) error {
	d.mutex.Lock()
	state, out := d.state, d.out
	d.mutex.Unlock()

	n := d.periph.ReceivedLength(out)

	switch state {
	case stateCommand:
		return d.command(slot, n)
	case stateDataOut:
		return d.dataReceived(n)
	default:
		pkg.LogWarn(pkg.ComponentMSC, "unexpected OUT packet",
			"slot", slot.ID, "state", state.String(), "length", n)
		return d.armCommand()
	}
}

// DataIn implements composite.ForeignDriver.
func (d *Driver) DataIn(slot *composite.FunctionSlot, _ uint8) error {
	d.mutex.Lock()
	state := d.state
	d.mutex.Unlock()

	switch state {
	case stateDataIn:
		return d.sendStatus()
	case stateStatus:
		return d.armCommand()
	default:
		pkg.LogDebug(pkg.ComponentMSC, "spurious IN completion",
			"slot", slot.ID, "state", state.String())
		return nil
	}
}

// armCommand waits for the next CBW.
func (d *Driver) armCommand() error {
	d.mutex.Lock()
	d.state = stateCommand
	d.data = nil
	out, buf := d.out, d.cbwBuf[:d.maxPacket]
	d.mutex.Unlock()

	return d.periph.PrepareReceive(out, buf)
}

// command decodes a CBW of n bytes and starts its data or status stage.
func (d *Driver) command(slot *composite.FunctionSlot, n int) error {
	d.mutex.Lock()
	ok := ParseCBW(d.cbwBuf[:n], &d.cbw)
	cbw := d.cbw
	d.mutex.Unlock()

	if !ok {
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW", "slot", slot.ID, "length", n)
		if err := d.armCommand(); err != nil {
			return err
		}
		return errors.Wrapf(pkg.ErrInvalidParameter, "%s: invalid CBW of %d bytes", slot, n)
	}

	data, status := d.transport.Command(&cbw)
	expected := int(cbw.DataTransferLength)

	d.mutex.Lock()
	d.expected = expected
	d.received = 0
	d.status = status
	d.mutex.Unlock()

	switch {
	case expected == 0:
		if len(data) > 0 {
			d.setStatus(CSWStatusPhaseError)
		}
		return d.sendStatus()

	case cbw.IsDataIn():
		if status != CSWStatusGood || len(data) == 0 {
			return d.sendStatus()
		}
		if len(data) > expected {
			data = data[:expected]
		}
		d.mutex.Lock()
		d.state = stateDataIn
		d.received = len(data)
		in := d.in
		d.mutex.Unlock()
		return d.periph.Transmit(in, data)

	default:
		d.mutex.Lock()
		d.state = stateDataOut
		d.data = data
		d.discard = status != CSWStatusGood || len(data) == 0
		d.mutex.Unlock()
		return d.armData()
	}
}

// armData arms the OUT endpoint for the next data-out chunk.
func (d *Driver) armData() error {
	d.mutex.Lock()
	chunk := d.expected - d.received
	if chunk > d.maxPacket {
		chunk = d.maxPacket
	}
	var buf []byte
	if !d.discard && d.received < len(d.data) {
		end := d.received + chunk
		if end > len(d.data) {
			end = len(d.data)
		}
		buf = d.data[d.received:end]
	} else {
		buf = d.scratch[:chunk]
	}
	d.chunk = len(buf)
	out := d.out
	d.mutex.Unlock()

	return d.periph.PrepareReceive(out, buf)
}

// dataReceived accounts for n data-out bytes and either re-arms or
// completes the command.
func (d *Driver) dataReceived(n int) error {
	d.mutex.Lock()
	d.received += n
	done := d.received >= d.expected || n < d.chunk
	kept := d.received
	if kept > len(d.data) {
		kept = len(d.data)
	}
	discard := d.discard
	cbw := d.cbw
	d.mutex.Unlock()

	if !done {
		return d.armData()
	}

	if discard {
		d.mutex.Lock()
		d.received = 0
		d.mutex.Unlock()
	} else {
		d.setStatus(d.transport.DataReceived(&cbw, kept))
	}
	return d.sendStatus()
}

func (d *Driver) setStatus(status uint8) {
	d.mutex.Lock()
	d.status = status
	d.mutex.Unlock()
}

// sendStatus queues the CSW for the current command.
func (d *Driver) sendStatus() error {
	d.mutex.Lock()
	residue := d.expected - d.received
	if residue < 0 {
		residue = 0
	}
	csw := CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         d.cbw.Tag,
		DataResidue: uint32(residue),
		Status:      d.status,
	}
	csw.MarshalTo(d.cswBuf[:])
	d.state = stateStatus
	d.data = nil
	in, buf := d.in, d.cswBuf[:]
	d.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentMSC, "CSW",
		"tag", csw.Tag,
		"residue", csw.DataResidue,
		"status", csw.Status)

	return d.periph.Transmit(in, buf)
}

var _ composite.ForeignDriver = (*Driver)(nil)
