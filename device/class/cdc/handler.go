package cdc

import (
	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/hal"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Handler drives the transfer state machine of CDC instances. It holds no
// per-instance state of its own; every method operates on the Instance
// passed in, so one Handler serves all CDC functions of a device.
type Handler struct {
	periph    hal.Peripheral
	callbacks Callbacks
}

// NewHandler creates a handler issuing transfers on periph and reporting
// events to cb. A nil cb discards all events.
func NewHandler(periph hal.Peripheral, cb Callbacks) *Handler {
	if cb == nil {
		cb = Funcs{}
	}
	return &Handler{periph: periph, callbacks: cb}
}

// Callbacks returns the upstream callbacks.
func (h *Handler) Callbacks() Callbacks {
	return h.callbacks
}

// Start notifies the upstream consumer that inst is live and arms the
// first reception. Endpoints must already be open.
func (h *Handler) Start(inst *Instance) error {
	inst.mutex.Lock()
	id := inst.id
	inst.mutex.Unlock()

	if err := h.callbacks.Init(id); err != nil {
		return errors.Wrapf(err, "cdc %d: init", id)
	}
	if err := h.arm(inst); err != nil {
		if derr := h.callbacks.DeInit(id); derr != nil {
			pkg.LogWarn(pkg.ComponentCDC, "deinit after failed start",
				"instance", id, "error", derr)
		}
		return err
	}
	return nil
}

// Stop notifies the upstream consumer that inst is being torn down.
func (h *Handler) Stop(inst *Instance) error {
	inst.mutex.Lock()
	id := inst.id
	inst.txState = Idle
	inst.rxState = Idle
	inst.notifyBusy = false
	inst.pending = Command{Opcode: NoCommand}
	inst.mutex.Unlock()

	if err := h.callbacks.DeInit(id); err != nil {
		return errors.Wrapf(err, "cdc %d: deinit", id)
	}
	return nil
}

// Setup handles a class request addressed to inst.
//
// Requests without a data stage are dispatched immediately. IN requests
// are dispatched with the staging buffer, which is then sent to the host.
// OUT requests are staged and the control endpoint is armed; dispatch
// happens in ControlRxReady.
func (h *Handler) Setup(inst *Instance, req *device.ControlRequest) error {
	if req.Type != device.TypeClass {
		return errors.Wrapf(pkg.ErrUnsupportedRequest, "cdc: %s", req.String())
	}

	if !req.HasData() {
		return h.dispatch(inst, req.Request, req.Value, nil)
	}

	n := int(req.Length)
	if n > CommandBufferSize {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "cdc: %s: %d > %d",
			RequestName(req.Request), n, CommandBufferSize)
	}

	inst.mutex.Lock()
	buf := inst.staging[:n]
	if !req.IsIn() {
		inst.pending = Command{Opcode: req.Request, Value: req.Value, Length: req.Length}
	}
	inst.mutex.Unlock()

	if req.IsIn() {
		if err := h.dispatch(inst, req.Request, req.Value, buf); err != nil {
			return err
		}
		return h.periph.ControlSend(buf)
	}

	if err := h.periph.ControlPrepareReceive(buf); err != nil {
		inst.CancelPending()
		return errors.Wrap(err, "cdc: arm control data stage")
	}
	return nil
}

// ControlRxReady dispatches the command staged by Setup now that its
// data stage has arrived. It reports whether inst had a staged command.
//
// A data stage shorter than wLength drops the command without
// dispatching it.
func (h *Handler) ControlRxReady(inst *Instance) (bool, error) {
	inst.mutex.Lock()
	cmd := inst.pending
	if cmd.Opcode == NoCommand {
		inst.mutex.Unlock()
		return false, nil
	}
	inst.pending = Command{Opcode: NoCommand}
	id := inst.id
	inst.mutex.Unlock()

	n := h.periph.ReceivedLength(hal.ControlAddress)
	if n < int(cmd.Length) {
		return true, errors.Wrapf(pkg.ErrBufferTooSmall, "cdc %d: %s data stage of %d/%d bytes",
			id, RequestName(cmd.Opcode), n, cmd.Length)
	}

	inst.mutex.Lock()
	payload := inst.staging[:cmd.Length]
	inst.mutex.Unlock()

	return true, h.dispatch(inst, cmd.Opcode, cmd.Value, payload)
}

// dispatch applies line coding commands to the instance record and
// forwards every command to the Control callback.
func (h *Handler) dispatch(inst *Instance, opcode uint8, value uint16, payload []byte) error {
	inst.mutex.Lock()
	id := inst.id
	switch opcode {
	case RequestSetLineCoding:
		if !ParseLineCoding(payload, &inst.lineCoding) {
			inst.mutex.Unlock()
			return errors.Wrapf(pkg.ErrBufferTooSmall, "cdc %d: line coding of %d bytes", id, len(payload))
		}
		pkg.LogDebug(pkg.ComponentCDC, "line coding set",
			"instance", id,
			"baud", inst.lineCoding.DTERate,
			"dataBits", inst.lineCoding.DataBits,
			"parity", inst.lineCoding.ParityType,
			"stopBits", inst.lineCoding.CharFormat)
	case RequestSetControlLineState:
		pkg.LogDebug(pkg.ComponentCDC, "control line state",
			"instance", id,
			"dtr", value&ControlLineDTR != 0,
			"rts", value&ControlLineRTS != 0)
	}
	lc := inst.lineCoding
	inst.mutex.Unlock()

	err := h.callbacks.Control(id, opcode, value, payload)

	if opcode == RequestGetLineCoding {
		var raw [LineCodingSize]byte
		lc.MarshalTo(raw[:])
		copy(payload, raw[:])
	}

	if err != nil {
		return errors.Wrapf(err, "cdc %d: %s", id, RequestName(opcode))
	}
	return nil
}

// Transmit starts sending buf on the bulk IN endpoint. buf is borrowed
// until TransmitComplete reports it. Fails with pkg.ErrInstanceBusy while
// a previous transmission is in flight.
func (h *Handler) Transmit(inst *Instance, buf []byte) error {
	inst.mutex.Lock()
	if inst.txState == Busy {
		id := inst.id
		inst.mutex.Unlock()
		return errors.Wrapf(pkg.ErrInstanceBusy, "cdc %d: transmit", id)
	}
	inst.txState = Busy
	inst.txBuf = buf
	inst.txLength = len(buf)
	inst.txTotalLength = len(buf)
	ep := inst.endpoints.In
	inst.mutex.Unlock()

	if err := h.periph.Transmit(ep, buf); err != nil {
		inst.mutex.Lock()
		inst.txState = Idle
		inst.txBuf = nil
		inst.mutex.Unlock()
		return errors.Wrapf(err, "cdc: transmit on 0x%02X", ep)
	}
	return nil
}

// DataIn handles completion of an IN transfer on endpoint number epnum.
//
// A transfer whose length is a nonzero multiple of the max packet size is
// terminated with a zero-length packet before it is reported complete.
func (h *Handler) DataIn(inst *Instance, epnum uint8) error {
	inst.mutex.Lock()

	if epnum == device.EndpointNumber(inst.endpoints.Notify) {
		inst.notifyBusy = false
		inst.mutex.Unlock()
		return nil
	}

	id := inst.id
	if epnum != device.EndpointNumber(inst.endpoints.In) {
		inst.mutex.Unlock()
		return errors.Wrapf(pkg.ErrNoOwningSlot, "cdc %d: IN endpoint %d", id, epnum)
	}
	if inst.txState != Busy {
		inst.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentCDC, "spurious IN completion",
			"instance", id, "endpoint", epnum)
		return nil
	}

	if inst.txTotalLength > 0 && inst.txTotalLength%int(inst.maxPacket) == 0 {
		inst.txTotalLength = 0
		ep := inst.endpoints.In
		inst.mutex.Unlock()

		pkg.LogDebug(pkg.ComponentCDC, "terminating with ZLP", "instance", id)
		if err := h.periph.Transmit(ep, nil); err != nil {
			return errors.Wrapf(err, "cdc %d: zero-length packet", id)
		}
		return nil
	}

	inst.txState = Idle
	buf := inst.txBuf
	length := inst.txLength
	inst.txBuf = nil
	inst.mutex.Unlock()

	err := h.callbacks.TransmitComplete(id, buf, &length, epnum)

	inst.mutex.Lock()
	if inst.txState == Idle {
		inst.txLength = length
	}
	inst.mutex.Unlock()

	if err != nil {
		return errors.Wrapf(err, "cdc %d: transmit complete", id)
	}
	return nil
}

// DataOut handles completion of a reception on endpoint number epnum,
// which must be the bulk OUT endpoint of inst. The data is passed to the
// Receive callback and the endpoint is re-armed before returning, whether
// or not the callback succeeded.
func (h *Handler) DataOut(inst *Instance, epnum uint8) error {
	inst.mutex.Lock()
	ep := inst.endpoints.Out
	id := inst.id
	inst.mutex.Unlock()

	if epnum != device.EndpointNumber(ep) {
		return errors.Wrapf(pkg.ErrNoOwningSlot, "cdc %d: OUT endpoint %d", id, epnum)
	}

	n := h.periph.ReceivedLength(ep)

	inst.mutex.Lock()
	if n > len(inst.rxBuf) {
		n = len(inst.rxBuf)
	}
	inst.rxLength = n
	inst.rxState = Idle
	buf := inst.rxBuf[:n]
	inst.mutex.Unlock()

	rerr := h.callbacks.Receive(id, buf)
	aerr := h.arm(inst)

	if rerr != nil {
		return errors.Wrapf(rerr, "cdc %d: receive", id)
	}
	return aerr
}

// arm prepares the bulk OUT endpoint for the next reception.
func (h *Handler) arm(inst *Instance) error {
	inst.mutex.Lock()
	inst.rxState = Busy
	ep := inst.endpoints.Out
	buf := inst.rxBuf
	id := inst.id
	inst.mutex.Unlock()

	if err := h.periph.PrepareReceive(ep, buf); err != nil {
		inst.mutex.Lock()
		inst.rxState = Idle
		inst.mutex.Unlock()
		return errors.Wrapf(err, "cdc %d: arm 0x%02X", id, ep)
	}
	return nil
}

// SendSerialState sends a SERIAL_STATE notification carrying state on the
// interrupt endpoint. Fails with pkg.ErrInstanceBusy until the previous
// notification completes.
func (h *Handler) SendSerialState(inst *Instance, state uint16) error {
	inst.mutex.Lock()
	if inst.notifyBusy {
		id := inst.id
		inst.mutex.Unlock()
		return errors.Wrapf(pkg.ErrInstanceBusy, "cdc %d: notification", id)
	}

	iface := inst.endpoints.Interface
	// bmRequestType 0xA1: device-to-host, class, interface
	buf := inst.notifyBuf[:]
	buf[0] = 0xA1
	buf[1] = NotificationSerialState
	buf[2] = 0
	buf[3] = 0
	buf[4] = iface
	buf[5] = 0
	buf[6] = 2
	buf[7] = 0
	buf[8] = byte(state)
	buf[9] = byte(state >> 8)

	inst.notifyBusy = true
	inst.serialState = state
	ep := inst.endpoints.Notify
	inst.mutex.Unlock()

	if err := h.periph.Transmit(ep, buf); err != nil {
		inst.mutex.Lock()
		inst.notifyBusy = false
		inst.mutex.Unlock()
		return errors.Wrapf(err, "cdc: notify on 0x%02X", ep)
	}
	return nil
}
