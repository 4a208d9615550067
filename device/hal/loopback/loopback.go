package loopback

import (
	"fmt"
	"sync"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/hal"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Op identifies a recorded peripheral call.
type Op uint8

// Recorded operations.
const (
	OpOpen Op = iota
	OpClose
	OpTransmit
	OpPrepareReceive
	OpControlSend
	OpControlPrepareReceive
	OpControlStall
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpTransmit:
		return "transmit"
	case OpPrepareReceive:
		return "prepare-receive"
	case OpControlSend:
		return "control-send"
	case OpControlPrepareReceive:
		return "control-prepare-receive"
	case OpControlStall:
		return "control-stall"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Call is one recorded peripheral call.
type Call struct {
	Op      Op
	Address uint8
	Length  int
}

// endpoint is the simulated state of one endpoint address.
type endpoint struct {
	config   hal.EndpointConfig
	open     bool
	armed    []byte   // OUT: buffer of the pending reception
	received int      // OUT: length of the last completed reception
	queue    [][]byte // IN: packets awaiting the host
	arms     int      // OUT: PrepareReceive count
	sent     int      // IN: Transmit count
}

// Peripheral is an in-memory hal.Peripheral. It records every call and
// holds queued IN data and armed OUT buffers until a Host consumes them.
type Peripheral struct {
	mutex sync.Mutex

	endpoints [device.MaxEndpointAddresses]endpoint

	ctrlIn     []byte
	ctrlRx     []byte
	ctrlStalls int

	failOpen map[uint8]error
	calls    []Call
}

// New creates an empty loopback peripheral.
func New() *Peripheral {
	return &Peripheral{failOpen: make(map[uint8]error)}
}

// record appends a call to the log. Caller holds the mutex.
func (p *Peripheral) record(op Op, address uint8, length int) {
	p.calls = append(p.calls, Call{Op: op, Address: address, Length: length})
}

// FailOpen makes the next OpenEndpoint for address return err.
func (p *Peripheral) FailOpen(address uint8, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.failOpen[address] = err
}

// OpenEndpoint implements hal.Peripheral.
func (p *Peripheral) OpenEndpoint(address uint8, transferType uint8, maxPacketSize uint16) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err, ok := p.failOpen[address]; ok {
		delete(p.failOpen, address)
		return err
	}

	ep := &p.endpoints[device.EndpointIndex(address)]
	ep.config = hal.EndpointConfig{Address: address, Type: transferType, MaxPacketSize: maxPacketSize}
	ep.open = true
	ep.armed = nil
	ep.queue = nil
	p.record(OpOpen, address, int(maxPacketSize))

	pkg.LogDebug(pkg.ComponentHAL, "endpoint opened",
		"address", fmt.Sprintf("0x%02X", address),
		"maxPacketSize", maxPacketSize)
	return nil
}

// CloseEndpoint implements hal.Peripheral.
func (p *Peripheral) CloseEndpoint(address uint8) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ep := &p.endpoints[device.EndpointIndex(address)]
	ep.open = false
	ep.armed = nil
	ep.queue = nil
	p.record(OpClose, address, 0)
	return nil
}

// Transmit implements hal.Peripheral. The data is copied at queue time.
func (p *Peripheral) Transmit(address uint8, data []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ep := &p.endpoints[device.EndpointIndex(address)]
	if !ep.open {
		return errors.Wrapf(pkg.ErrInvalidParameter, "transmit on closed endpoint 0x%02X", address)
	}
	ep.queue = append(ep.queue, append([]byte{}, data...))
	ep.sent++
	p.record(OpTransmit, address, len(data))
	return nil
}

// PrepareReceive implements hal.Peripheral.
func (p *Peripheral) PrepareReceive(address uint8, buf []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ep := &p.endpoints[device.EndpointIndex(address)]
	if !ep.open {
		return errors.Wrapf(pkg.ErrInvalidParameter, "receive on closed endpoint 0x%02X", address)
	}
	ep.armed = buf
	ep.arms++
	p.record(OpPrepareReceive, address, len(buf))
	return nil
}

// ReceivedLength implements hal.Peripheral.
func (p *Peripheral) ReceivedLength(address uint8) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.endpoints[device.EndpointIndex(address)].received
}

// ControlSend implements hal.Peripheral.
func (p *Peripheral) ControlSend(data []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.ctrlIn = append([]byte{}, data...)
	p.record(OpControlSend, hal.ControlAddress|0x80, len(data))
	return nil
}

// ControlPrepareReceive implements hal.Peripheral.
func (p *Peripheral) ControlPrepareReceive(buf []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.ctrlRx = buf
	p.record(OpControlPrepareReceive, hal.ControlAddress, len(buf))
	return nil
}

// ControlStall implements hal.Peripheral.
func (p *Peripheral) ControlStall() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.ctrlStalls++
	p.record(OpControlStall, hal.ControlAddress, 0)
	return nil
}

// IsOpen reports whether address is open.
func (p *Peripheral) IsOpen(address uint8) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.endpoints[device.EndpointIndex(address)].open
}

// Config returns the configuration address was last opened with.
func (p *Peripheral) Config(address uint8) hal.EndpointConfig {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.endpoints[device.EndpointIndex(address)].config
}

// IsArmed reports whether an OUT endpoint has a pending reception.
func (p *Peripheral) IsArmed(address uint8) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.endpoints[device.EndpointIndex(address)].armed != nil
}

// ArmCount returns how many times address was armed.
func (p *Peripheral) ArmCount(address uint8) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.endpoints[device.EndpointIndex(address)].arms
}

// TransmitCount returns how many transmissions were queued on address.
func (p *Peripheral) TransmitCount(address uint8) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.endpoints[device.EndpointIndex(address)].sent
}

// Pending returns copies of the packets queued on an IN endpoint.
func (p *Peripheral) Pending(address uint8) [][]byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	q := p.endpoints[device.EndpointIndex(address)].queue
	out := make([][]byte, len(q))
	copy(out, q)
	return out
}

// ControlData returns the last control IN data stage.
func (p *Peripheral) ControlData() []byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.ctrlIn
}

// Stalls returns the number of control endpoint stalls.
func (p *Peripheral) Stalls() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.ctrlStalls
}

// Calls returns a copy of the recorded call log.
func (p *Peripheral) Calls() []Call {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// ResetCalls clears the call log.
func (p *Peripheral) ResetCalls() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls = nil
}

// deliver completes a reception on an OUT endpoint with data.
func (p *Peripheral) deliver(address uint8, data []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ep := &p.endpoints[device.EndpointIndex(address)]
	if !ep.open || ep.armed == nil {
		return errors.Wrapf(pkg.ErrNotArmed, "endpoint 0x%02X", address)
	}
	if len(data) > len(ep.armed) {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "endpoint 0x%02X: %d > %d", address, len(data), len(ep.armed))
	}
	ep.received = copy(ep.armed, data)
	ep.armed = nil
	return nil
}

// deliverControl completes the control OUT data stage with data.
func (p *Peripheral) deliverControl(data []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.ctrlRx == nil {
		return errors.Wrap(pkg.ErrNotArmed, "control endpoint")
	}
	if len(data) > len(p.ctrlRx) {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "control endpoint: %d > %d", len(data), len(p.ctrlRx))
	}
	p.endpoints[device.EndpointIndex(hal.ControlAddress)].received = copy(p.ctrlRx, data)
	p.ctrlRx = nil
	return nil
}

// pop removes the oldest packet queued on an IN endpoint.
func (p *Peripheral) pop(address uint8) ([]byte, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ep := &p.endpoints[device.EndpointIndex(address)]
	if len(ep.queue) == 0 {
		return nil, false
	}
	pkt := ep.queue[0]
	ep.queue = ep.queue[1:]
	return pkt, true
}

// beginControl clears per-transfer control state ahead of a SETUP.
func (p *Peripheral) beginControl() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.ctrlIn = nil
	p.ctrlRx = nil
	return p.ctrlStalls
}

// Compile-time interface check
var _ hal.Peripheral = (*Peripheral)(nil)
