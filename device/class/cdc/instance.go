package cdc

import (
	"fmt"
	"sync"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// XferState is the state of one transfer direction of an instance.
type XferState uint8

// Transfer states.
const (
	Idle XferState = iota
	Busy
)

// String returns the state name.
func (s XferState) String() string {
	if s == Busy {
		return "busy"
	}
	return "idle"
}

// NoCommand is the opcode of an empty staged command.
const NoCommand = 0xFF

// CommandBufferSize is the capacity of the control staging buffer.
const CommandBufferSize = device.BulkMaxPacketSizeHS

// DefaultPoolCapacity is the number of instances a pool holds when no
// capacity is given.
const DefaultPoolCapacity = 2

// Command is a class command whose data stage has not yet arrived.
type Command struct {
	Opcode uint8
	Value  uint16
	Length uint16
}

// Endpoints are the addresses and control interface of one CDC function.
type Endpoints struct {
	Interface uint8 // communication (control) interface number
	Notify    uint8 // interrupt IN
	In        uint8 // bulk IN
	Out       uint8 // bulk OUT
}

// String formats the endpoint set.
func (e Endpoints) String() string {
	return fmt.Sprintf("if=%d notify=0x%02X in=0x%02X out=0x%02X", e.Interface, e.Notify, e.In, e.Out)
}

// Instance is the per-function transfer state of one CDC serial port.
// All fields are guarded by mutex; the mutex is never held across
// peripheral calls or callbacks.
type Instance struct {
	id        uint8
	endpoints Endpoints
	maxPacket uint16

	txState       XferState
	txBuf         []byte
	txLength      int
	txTotalLength int

	rxState   XferState
	rxBuf     []byte
	rxLength  int
	rxStorage [device.BulkMaxPacketSizeHS]byte

	lineCoding  LineCoding
	pending     Command
	staging     [CommandBufferSize]byte
	notifyBusy  bool
	notifyBuf   [SerialStateNotificationSize]byte
	serialState uint16

	inUse bool
	mutex sync.Mutex
}

// reset prepares the instance for a new owner.
func (inst *Instance) reset(id uint8, eps Endpoints, profile device.PacketProfile) {
	inst.id = id
	inst.endpoints = eps
	inst.maxPacket = profile.BulkMaxPacketSize
	if int(inst.maxPacket) > len(inst.rxStorage) {
		inst.maxPacket = uint16(len(inst.rxStorage))
	}
	inst.txState = Idle
	inst.txBuf = nil
	inst.txLength = 0
	inst.txTotalLength = 0
	inst.rxState = Idle
	inst.rxBuf = inst.rxStorage[:inst.maxPacket]
	inst.rxLength = 0
	inst.lineCoding = DefaultLineCoding
	inst.pending = Command{Opcode: NoCommand}
	inst.notifyBusy = false
	inst.serialState = 0
}

// ID returns the slot id the instance serves.
func (inst *Instance) ID() uint8 {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.id
}

// Endpoints returns the instance's endpoint set.
func (inst *Instance) Endpoints() Endpoints {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.endpoints
}

// MaxPacketSize returns the bulk max packet size in effect.
func (inst *Instance) MaxPacketSize() uint16 {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.maxPacket
}

// TxState returns the transmit state.
func (inst *Instance) TxState() XferState {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.txState
}

// RxState returns the receive state.
func (inst *Instance) RxState() XferState {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.rxState
}

// TxLength returns the recorded length of the current or last transmission.
func (inst *Instance) TxLength() int {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.txLength
}

// RxLength returns the length of the last completed reception.
func (inst *Instance) RxLength() int {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.rxLength
}

// LineCoding returns the current line coding.
func (inst *Instance) LineCoding() LineCoding {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.lineCoding
}

// Pending returns the staged command, if any.
func (inst *Instance) Pending() (Command, bool) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.pending, inst.pending.Opcode != NoCommand
}

// CancelPending discards a staged command.
func (inst *Instance) CancelPending() {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	if inst.pending.Opcode != NoCommand {
		pkg.LogDebug(pkg.ComponentCDC, "staged command superseded",
			"instance", inst.id,
			"request", RequestName(inst.pending.Opcode))
	}
	inst.pending = Command{Opcode: NoCommand}
}

// SerialState returns the last serial state sent to the host.
func (inst *Instance) SerialState() uint16 {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.serialState
}

// Pool is a fixed-capacity store of instances. Storage is allocated once
// in NewPool; Acquire and Release never allocate.
type Pool struct {
	mutex     sync.Mutex
	instances []Instance
}

// NewPool creates a pool holding capacity instances.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &Pool{instances: make([]Instance, capacity)}
}

// Capacity returns the total number of instances.
func (p *Pool) Capacity() int {
	return len(p.instances)
}

// Available returns the number of free instances.
func (p *Pool) Available() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	n := 0
	for i := range p.instances {
		if !p.instances[i].inUse {
			n++
		}
	}
	return n
}

// Acquire takes a free instance and initializes it for slot id.
// Returns pkg.ErrResourceExhausted when the pool is empty.
func (p *Pool) Acquire(id uint8, eps Endpoints, profile device.PacketProfile) (*Instance, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := range p.instances {
		inst := &p.instances[i]
		if inst.inUse {
			continue
		}
		inst.mutex.Lock()
		inst.inUse = true
		inst.reset(id, eps, profile)
		inst.mutex.Unlock()
		return inst, nil
	}
	return nil, errors.Wrapf(pkg.ErrResourceExhausted, "slot %d: pool of %d", id, len(p.instances))
}

// Release returns inst to the pool. Releasing a free instance is a no-op.
func (p *Pool) Release(inst *Instance) {
	if inst == nil {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	inst.mutex.Lock()
	inst.inUse = false
	inst.txBuf = nil
	inst.rxBuf = nil
	inst.pending = Command{Opcode: NoCommand}
	inst.mutex.Unlock()
}
