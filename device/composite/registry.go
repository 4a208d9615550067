package composite

import (
	"sync"

	"github.com/ardnew/compusb/device/class/cdc"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Registry is the per-device storage behind a Dispatcher: the CDC
// instance pool, the instance bound to each live slot, and the registered
// upstream collaborators. It is owned by the device context and outlives
// any single configuration.
type Registry struct {
	mutex sync.RWMutex

	pool      *cdc.Pool
	callbacks cdc.Callbacks
	foreign   [256]ForeignDriver

	instances [256]*cdc.Instance
	active    [256]bool
}

// NewRegistry creates a registry whose pool holds capacity CDC instances.
func NewRegistry(capacity int) *Registry {
	return &Registry{pool: cdc.NewPool(capacity)}
}

// Pool returns the CDC instance pool.
func (r *Registry) Pool() *cdc.Pool {
	return r.pool
}

// RegisterCDC sets the callbacks shared by every CDC instance.
func (r *Registry) RegisterCDC(cb cdc.Callbacks) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.callbacks = cb
}

// CDCCallbacks returns the registered CDC callbacks, or nil.
func (r *Registry) CDCCallbacks() cdc.Callbacks {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.callbacks
}

// RegisterForeign binds drv to the foreign slot with the given id.
func (r *Registry) RegisterForeign(id uint8, drv ForeignDriver) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.foreign[id] = drv
}

// Foreign returns the driver registered for slot id.
func (r *Registry) Foreign(id uint8) (ForeignDriver, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	drv := r.foreign[id]
	return drv, drv != nil
}

// Instance returns the live CDC instance of slot id.
func (r *Registry) Instance(id uint8) (*cdc.Instance, error) {
	r.mutex.RLock()
	inst := r.instances[id]
	r.mutex.RUnlock()

	if inst == nil {
		return nil, errors.Wrapf(pkg.ErrInstanceAbsent, "slot %d", id)
	}
	return inst, nil
}

// IsActive reports whether slot id is initialized.
func (r *Registry) IsActive(id uint8) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.active[id]
}

// activate marks slot id live, binding inst when it is a CDC slot.
func (r *Registry) activate(id uint8, inst *cdc.Instance) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.instances[id] = inst
	r.active[id] = true
}

// deactivate marks slot id down and returns the instance it held.
func (r *Registry) deactivate(id uint8) (*cdc.Instance, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	inst := r.instances[id]
	was := r.active[id]
	r.instances[id] = nil
	r.active[id] = false
	return inst, was
}

// upstream forwards CDC events to whatever callbacks are registered at the
// time of the event.
type upstream struct {
	r *Registry
}

func (u upstream) get() cdc.Callbacks {
	if cb := u.r.CDCCallbacks(); cb != nil {
		return cb
	}
	return cdc.Funcs{}
}

func (u upstream) Init(instance uint8) error {
	return u.get().Init(instance)
}

func (u upstream) DeInit(instance uint8) error {
	return u.get().DeInit(instance)
}

func (u upstream) Control(instance uint8, opcode uint8, value uint16, payload []byte) error {
	return u.get().Control(instance, opcode, value, payload)
}

func (u upstream) Receive(instance uint8, buf []byte) error {
	return u.get().Receive(instance, buf)
}

func (u upstream) TransmitComplete(instance uint8, buf []byte, length *int, ep uint8) error {
	return u.get().TransmitComplete(instance, buf, length, ep)
}
