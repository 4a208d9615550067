package device

import (
	"sync"

	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// Device holds the device-level state the USB core maintains and the
// router consults: enumeration state, assigned address and negotiated speed.
type Device struct {
	state   State
	address uint8
	config  uint8
	speed   Speed

	mutex sync.RWMutex

	onStateChange func(old, new State)
}

// NewDevice creates a device in the Default state at the given speed.
func NewDevice(speed Speed) *Device {
	return &Device{
		state: StateDefault,
		speed: speed,
	}
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// IsConfigured returns true if the device is configured.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// Speed returns the negotiated link speed.
func (d *Device) Speed() Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// SetSpeed records the negotiated link speed. The packet profile is
// selected from it at the next Init.
func (d *Device) SetSpeed(speed Speed) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.speed = speed
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Configuration returns the active configuration value (0 if unconfigured).
func (d *Device) Configuration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.config
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// setState changes the device state and triggers the callback.
func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", oldState.String(),
			"to", newState.String())
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// Reset handles a bus reset.
func (d *Device) Reset() {
	d.mutex.Lock()
	d.address = 0
	d.config = 0
	d.mutex.Unlock()

	d.setState(StateDefault)
}

// SetAddress handles SET_ADDRESS.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state == StateConfigured {
		d.mutex.Unlock()
		return errors.Wrap(pkg.ErrInvalidParameter, "set address while configured")
	}
	d.address = address & 0x7F
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	return nil
}

// SetConfiguration handles SET_CONFIGURATION. Only a single configuration
// (value 1) exists; value 0 returns the device to the Address state.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.state == StateDefault {
		d.mutex.Unlock()
		return errors.Wrap(pkg.ErrInvalidParameter, "set configuration before address")
	}
	if value > 1 {
		d.mutex.Unlock()
		return errors.Wrapf(pkg.ErrUnsupportedRequest, "configuration %d", value)
	}
	d.config = value
	d.mutex.Unlock()

	if value == 0 {
		d.setState(StateAddress)
	} else {
		d.setState(StateConfigured)
	}
	return nil
}
