package cdc

// Callbacks is the upstream collaborator of every CDC instance. One
// registration serves all instances; calls carry the instance id.
//
// Callbacks run on the dispatch path and must not block. They may call
// back into the router (for example Transmit from TransmitComplete to
// chain the next buffer).
type Callbacks interface {
	// Init is called once the instance's endpoints are open, before the
	// first reception is armed.
	Init(instance uint8) error

	// DeInit is called during teardown, before the instance is released.
	DeInit(instance uint8) error

	// Control receives every class command addressed to the instance.
	// payload is nil for commands without a data stage. For IN commands
	// the callback fills payload, which is sent to the host.
	Control(instance uint8, opcode uint8, value uint16, payload []byte) error

	// Receive delivers a completed reception. buf is only valid until the
	// callback returns; the endpoint is re-armed into it immediately after.
	Receive(instance uint8, buf []byte) error

	// TransmitComplete reports that buf has been sent and the instance
	// accepts a new transmission. length points at the instance's recorded
	// transmit length; a value written through it is kept unless the
	// callback started a new transmission.
	TransmitComplete(instance uint8, buf []byte, length *int, ep uint8) error
}

// Funcs adapts optional functions to Callbacks. Nil fields are no-ops.
type Funcs struct {
	OnInit             func(instance uint8) error
	OnDeInit           func(instance uint8) error
	OnControl          func(instance uint8, opcode uint8, value uint16, payload []byte) error
	OnReceive          func(instance uint8, buf []byte) error
	OnTransmitComplete func(instance uint8, buf []byte, length *int, ep uint8) error
}

// Init implements Callbacks.
func (f Funcs) Init(instance uint8) error {
	if f.OnInit == nil {
		return nil
	}
	return f.OnInit(instance)
}

// DeInit implements Callbacks.
func (f Funcs) DeInit(instance uint8) error {
	if f.OnDeInit == nil {
		return nil
	}
	return f.OnDeInit(instance)
}

// Control implements Callbacks.
func (f Funcs) Control(instance uint8, opcode uint8, value uint16, payload []byte) error {
	if f.OnControl == nil {
		return nil
	}
	return f.OnControl(instance, opcode, value, payload)
}

// Receive implements Callbacks.
func (f Funcs) Receive(instance uint8, buf []byte) error {
	if f.OnReceive == nil {
		return nil
	}
	return f.OnReceive(instance, buf)
}

// TransmitComplete implements Callbacks.
func (f Funcs) TransmitComplete(instance uint8, buf []byte, length *int, ep uint8) error {
	if f.OnTransmitComplete == nil {
		return nil
	}
	return f.OnTransmitComplete(instance, buf, length, ep)
}

var _ Callbacks = Funcs{}
