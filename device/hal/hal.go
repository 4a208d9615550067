package hal

// EndpointConfig describes an endpoint as it is opened on the peripheral.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Type          uint8  // Transfer type (bulk, interrupt)
	MaxPacketSize uint16 // Maximum packet size for the negotiated speed
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// ControlAddress is the address of the default control endpoint.
const ControlAddress = 0x00

// Peripheral is the link-layer collaborator the router drives.
//
// Transfers are asynchronous: Transmit and PrepareReceive only queue work
// and return. Completion is reported back to the router through its DataIn
// and DataOut entry points (and ControlRxReady for the control OUT data
// stage). Implementations may invoke those entry points synchronously from
// within a Transmit or PrepareReceive call; the router never holds a lock
// across a Peripheral call.
type Peripheral interface {
	// OpenEndpoint configures an endpoint with the given transfer type and
	// max packet size.
	OpenEndpoint(address uint8, transferType uint8, maxPacketSize uint16) error

	// CloseEndpoint disables an endpoint and discards any pending transfer.
	CloseEndpoint(address uint8) error

	// Transmit queues data on an IN endpoint. A zero-length data slice
	// queues a zero-length packet.
	Transmit(address uint8, data []byte) error

	// PrepareReceive arms an OUT endpoint to receive up to len(buf) bytes
	// into buf.
	PrepareReceive(address uint8, buf []byte) error

	// ReceivedLength returns the byte count of the last completed
	// reception on an OUT endpoint.
	ReceivedLength(address uint8) int

	// ControlSend sends the IN data stage of the current control transfer.
	ControlSend(data []byte) error

	// ControlPrepareReceive arms the control endpoint to receive the OUT
	// data stage into buf.
	ControlPrepareReceive(buf []byte) error

	// ControlStall stalls the control endpoint for the current transfer.
	ControlStall() error
}
