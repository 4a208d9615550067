package pkg

import "github.com/pkg/errors"

// Router and function-instance errors.
var (
	// ErrResourceExhausted indicates no per-slot instance state could be
	// allocated during Init.
	ErrResourceExhausted = errors.New("out of instances")

	// ErrNotConfigured indicates the request requires the Configured state.
	ErrNotConfigured = errors.New("device not configured")

	// ErrNoOwningSlot indicates a request or endpoint matches no registered slot.
	ErrNoOwningSlot = errors.New("no owning slot")

	// ErrInstanceBusy indicates a transmit was submitted while one is in flight.
	ErrInstanceBusy = errors.New("instance busy")

	// ErrInstanceAbsent indicates the slot has no live instance (never
	// initialized or already torn down).
	ErrInstanceAbsent = errors.New("instance absent")

	// ErrUnsupportedRequest indicates an unrecognized standard or class request.
	ErrUnsupportedRequest = errors.New("unsupported request")
)

// USB protocol and configuration errors.
var (
	// ErrStall indicates the control endpoint was stalled.
	ErrStall = errors.New("endpoint stalled")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEndpointConflict indicates two slots claim the same endpoint
	// address or number.
	ErrEndpointConflict = errors.New("endpoint conflict")

	// ErrInterfaceConflict indicates overlapping interface-number ranges.
	ErrInterfaceConflict = errors.New("interface conflict")

	// ErrNotArmed indicates data arrived for an endpoint with no pending
	// reception.
	ErrNotArmed = errors.New("endpoint not armed")
)

// IsStall reports whether err is answered on the wire with a STALL
// handshake rather than being surfaced elsewhere.
func IsStall(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNoOwningSlot),
		errors.Is(err, ErrUnsupportedRequest),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrInstanceAbsent),
		errors.Is(err, ErrBufferTooSmall),
		errors.Is(err, ErrStall):
		return true
	default:
		return false
	}
}

// Status is the coarse result code reported to a USB core that expects
// numeric status values from class entry points.
type Status int

// Status values.
const (
	StatusOK   Status = iota // Completed
	StatusBusy               // Instance busy, retry later
	StatusFail               // Failed
	StatusMem                // Allocation failure
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBusy:
		return "busy"
	case StatusFail:
		return "fail"
	case StatusMem:
		return "mem"
	default:
		return "unknown"
	}
}

// StatusOf maps an error returned by the router onto a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInstanceBusy):
		return StatusBusy
	case errors.Is(err, ErrResourceExhausted):
		return StatusMem
	default:
		return StatusFail
	}
}
