package device

import (
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// StandardRequestHandler answers the standard requests a composite
// function sees. It is independent of any slot: the outcome depends only
// on the device state. No alternate settings are implemented.
type StandardRequestHandler struct {
	device *Device

	// Response buffer; slices returned by HandleSetup reference it.
	responseBuf [2]byte
}

// NewStandardRequestHandler creates a new standard request handler.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup processes a standard request. It returns the IN data stage
// payload (nil when there is none).
func (h *StandardRequestHandler) HandleSetup(req *ControlRequest) ([]byte, error) {
	if req.Type != TypeStandard {
		return nil, errors.Wrapf(pkg.ErrUnsupportedRequest, "not a standard request: %s", req.Type)
	}

	switch req.Request {
	case RequestGetStatus:
		if !h.device.IsConfigured() {
			return nil, errors.Wrap(pkg.ErrNotConfigured, "GET_STATUS")
		}
		h.responseBuf[0], h.responseBuf[1] = 0, 0
		return h.clamp(req, 2), nil

	case RequestGetInterface:
		if !h.device.IsConfigured() {
			return nil, errors.Wrap(pkg.ErrNotConfigured, "GET_INTERFACE")
		}
		h.responseBuf[0] = 0
		return h.clamp(req, 1), nil

	case RequestSetInterface:
		if !h.device.IsConfigured() {
			return nil, errors.Wrap(pkg.ErrNotConfigured, "SET_INTERFACE")
		}
		if req.Value != 0 {
			return nil, errors.Wrapf(pkg.ErrUnsupportedRequest, "alternate setting %d", req.Value)
		}
		return nil, nil

	case RequestClearFeature:
		return nil, nil

	default:
		return nil, errors.Wrapf(pkg.ErrUnsupportedRequest, "standard request 0x%02X", req.Request)
	}
}

// clamp limits the response to wLength.
func (h *StandardRequestHandler) clamp(req *ControlRequest, n int) []byte {
	if int(req.Length) < n {
		n = int(req.Length)
	}
	return h.responseBuf[:n]
}
