package loopback

import (
	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
)

// EventSink is the dispatch surface a USB core drives. The composite
// dispatcher implements it.
type EventSink interface {
	Setup(req *device.ControlRequest) error
	DataIn(epnum uint8) error
	DataOut(epnum uint8) error
	ControlRxReady() error
}

// Host plays the USB host against a Peripheral, turning host actions into
// completion events on the sink.
type Host struct {
	periph *Peripheral
	sink   EventSink
}

// NewHost connects a simulated host to a peripheral and dispatch sink.
func NewHost(p *Peripheral, sink EventSink) *Host {
	return &Host{periph: p, sink: sink}
}

// Peripheral returns the peripheral the host talks to.
func (h *Host) Peripheral() *Peripheral {
	return h.periph
}

// Control runs a complete control transfer. For OUT requests data is the
// data stage; for IN requests the returned slice holds the data stage the
// device sent. A stalled transfer returns pkg.ErrStall wrapping the
// dispatch error.
func (h *Host) Control(req device.ControlRequest, data []byte) ([]byte, error) {
	stalls := h.periph.beginControl()

	err := h.sink.Setup(&req)
	if h.periph.Stalls() != stalls {
		return nil, errors.Wrapf(pkg.ErrStall, "%s: %v", req.String(), err)
	}
	if err != nil {
		return nil, err
	}

	if req.IsIn() || !req.HasData() {
		return h.periph.ControlData(), nil
	}

	if err := h.periph.deliverControl(data); err != nil {
		return nil, err
	}
	return nil, h.sink.ControlRxReady()
}

// Write sends one packet to an OUT endpoint and raises DataOut.
func (h *Host) Write(address uint8, data []byte) error {
	if err := h.periph.deliver(address, data); err != nil {
		return err
	}
	return h.sink.DataOut(device.EndpointNumber(address))
}

// Read takes the oldest packet queued on an IN endpoint and raises
// DataIn. ok is false if nothing was queued.
func (h *Host) Read(address uint8) (data []byte, ok bool, err error) {
	pkt, ok := h.periph.pop(address)
	if !ok {
		return nil, false, nil
	}
	return pkt, true, h.sink.DataIn(device.EndpointNumber(address))
}

// ReadAll reads packets from an IN endpoint until its queue is empty,
// including packets queued by completion callbacks along the way.
func (h *Host) ReadAll(address uint8) ([][]byte, error) {
	var pkts [][]byte
	for {
		pkt, ok, err := h.Read(address)
		if !ok {
			return pkts, nil
		}
		pkts = append(pkts, pkt)
		if err != nil {
			return pkts, err
		}
	}
}
