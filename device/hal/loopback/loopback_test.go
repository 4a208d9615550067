package loopback

import (
	"testing"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an EventSink that logs events and can stall setup.
type recorder struct {
	p      *Peripheral
	events []string
	reply  []byte
	rx     []byte
	fail   error
}

func (r *recorder) Setup(req *device.ControlRequest) error {
	r.events = append(r.events, "setup")
	if r.fail != nil {
		_ = r.p.ControlStall()
		return r.fail
	}
	if req.IsIn() {
		return r.p.ControlSend(r.reply)
	}
	if req.HasData() {
		r.rx = make([]byte, req.Length)
		return r.p.ControlPrepareReceive(r.rx)
	}
	return nil
}

func (r *recorder) DataIn(epnum uint8) error {
	r.events = append(r.events, "in")
	return nil
}

func (r *recorder) DataOut(epnum uint8) error {
	r.events = append(r.events, "out")
	return nil
}

func (r *recorder) ControlRxReady() error {
	r.events = append(r.events, "rx-ready")
	return nil
}

func TestPeripheralEndpoints(t *testing.T) {
	p := New()

	assert.Error(t, p.Transmit(0x81, []byte{1}), "closed endpoint")
	assert.Error(t, p.PrepareReceive(0x01, make([]byte, 64)), "closed endpoint")

	require.NoError(t, p.OpenEndpoint(0x81, device.EndpointTypeBulk, 64))
	require.NoError(t, p.OpenEndpoint(0x01, device.EndpointTypeBulk, 64))
	assert.True(t, p.IsOpen(0x81))
	assert.False(t, p.IsOpen(0x02))
	assert.Equal(t, uint16(64), p.Config(0x01).MaxPacketSize)

	data := []byte{1, 2, 3}
	require.NoError(t, p.Transmit(0x81, data))
	data[0] = 9
	assert.Equal(t, [][]byte{{1, 2, 3}}, p.Pending(0x81), "copied at queue time")
	assert.Equal(t, 1, p.TransmitCount(0x81))

	require.NoError(t, p.PrepareReceive(0x01, make([]byte, 64)))
	assert.True(t, p.IsArmed(0x01))
	assert.Equal(t, 1, p.ArmCount(0x01))

	require.NoError(t, p.CloseEndpoint(0x81))
	assert.Empty(t, p.Pending(0x81))

	ops := make([]Op, 0)
	for _, c := range p.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []Op{OpOpen, OpOpen, OpTransmit, OpPrepareReceive, OpClose}, ops)

	p.ResetCalls()
	assert.Empty(t, p.Calls())
}

func TestPeripheralFailOpen(t *testing.T) {
	p := New()
	boom := errors.New("boom")
	p.FailOpen(0x82, boom)

	assert.Equal(t, boom, p.OpenEndpoint(0x82, device.EndpointTypeInterrupt, 8))
	assert.False(t, p.IsOpen(0x82))
	assert.NoError(t, p.OpenEndpoint(0x82, device.EndpointTypeInterrupt, 8), "fails once")
}

func TestHostWrite(t *testing.T) {
	p := New()
	r := &recorder{p: p}
	h := NewHost(p, r)
	assert.Same(t, p, h.Peripheral())

	require.NoError(t, p.OpenEndpoint(0x02, device.EndpointTypeBulk, 8))
	assert.ErrorIs(t, h.Write(0x02, []byte("hi")), pkg.ErrNotArmed)

	buf := make([]byte, 4)
	require.NoError(t, p.PrepareReceive(0x02, buf))
	assert.ErrorIs(t, h.Write(0x02, []byte("too long")), pkg.ErrBufferTooSmall)

	require.NoError(t, h.Write(0x02, []byte("hi")))
	assert.Equal(t, 2, p.ReceivedLength(0x02))
	assert.Equal(t, []byte("hi"), buf[:2])
	assert.False(t, p.IsArmed(0x02))
	assert.Equal(t, []string{"out"}, r.events)
}

func TestHostRead(t *testing.T) {
	p := New()
	r := &recorder{p: p}
	h := NewHost(p, r)

	_, ok, err := h.Read(0x81)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.OpenEndpoint(0x81, device.EndpointTypeBulk, 64))
	require.NoError(t, p.Transmit(0x81, []byte("a")))
	require.NoError(t, p.Transmit(0x81, []byte("b")))

	pkts, err := h.ReadAll(0x81)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, pkts)
	assert.Equal(t, []string{"in", "in"}, r.events)
}

func TestHostControl(t *testing.T) {
	p := New()
	r := &recorder{p: p, reply: []byte{0xAA, 0xBB}}
	h := NewHost(p, r)

	in := device.NewClassRequest(device.DirectionDeviceToHost, 0, 0x21, 0, 2)
	data, err := h.Control(in, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)

	out := device.NewClassRequest(device.DirectionHostToDevice, 0, 0x20, 0, 3)
	_, err = h.Control(out, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, r.rx)
	assert.Equal(t, 3, p.ReceivedLength(0x00))
	assert.Equal(t, []string{"setup", "setup", "rx-ready"}, r.events)

	r.fail = pkg.ErrUnsupportedRequest
	_, err = h.Control(in, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
	assert.Equal(t, 1, p.Stalls())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "control-stall", OpControlStall.String())
	assert.Equal(t, "op(42)", Op(42).String())
}
