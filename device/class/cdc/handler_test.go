package cdc

import (
	"bytes"
	"testing"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/hal/loopback"
	"github.com/ardnew/compusb/pkg"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoints = Endpoints{Interface: 0, Notify: 0x82, In: 0x81, Out: 0x01}

type controlCall struct {
	opcode  uint8
	value   uint16
	payload []byte
}

// recorder captures every callback.
type recorder struct {
	controls  []controlCall
	received  [][]byte
	completed []int
	inits     int
	deinits   int

	controlErr error
	receiveErr error
	fill       []byte
	onComplete func(length *int) error
}

func (r *recorder) Init(uint8) error {
	r.inits++
	return nil
}

func (r *recorder) DeInit(uint8) error {
	r.deinits++
	return nil
}

func (r *recorder) Control(_ uint8, opcode uint8, value uint16, payload []byte) error {
	var cp []byte
	if payload != nil {
		cp = append([]byte{}, payload...)
	}
	r.controls = append(r.controls, controlCall{opcode: opcode, value: value, payload: cp})
	if r.fill != nil {
		copy(payload, r.fill)
	}
	return r.controlErr
}

func (r *recorder) Receive(_ uint8, buf []byte) error {
	r.received = append(r.received, append([]byte{}, buf...))
	return r.receiveErr
}

func (r *recorder) TransmitComplete(_ uint8, _ []byte, length *int, _ uint8) error {
	r.completed = append(r.completed, *length)
	if r.onComplete != nil {
		return r.onComplete(length)
	}
	return nil
}

// singleSink routes every event to one instance.
type singleSink struct {
	h    *Handler
	inst *Instance
}

func (s *singleSink) Setup(req *device.ControlRequest) error {
	return s.h.Setup(s.inst, req)
}

func (s *singleSink) DataIn(epnum uint8) error {
	return s.h.DataIn(s.inst, epnum)
}

func (s *singleSink) DataOut(epnum uint8) error {
	return s.h.DataOut(s.inst, epnum)
}

func (s *singleSink) ControlRxReady() error {
	_, err := s.h.ControlRxReady(s.inst)
	return err
}

type fixture struct {
	periph *loopback.Peripheral
	host   *loopback.Host
	h      *Handler
	inst   *Instance
	rec    *recorder
}

func newFixture(t *testing.T, speed device.Speed) *fixture {
	t.Helper()

	periph := loopback.New()
	profile := speed.Profile()
	require.NoError(t, periph.OpenEndpoint(testEndpoints.Notify, device.EndpointTypeInterrupt, profile.InterruptMaxPacketSize))
	require.NoError(t, periph.OpenEndpoint(testEndpoints.In, device.EndpointTypeBulk, profile.BulkMaxPacketSize))
	require.NoError(t, periph.OpenEndpoint(testEndpoints.Out, device.EndpointTypeBulk, profile.BulkMaxPacketSize))

	inst, err := NewPool(1).Acquire(0, testEndpoints, profile)
	require.NoError(t, err)

	rec := &recorder{}
	h := NewHandler(periph, rec)
	require.NoError(t, h.Start(inst))

	return &fixture{
		periph: periph,
		host:   loopback.NewHost(periph, &singleSink{h: h, inst: inst}),
		h:      h,
		inst:   inst,
		rec:    rec,
	}
}

func TestStartArmsReception(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	assert.Equal(t, 1, f.rec.inits)
	assert.True(t, f.periph.IsArmed(testEndpoints.Out))
	assert.Equal(t, Busy, f.inst.RxState())
	assert.Equal(t, Idle, f.inst.TxState())
	assert.Equal(t, DefaultLineCoding, f.inst.LineCoding())
}

func TestSetLineCoding(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	lc := LineCoding{DTERate: 9600, CharFormat: StopBits1, ParityType: ParityNone, DataBits: 8}
	var raw [LineCodingSize]byte
	lc.MarshalTo(raw[:])

	req := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSetLineCoding, 0, LineCodingSize)
	_, err := f.host.Control(req, raw[:])
	require.NoError(t, err)

	assert.Equal(t, lc, f.inst.LineCoding())
	require.Len(t, f.rec.controls, 1)
	assert.Equal(t, uint8(RequestSetLineCoding), f.rec.controls[0].opcode)
	assert.Equal(t, raw[:], f.rec.controls[0].payload)

	_, pending := f.inst.Pending()
	assert.False(t, pending)
}

func TestSetupStagesOutCommand(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	req := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSendEncapsulatedCommand, 0, 4)
	require.NoError(t, f.h.Setup(f.inst, &req))

	cmd, ok := f.inst.Pending()
	require.True(t, ok)
	assert.Equal(t, Command{Opcode: RequestSendEncapsulatedCommand, Length: 4}, cmd)
	assert.Empty(t, f.rec.controls, "dispatched before data stage")

	f.inst.CancelPending()
	handled, err := f.h.ControlRxReady(f.inst)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, f.rec.controls)
}

func TestGetLineCoding(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	tests := []struct {
		name   string
		length uint16
	}{
		{"full", LineCodingSize},
		{"truncated", 4},
	}

	var want [LineCodingSize]byte
	lc := DefaultLineCoding
	lc.MarshalTo(want[:])

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := device.NewClassRequest(device.DirectionDeviceToHost, 0, RequestGetLineCoding, 0, tt.length)
			data, err := f.host.Control(req, nil)
			require.NoError(t, err)
			assert.Equal(t, want[:tt.length], data)
		})
	}
}

func TestControlWithoutData(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	req := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSetControlLineState, ControlLineDTR|ControlLineRTS, 0)
	_, err := f.host.Control(req, nil)
	require.NoError(t, err)

	require.Len(t, f.rec.controls, 1)
	assert.Equal(t, uint8(RequestSetControlLineState), f.rec.controls[0].opcode)
	assert.Equal(t, uint16(ControlLineDTR|ControlLineRTS), f.rec.controls[0].value)
	assert.Nil(t, f.rec.controls[0].payload)
}

func TestControlInFilledByCallback(t *testing.T) {
	f := newFixture(t, device.SpeedFull)
	f.rec.fill = []byte("resp")

	req := device.NewClassRequest(device.DirectionDeviceToHost, 0, RequestGetEncapsulatedResponse, 0, 4)
	data, err := f.host.Control(req, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("resp"), data)
}

func TestSetupRejects(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	vendor := device.NewClassRequest(device.DirectionHostToDevice, 0, 0x01, 0, 0)
	vendor.Type = device.TypeVendor
	assert.ErrorIs(t, f.h.Setup(f.inst, &vendor), pkg.ErrUnsupportedRequest)

	big := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSendEncapsulatedCommand, 0, CommandBufferSize+1)
	assert.ErrorIs(t, f.h.Setup(f.inst, &big), pkg.ErrBufferTooSmall)

	f.rec.controlErr = errors.New("refused")
	req := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSendBreak, 100, 0)
	err := f.h.Setup(f.inst, &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestShortLineCodingPayload(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	req := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSetLineCoding, 0, 3)
	_, err := f.host.Control(req, []byte{1, 2, 3})
	assert.ErrorIs(t, err, pkg.ErrBufferTooSmall)
	assert.Equal(t, DefaultLineCoding, f.inst.LineCoding())
}

func TestTruncatedDataStageDropped(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	lc := LineCoding{DTERate: 9600, CharFormat: StopBits1, ParityType: ParityNone, DataBits: 7}
	buf := make([]byte, LineCodingSize)
	lc.MarshalTo(buf)
	req := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestSetLineCoding, 0, LineCodingSize)
	_, err := f.host.Control(req, buf)
	require.NoError(t, err)
	require.Len(t, f.rec.controls, 1)

	_, err = f.host.Control(req, []byte{0x00, 0xC2, 0x01})
	assert.ErrorIs(t, err, pkg.ErrBufferTooSmall)
	assert.Equal(t, lc, f.inst.LineCoding())
	assert.Len(t, f.rec.controls, 1)
	_, pending := f.inst.Pending()
	assert.False(t, pending)
}

func TestTransmitBusy(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	require.NoError(t, f.h.Transmit(f.inst, []byte("hello")))
	assert.Equal(t, Busy, f.inst.TxState())
	assert.ErrorIs(t, f.h.Transmit(f.inst, []byte("again")), pkg.ErrInstanceBusy)

	pkts, err := f.host.ReadAll(testEndpoints.In)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello")}, pkts)
	assert.Equal(t, Idle, f.inst.TxState())
	assert.Equal(t, []int{5}, f.rec.completed)
}

func TestTransmitZeroLengthPacket(t *testing.T) {
	tests := []struct {
		name    string
		speed   device.Speed
		length  int
		wantZLP bool
	}{
		{"FS exact packet", device.SpeedFull, 64, true},
		{"FS two packets", device.SpeedFull, 128, true},
		{"FS short", device.SpeedFull, 63, false},
		{"FS empty", device.SpeedFull, 0, false},
		{"HS exact packet", device.SpeedHigh, 512, true},
		{"HS FS-multiple", device.SpeedHigh, 64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.speed)
			buf := bytes.Repeat([]byte{0x55}, tt.length)

			require.NoError(t, f.h.Transmit(f.inst, buf))

			_, ok, err := f.host.Read(testEndpoints.In)
			require.True(t, ok)
			require.NoError(t, err)

			if tt.wantZLP {
				assert.Equal(t, Busy, f.inst.TxState(), "must stay busy until ZLP completes")
				assert.Empty(t, f.rec.completed)

				zlp, ok, err := f.host.Read(testEndpoints.In)
				require.True(t, ok)
				require.NoError(t, err)
				assert.Empty(t, zlp)
			}

			assert.Equal(t, Idle, f.inst.TxState())
			assert.Equal(t, []int{tt.length}, f.rec.completed)
			want := 1
			if tt.wantZLP {
				want = 2
			}
			assert.Equal(t, want, f.periph.TransmitCount(testEndpoints.In))
		})
	}
}

func TestTransmitFromCompletion(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	chunks := [][]byte{[]byte("two"), []byte("three")}
	f.rec.onComplete = func(*int) error {
		if len(chunks) == 0 {
			return nil
		}
		next := chunks[0]
		chunks = chunks[1:]
		return f.h.Transmit(f.inst, next)
	}

	require.NoError(t, f.h.Transmit(f.inst, []byte("one")))
	pkts, err := f.host.ReadAll(testEndpoints.In)
	require.NoError(t, err)

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, pkts)
	assert.Equal(t, []int{3, 3, 5}, f.rec.completed)
	assert.Equal(t, Idle, f.inst.TxState())
}

func TestTransmitCompleteAdjustsLength(t *testing.T) {
	f := newFixture(t, device.SpeedFull)
	f.rec.onComplete = func(length *int) error {
		*length = 0
		return nil
	}

	require.NoError(t, f.h.Transmit(f.inst, []byte("data")))
	_, err := f.host.ReadAll(testEndpoints.In)
	require.NoError(t, err)
	assert.Zero(t, f.inst.TxLength())
}

func TestSpuriousDataIn(t *testing.T) {
	f := newFixture(t, device.SpeedFull)
	require.NoError(t, f.h.DataIn(f.inst, device.EndpointNumber(testEndpoints.In)))
	assert.Empty(t, f.rec.completed)
}

func TestReceive(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	require.NoError(t, f.host.Write(testEndpoints.Out, []byte("abc")))
	require.NoError(t, f.host.Write(testEndpoints.Out, []byte("defg")))

	assert.Equal(t, [][]byte{[]byte("abc"), []byte("defg")}, f.rec.received)
	assert.Equal(t, 4, f.inst.RxLength())
	assert.True(t, f.periph.IsArmed(testEndpoints.Out))
	assert.Equal(t, 3, f.periph.ArmCount(testEndpoints.Out))
}

func TestReceiveFailureStillRearms(t *testing.T) {
	f := newFixture(t, device.SpeedFull)
	f.rec.receiveErr = errors.New("consumer full")

	err := f.host.Write(testEndpoints.Out, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer full")
	assert.True(t, f.periph.IsArmed(testEndpoints.Out))
	assert.Equal(t, Busy, f.inst.RxState())
}

func TestReceiveBufferSizedBySpeed(t *testing.T) {
	fs := newFixture(t, device.SpeedFull)
	assert.ErrorIs(t, fs.host.Write(testEndpoints.Out, make([]byte, 65)), pkg.ErrBufferTooSmall)

	hs := newFixture(t, device.SpeedHigh)
	require.NoError(t, hs.host.Write(testEndpoints.Out, make([]byte, 512)))
	assert.Equal(t, 512, hs.inst.RxLength())
}

func TestDataEventOnForeignEndpoint(t *testing.T) {
	f := newFixture(t, device.SpeedFull)
	arms := f.periph.ArmCount(testEndpoints.Out)

	assert.ErrorIs(t, f.h.DataOut(f.inst, device.EndpointNumber(testEndpoints.Notify)), pkg.ErrNoOwningSlot)
	assert.ErrorIs(t, f.h.DataOut(f.inst, 3), pkg.ErrNoOwningSlot)
	assert.ErrorIs(t, f.h.DataIn(f.inst, 5), pkg.ErrNoOwningSlot)
	assert.Empty(t, f.rec.received)
	assert.Empty(t, f.rec.completed)
	assert.Equal(t, arms, f.periph.ArmCount(testEndpoints.Out))
	assert.Equal(t, Busy, f.inst.RxState())
}

func TestStartUndoneWhenArmFails(t *testing.T) {
	periph := loopback.New()
	profile := device.SpeedFull.Profile()
	require.NoError(t, periph.OpenEndpoint(testEndpoints.Notify, device.EndpointTypeInterrupt, profile.InterruptMaxPacketSize))
	require.NoError(t, periph.OpenEndpoint(testEndpoints.In, device.EndpointTypeBulk, profile.BulkMaxPacketSize))

	inst, err := NewPool(1).Acquire(0, testEndpoints, profile)
	require.NoError(t, err)

	rec := &recorder{}
	h := NewHandler(periph, rec)
	assert.ErrorIs(t, h.Start(inst), pkg.ErrInvalidParameter)
	assert.Equal(t, 1, rec.inits)
	assert.Equal(t, 1, rec.deinits)
	assert.Equal(t, Idle, inst.RxState())
}

func TestSendSerialState(t *testing.T) {
	f := newFixture(t, device.SpeedFull)

	state := uint16(SerialStateRxCarrier | SerialStateTxCarrier)
	require.NoError(t, f.h.SendSerialState(f.inst, state))
	assert.ErrorIs(t, f.h.SendSerialState(f.inst, 0), pkg.ErrInstanceBusy)

	pkt, ok, err := f.host.Read(testEndpoints.Notify)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, NotificationSerialState, 0, 0, 0, 0, 2, 0, 0x03, 0x00}, pkt)
	assert.Equal(t, state, f.inst.SerialState())

	require.NoError(t, f.h.SendSerialState(f.inst, 0))
	assert.Empty(t, f.rec.completed, "notification must not complete bulk transfers")
}

func TestStop(t *testing.T) {
	f := newFixture(t, device.SpeedFull)
	require.NoError(t, f.h.Transmit(f.inst, []byte("x")))

	require.NoError(t, f.h.Stop(f.inst))
	assert.Equal(t, 1, f.rec.deinits)
	assert.Equal(t, Idle, f.inst.TxState())
}

func TestNilCallbacks(t *testing.T) {
	periph := loopback.New()
	require.NoError(t, periph.OpenEndpoint(testEndpoints.Out, device.EndpointTypeBulk, 64))
	inst, err := NewPool(1).Acquire(3, testEndpoints, device.SpeedFull.Profile())
	require.NoError(t, err)

	h := NewHandler(periph, nil)
	require.NoError(t, h.Start(inst))
	require.NoError(t, h.DataOut(inst, device.EndpointNumber(testEndpoints.Out)))
}
