package msc

import (
	"bytes"
	"testing"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/device/class/cdc"
	"github.com/ardnew/compusb/device/composite"
	"github.com/ardnew/compusb/device/hal/loopback"
	"github.com/ardnew/compusb/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bulkIn  = 0x81
	bulkOut = 0x01
)

type bench struct {
	periph  *loopback.Peripheral
	host    *loopback.Host
	d       *composite.Dispatcher
	drv     *Driver
	storage *MemoryStorage
	tag     uint32
}

func newBench(t *testing.T, speed device.Speed) *bench {
	t.Helper()

	table, err := composite.MSCCDC()
	require.NoError(t, err)

	periph := loopback.New()
	dev := device.NewDevice(speed)
	require.NoError(t, dev.SetAddress(3))

	storage := NewMemoryStorage(64*512, 512)
	drv := New(periph, dev, NewDisk(storage, "compusb", "Test Disk"))

	reg := composite.NewRegistry(cdc.DefaultPoolCapacity)
	slot, ok := table.ByInterface(0)
	require.True(t, ok)
	reg.RegisterForeign(slot.ID, drv)

	d := composite.NewDispatcher(dev, table, reg, periph)
	require.NoError(t, d.Configure(1))

	return &bench{
		periph:  periph,
		host:    loopback.NewHost(periph, d),
		d:       d,
		drv:     drv,
		storage: storage,
	}
}

// send writes a CBW for cb.
func (b *bench) send(t *testing.T, length uint32, in bool, cb ...byte) *CommandBlockWrapper {
	t.Helper()
	b.tag++
	cbw := NewCBW(b.tag, length, in, cb...)
	buf := make([]byte, CBWSize)
	cbw.MarshalTo(buf)
	require.NoError(t, b.host.Write(bulkOut, buf))
	return cbw
}

// status reads and checks the CSW of cbw.
func (b *bench) status(t *testing.T, cbw *CommandBlockWrapper) CommandStatusWrapper {
	t.Helper()
	pkt, ok, err := b.host.Read(bulkIn)
	require.NoError(t, err)
	require.True(t, ok, "no CSW queued")

	var csw CommandStatusWrapper
	require.True(t, ParseCSW(pkt, &csw))
	assert.Equal(t, cbw.Tag, csw.Tag)
	return csw
}

func TestDriverArmsOnConfigure(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	assert.True(t, b.periph.IsOpen(bulkIn))
	assert.True(t, b.periph.IsOpen(bulkOut))
	assert.True(t, b.periph.IsArmed(bulkOut))
	assert.Equal(t, "command", b.drv.State())

	require.NoError(t, b.d.Configure(0))
	assert.Equal(t, "idle", b.drv.State())
	assert.False(t, b.periph.IsOpen(bulkOut))
}

func TestDriverNoDataCommand(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	cbw := b.send(t, 0, false, SCSITestUnitReady)
	csw := b.status(t, cbw)
	assert.Equal(t, uint8(CSWStatusGood), csw.Status)
	assert.Zero(t, csw.DataResidue)

	assert.True(t, b.periph.IsArmed(bulkOut), "re-armed for next CBW")
	assert.Equal(t, "command", b.drv.State())
}

func TestDriverDataIn(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	cbw := b.send(t, 36, true, SCSIInquiry, 0, 0, 0, 36, 0)
	data, ok, err := b.host.Read(bulkIn)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, data, InquiryStandardSize)
	assert.Equal(t, "status", b.drv.State())

	csw := b.status(t, cbw)
	assert.Equal(t, uint8(CSWStatusGood), csw.Status)
	assert.Zero(t, csw.DataResidue)
}

func TestDriverDataInResidue(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	cbw := b.send(t, 64, true, SCSIReadCapacity10)
	data, _, err := b.host.Read(bulkIn)
	require.NoError(t, err)
	assert.Len(t, data, 8)

	csw := b.status(t, cbw)
	assert.Equal(t, uint32(56), csw.DataResidue)
}

func TestDriverWriteThenRead(t *testing.T) {
	tests := []struct {
		name  string
		speed device.Speed
		mps   int
	}{
		{"full speed", device.SpeedFull, 64},
		{"high speed", device.SpeedHigh, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, tt.speed)
			payload := make([]byte, 1024)
			for i := range payload {
				payload[i] = byte(i * 7)
			}

			cbw := b.send(t, 1024, false, rw10(SCSIWrite10, 10, 2)...)
			assert.Equal(t, "data-out", b.drv.State())
			for off := 0; off < len(payload); off += tt.mps {
				require.NoError(t, b.host.Write(bulkOut, payload[off:off+tt.mps]))
			}
			csw := b.status(t, cbw)
			require.Equal(t, uint8(CSWStatusGood), csw.Status)
			assert.Zero(t, csw.DataResidue)

			stored := make([]byte, 1024)
			_, err := b.storage.Read(10, 2, stored)
			require.NoError(t, err)
			assert.Equal(t, payload, stored)

			cbw = b.send(t, 1024, true, rw10(SCSIRead10, 10, 2)...)
			data, _, err := b.host.Read(bulkIn)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, data))
			assert.Equal(t, uint8(CSWStatusGood), b.status(t, cbw).Status)
		})
	}
}

func TestDriverFailedWriteDrainsData(t *testing.T) {
	b := newBench(t, device.SpeedFull)
	b.storage.SetReadOnly(true)

	cbw := b.send(t, 128, false, rw10(SCSIWrite10, 0, 1)...)
	require.NoError(t, b.host.Write(bulkOut, make([]byte, 64)))
	require.NoError(t, b.host.Write(bulkOut, make([]byte, 64)))

	csw := b.status(t, cbw)
	assert.Equal(t, uint8(CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(128), csw.DataResidue)

	cbw = b.send(t, 18, true, SCSIRequestSense, 0, 0, 0, 18, 0)
	sense, _, err := b.host.Read(bulkIn)
	require.NoError(t, err)
	assert.Equal(t, uint8(SenseDataProtect), sense[2])
	b.status(t, cbw)
}

func TestDriverFailedReadSkipsData(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	cbw := b.send(t, 512, true, rw10(SCSIRead10, 100, 1)...)
	csw := b.status(t, cbw)
	assert.Equal(t, uint8(CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(512), csw.DataResidue)
}

func TestDriverPhaseError(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	cbw := b.send(t, 0, true, SCSIInquiry, 0, 0, 0, 36, 0)
	csw := b.status(t, cbw)
	assert.Equal(t, uint8(CSWStatusPhaseError), csw.Status)
}

func TestDriverInvalidCBW(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	err := b.host.Write(bulkOut, []byte("not a command block"))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.True(t, b.periph.IsArmed(bulkOut))
	assert.Empty(t, b.periph.Pending(bulkIn))

	cbw := b.send(t, 0, false, SCSITestUnitReady)
	assert.Equal(t, uint8(CSWStatusGood), b.status(t, cbw).Status)
}

func TestDriverClassRequests(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	getMaxLUN := device.NewClassRequest(device.DirectionDeviceToHost, 0, RequestGetMaxLUN, 0, 1)
	data, err := b.host.Control(getMaxLUN, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, data)

	b.send(t, 36, true, SCSIInquiry, 0, 0, 0, 36, 0)
	assert.Equal(t, "data-in", b.drv.State())

	reset := device.NewClassRequest(device.DirectionHostToDevice, 0, RequestBulkOnlyMassStorageReset, 0, 0)
	_, err = b.host.Control(reset, nil)
	require.NoError(t, err)
	assert.Equal(t, "command", b.drv.State())
	assert.True(t, b.periph.IsArmed(bulkOut))
}

func TestDriverRejectsMalformedClassRequests(t *testing.T) {
	tests := []struct {
		name string
		req  device.ControlRequest
	}{
		{"reset with value", device.NewClassRequest(device.DirectionHostToDevice, 0, RequestBulkOnlyMassStorageReset, 1, 0)},
		{"reset with data", device.NewClassRequest(device.DirectionHostToDevice, 0, RequestBulkOnlyMassStorageReset, 0, 4)},
		{"max lun out", device.NewClassRequest(device.DirectionHostToDevice, 0, RequestGetMaxLUN, 0, 1)},
		{"max lun no length", device.NewClassRequest(device.DirectionDeviceToHost, 0, RequestGetMaxLUN, 0, 0)},
		{"unknown", device.NewClassRequest(device.DirectionDeviceToHost, 0, 0x42, 0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, device.SpeedFull)
			_, err := b.host.Control(tt.req, make([]byte, 4))
			assert.ErrorIs(t, err, pkg.ErrStall)
			assert.Equal(t, 1, b.periph.Stalls())
		})
	}
}

func TestDriverStandardRequest(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	req := device.NewStandardRequest(device.DirectionDeviceToHost, device.RecipientInterface, device.RequestGetStatus, 0, 0, 2)
	data, err := b.host.Control(req, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, data)
}

func TestDriverLeavesSerialPortAlone(t *testing.T) {
	b := newBench(t, device.SpeedFull)

	lc := cdc.LineCoding{DTERate: 57600, DataBits: 8}
	buf := make([]byte, cdc.LineCodingSize)
	lc.MarshalTo(buf)

	req := device.NewClassRequest(device.DirectionHostToDevice, 1, cdc.RequestSetLineCoding, 0, cdc.LineCodingSize)
	_, err := b.host.Control(req, buf)
	require.NoError(t, err)

	got, err := b.d.LineCoding(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(57600), got.DTERate)
	assert.Equal(t, "command", b.drv.State())
}
