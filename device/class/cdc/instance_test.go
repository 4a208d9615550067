package cdc

import (
	"testing"

	"github.com/ardnew/compusb/device"
	"github.com/ardnew/compusb/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(2)
	profile := device.SpeedFull.Profile()

	a, err := p.Acquire(0, testEndpoints, profile)
	require.NoError(t, err)
	b, err := p.Acquire(1, testEndpoints, profile)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Zero(t, p.Available())

	_, err = p.Acquire(2, testEndpoints, profile)
	assert.ErrorIs(t, err, pkg.ErrResourceExhausted)

	p.Release(a)
	assert.Equal(t, 1, p.Available())

	c, err := p.Acquire(2, testEndpoints, profile)
	require.NoError(t, err)
	assert.Same(t, a, c)
	assert.Equal(t, uint8(2), c.ID())

	p.Release(c)
	p.Release(c)
	p.Release(nil)
	assert.Equal(t, 1, p.Available())
}

func TestPoolDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultPoolCapacity, NewPool(0).Capacity())
	assert.Equal(t, 5, NewPool(5).Capacity())
}

func TestAcquireResetsState(t *testing.T) {
	p := NewPool(1)

	inst, err := p.Acquire(0, testEndpoints, device.SpeedHigh.Profile())
	require.NoError(t, err)
	inst.mutex.Lock()
	inst.txState = Busy
	inst.lineCoding.DTERate = 300
	inst.pending = Command{Opcode: RequestSetLineCoding, Length: 7}
	inst.mutex.Unlock()
	p.Release(inst)

	inst, err = p.Acquire(1, testEndpoints, device.SpeedFull.Profile())
	require.NoError(t, err)

	assert.Equal(t, Idle, inst.TxState())
	assert.Equal(t, Idle, inst.RxState())
	assert.Equal(t, DefaultLineCoding, inst.LineCoding())
	assert.Equal(t, uint16(device.BulkMaxPacketSizeFS), inst.MaxPacketSize())
	assert.Equal(t, testEndpoints, inst.Endpoints())
	_, pending := inst.Pending()
	assert.False(t, pending)
}

func TestXferStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "busy", Busy.String())
}
