package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEndpointKind(t *testing.T) {
	tests := []struct {
		name string
		want EndpointKind
		ok   bool
	}{
		{"notify", KindControlInterrupt, true},
		{"interrupt", KindControlInterrupt, true},
		{"control-interrupt", KindControlInterrupt, true},
		{"in", KindBulkIn, true},
		{"bulk-in", KindBulkIn, true},
		{"out", KindBulkOut, true},
		{"bulk-out", KindBulkOut, true},
		{"isochronous", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseEndpointKind(tt.name)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEndpointKind(t *testing.T) {
	tests := []struct {
		kind     EndpointKind
		name     string
		transfer uint8
		dir      uint8
	}{
		{KindControlInterrupt, "control-interrupt", EndpointTypeInterrupt, EndpointDirectionIn},
		{KindBulkIn, "bulk-in", EndpointTypeBulk, EndpointDirectionIn},
		{KindBulkOut, "bulk-out", EndpointTypeBulk, EndpointDirectionOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.kind.String())
			assert.Equal(t, tt.transfer, tt.kind.TransferType())
			assert.Equal(t, tt.dir, tt.kind.Direction())
		})
	}

	assert.Equal(t, "kind(9)", EndpointKind(9).String())
}

func TestOwnedEndpoint(t *testing.T) {
	fs := SpeedFull.Profile()
	hs := SpeedHigh.Profile()

	notify := OwnedEndpoint{Address: 0x83, Kind: KindControlInterrupt}
	assert.Equal(t, uint8(3), notify.Number())
	assert.True(t, notify.IsIn())
	assert.Equal(t, uint16(8), notify.MaxPacketSize(fs))
	assert.Equal(t, uint16(8), notify.MaxPacketSize(hs))
	assert.Equal(t, "0x83(control-interrupt)", notify.String())

	out := OwnedEndpoint{Address: 0x02, Kind: KindBulkOut}
	assert.Equal(t, uint8(2), out.Number())
	assert.False(t, out.IsIn())
	assert.Equal(t, uint16(64), out.MaxPacketSize(fs))
	assert.Equal(t, uint16(512), out.MaxPacketSize(hs))
}

func TestEndpointIndex(t *testing.T) {
	tests := []struct {
		address uint8
		want    int
	}{
		{0x00, 0},
		{0x01, 1},
		{0x0F, 15},
		{0x80, 16},
		{0x81, 17},
		{0x8F, 31},
	}

	for _, tt := range tests {
		got := EndpointIndex(tt.address)
		assert.Equal(t, tt.want, got, "address 0x%02X", tt.address)
		assert.Less(t, got, MaxEndpointAddresses)
	}
	assert.Equal(t, uint8(5), EndpointNumber(0x85))
}

func TestTransferTypeName(t *testing.T) {
	tests := []struct {
		t    uint8
		want string
	}{
		{EndpointTypeControl, "Control"},
		{EndpointTypeIsochronous, "Isochronous"},
		{EndpointTypeBulk, "Bulk"},
		{EndpointTypeInterrupt, "Interrupt"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TransferTypeName(tt.t))
	}
}

func TestDirectionName(t *testing.T) {
	assert.Equal(t, "IN", DirectionName(0x81))
	assert.Equal(t, "OUT", DirectionName(0x01))
}
