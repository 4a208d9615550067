package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineCodingRoundTrip(t *testing.T) {
	lc := LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}

	var buf [LineCodingSize]byte
	require.Equal(t, LineCodingSize, lc.MarshalTo(buf[:]))
	assert.Equal(t, []byte{0x80, 0x25, 0x00, 0x00, 2, 2, 7}, buf[:])

	var got LineCoding
	require.True(t, ParseLineCoding(buf[:], &got))
	assert.Equal(t, lc, got)
}

func TestLineCodingShortBuffer(t *testing.T) {
	lc := DefaultLineCoding
	assert.Zero(t, lc.MarshalTo(make([]byte, LineCodingSize-1)))

	got := DefaultLineCoding
	assert.False(t, ParseLineCoding([]byte{1, 2, 3}, &got))
	assert.Equal(t, DefaultLineCoding, got)
}

func TestLineCodingString(t *testing.T) {
	tests := []struct {
		lc   LineCoding
		want string
	}{
		{DefaultLineCoding, "115200 8N1"},
		{LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}, "9600 7E2"},
		{LineCoding{DTERate: 300, CharFormat: StopBits1_5, ParityType: ParityMark, DataBits: 5}, "300 5M1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lc.String())
		})
	}
}

func TestRequestName(t *testing.T) {
	assert.Equal(t, "SET_LINE_CODING", RequestName(RequestSetLineCoding))
	assert.Equal(t, "SEND_BREAK", RequestName(RequestSendBreak))
	assert.Equal(t, "0x7F", RequestName(0x7F))
}
