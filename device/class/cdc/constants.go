package cdc

import (
	"encoding/binary"
	"fmt"
)

// CDC Class codes.
const (
	ClassCDC     = 0x02 // Communications Device Class
	ClassCDCData = 0x0A // CDC Data Class
)

// CDC Subclass and protocol codes used by virtual serial ports.
const (
	SubclassACM = 0x02 // Abstract Control Model
	ProtocolAT  = 0x01 // AT Commands: V.250
)

// CDC Request codes.
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetCommFeature          = 0x02
	RequestGetCommFeature          = 0x03
	RequestClearCommFeature        = 0x04
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// RequestName returns the name of a CDC request code.
func RequestName(code uint8) string {
	switch code {
	case RequestSendEncapsulatedCommand:
		return "SEND_ENCAPSULATED_COMMAND"
	case RequestGetEncapsulatedResponse:
		return "GET_ENCAPSULATED_RESPONSE"
	case RequestSetCommFeature:
		return "SET_COMM_FEATURE"
	case RequestGetCommFeature:
		return "GET_COMM_FEATURE"
	case RequestClearCommFeature:
		return "CLEAR_COMM_FEATURE"
	case RequestSetLineCoding:
		return "SET_LINE_CODING"
	case RequestGetLineCoding:
		return "GET_LINE_CODING"
	case RequestSetControlLineState:
		return "SET_CONTROL_LINE_STATE"
	case RequestSendBreak:
		return "SEND_BREAK"
	default:
		return fmt.Sprintf("0x%02X", code)
	}
}

// CDC Notification codes.
const (
	NotificationNetworkConnection = 0x00
	NotificationResponseAvailable = 0x01
	NotificationSerialState       = 0x20
)

// SerialStateNotificationSize is the size of a SERIAL_STATE notification.
const SerialStateNotificationSize = 10

// LineCoding represents the serial line configuration.
type LineCoding struct {
	DTERate    uint32 // Data terminal rate (baud rate)
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // Parity: 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // Data bits: 5, 6, 7, 8, or 16
}

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// Stop bit values.
const (
	StopBits1   = 0 // 1 stop bit
	StopBits1_5 = 1 // 1.5 stop bits
	StopBits2   = 2 // 2 stop bits
)

// Parity values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// Control line state bits (wValue of SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// Serial state bits (for SERIAL_STATE notification).
const (
	SerialStateRxCarrier  = 1 << 0 // DCD (Data Carrier Detect)
	SerialStateTxCarrier  = 1 << 1 // DSR (Data Set Ready)
	SerialStateBreak      = 1 << 2 // Break detected
	SerialStateRingSignal = 1 << 3 // Ring signal detected
	SerialStateFraming    = 1 << 4 // Framing error
	SerialStateParity     = 1 << 5 // Parity error
	SerialStateOverrun    = 1 << 6 // Overrun error
)

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the LineCoding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses LineCoding from data.
// Returns false if data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// String formats the line coding as e.g. "115200 8N1".
func (lc LineCoding) String() string {
	parity := "?"
	switch lc.ParityType {
	case ParityNone:
		parity = "N"
	case ParityOdd:
		parity = "O"
	case ParityEven:
		parity = "E"
	case ParityMark:
		parity = "M"
	case ParitySpace:
		parity = "S"
	}
	stop := "1"
	switch lc.CharFormat {
	case StopBits1_5:
		stop = "1.5"
	case StopBits2:
		stop = "2"
	}
	return fmt.Sprintf("%d %d%s%s", lc.DTERate, lc.DataBits, parity, stop)
}
