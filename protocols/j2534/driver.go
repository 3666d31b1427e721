// Package j2534 implements the hardware side of logging: a pass-thru
// Driver contract modeled on SAE J2534 and a Device that drives it to
// connect, filter, send, receive and switch bus speed.
//
// The vendor library itself is not loaded here. Anything that satisfies
// Driver can be plugged in: the Simulator, a Bridge to a remote device,
// or a platform specific binding.
package j2534

import (
	"fmt"
	"time"
)

// Driver is the pass-thru API a hardware interface exposes. Every call
// returns nil or a Status describing the failure.
type Driver interface {
	Open() (deviceID uint32, err error)
	Close(deviceID uint32) error
	Connect(deviceID uint32, protocol ProtocolID, flags ConnectFlag, baud BaudRate) (channelID uint32, err error)
	Disconnect(channelID uint32) error
	ReadMsgs(channelID uint32, max int, timeout time.Duration) ([]PassThruMsg, error)
	WriteMsgs(channelID uint32, msgs []PassThruMsg, timeout time.Duration) (int, error)
	StartMsgFilter(channelID uint32, filterType FilterType, mask, pattern, flow *PassThruMsg) (filterID uint32, err error)
	StopMsgFilter(channelID, filterID uint32) error
	ReadBatteryVoltage(deviceID uint32) (millivolts uint32, err error)
	ClearRxBuffer(channelID uint32) error
	ClearTxBuffer(channelID uint32) error
}

// PassThruMsg is the physical frame format exchanged with a Driver.
type PassThruMsg struct {
	Protocol  ProtocolID `cbor:"1,keyasint"`
	RxStatus  RxStatus   `cbor:"2,keyasint,omitempty"`
	TxFlags   TxFlag     `cbor:"3,keyasint,omitempty"`
	Timestamp uint32     `cbor:"4,keyasint,omitempty"`
	Data      []byte     `cbor:"5,keyasint"`
}

// ProtocolID selects the vehicle network protocol of a channel.
type ProtocolID uint32

const (
	ProtocolJ1850VPW ProtocolID = 0x01
	ProtocolJ1850PWM ProtocolID = 0x02
	ProtocolISO9141  ProtocolID = 0x03
	ProtocolISO14230 ProtocolID = 0x04
	ProtocolCAN      ProtocolID = 0x05
	ProtocolISO15765 ProtocolID = 0x06
)

func (p ProtocolID) String() string {
	switch p {
	case ProtocolJ1850VPW:
		return "J1850VPW"
	case ProtocolJ1850PWM:
		return "J1850PWM"
	case ProtocolISO9141:
		return "ISO9141"
	case ProtocolISO14230:
		return "ISO14230"
	case ProtocolCAN:
		return "CAN"
	case ProtocolISO15765:
		return "ISO15765"
	}
	return fmt.Sprintf("protocol(0x%X)", uint32(p))
}

// BaudRate is a bus speed in bits/s.
type BaudRate uint32

const (
	BaudJ1850VPW   BaudRate = 10400
	BaudJ1850VPW4x BaudRate = 41600
)

// ConnectFlag modifies how a protocol channel is opened.
type ConnectFlag uint32

const ConnectFlagNone ConnectFlag = 0

// TxFlag modifies how a message is transmitted.
type TxFlag uint32

const TxFlagNone TxFlag = 0

// RxStatus describes a received message.
type RxStatus uint32

const (
	// RxTxMsgType marks a loopback of a message this device transmitted.
	RxTxMsgType RxStatus = 0x01
	// RxStartOfMessage marks an indication that a message began arriving.
	RxStartOfMessage RxStatus = 0x02
	RxBreak          RxStatus = 0x04
	// RxTxIndication marks a transmit-complete indication.
	RxTxIndication RxStatus = 0x08
)

// FilterType selects how a message filter is applied.
type FilterType uint32

const (
	FilterPass        FilterType = 0x01
	FilterBlock       FilterType = 0x02
	FilterFlowControl FilterType = 0x03
)

// Status is a pass-thru result code. StatusNoError is never returned as
// an error.
type Status uint32

const (
	StatusNoError             Status = 0x00
	StatusNotSupported        Status = 0x01
	StatusInvalidChannelID    Status = 0x02
	StatusInvalidProtocolID   Status = 0x03
	StatusNullParameter       Status = 0x04
	StatusInvalidIoctlValue   Status = 0x05
	StatusInvalidFlags        Status = 0x06
	StatusFailed              Status = 0x07
	StatusDeviceNotConnected  Status = 0x08
	StatusTimeout             Status = 0x09
	StatusInvalidMsg          Status = 0x0A
	StatusInvalidTimeInterval Status = 0x0B
	StatusExceededLimit       Status = 0x0C
	StatusInvalidMsgID        Status = 0x0D
	StatusDeviceInUse         Status = 0x0E
	StatusInvalidIoctlID      Status = 0x0F
	StatusBufferEmpty         Status = 0x10
	StatusBufferFull          Status = 0x11
	StatusBufferOverflow      Status = 0x12
	StatusPinInvalid          Status = 0x13
	StatusChannelInUse        Status = 0x14
	StatusMsgProtocolID       Status = 0x15
	StatusInvalidFilterID     Status = 0x16
	StatusNoFlowControl       Status = 0x17
	StatusNotUnique           Status = 0x18
	StatusInvalidBaudRate     Status = 0x19
	StatusInvalidDeviceID     Status = 0x1A
)

var statusNames = map[Status]string{
	StatusNoError:             "STATUS_NOERROR",
	StatusNotSupported:        "ERR_NOT_SUPPORTED",
	StatusInvalidChannelID:    "ERR_INVALID_CHANNEL_ID",
	StatusInvalidProtocolID:   "ERR_INVALID_PROTOCOL_ID",
	StatusNullParameter:       "ERR_NULL_PARAMETER",
	StatusInvalidIoctlValue:   "ERR_INVALID_IOCTL_VALUE",
	StatusInvalidFlags:        "ERR_INVALID_FLAGS",
	StatusFailed:              "ERR_FAILED",
	StatusDeviceNotConnected:  "ERR_DEVICE_NOT_CONNECTED",
	StatusTimeout:             "ERR_TIMEOUT",
	StatusInvalidMsg:          "ERR_INVALID_MSG",
	StatusInvalidTimeInterval: "ERR_INVALID_TIME_INTERVAL",
	StatusExceededLimit:       "ERR_EXCEEDED_LIMIT",
	StatusInvalidMsgID:        "ERR_INVALID_MSG_ID",
	StatusDeviceInUse:         "ERR_DEVICE_IN_USE",
	StatusInvalidIoctlID:      "ERR_INVALID_IOCTL_ID",
	StatusBufferEmpty:         "ERR_BUFFER_EMPTY",
	StatusBufferFull:          "ERR_BUFFER_FULL",
	StatusBufferOverflow:      "ERR_BUFFER_OVERFLOW",
	StatusPinInvalid:          "ERR_PIN_INVALID",
	StatusChannelInUse:        "ERR_CHANNEL_IN_USE",
	StatusMsgProtocolID:       "ERR_MSG_PROTOCOL_ID",
	StatusInvalidFilterID:     "ERR_INVALID_FILTER_ID",
	StatusNoFlowControl:       "ERR_NO_FLOW_CONTROL",
	StatusNotUnique:           "ERR_NOT_UNIQUE",
	StatusInvalidBaudRate:     "ERR_INVALID_BAUDRATE",
	StatusInvalidDeviceID:     "ERR_INVALID_DEVICE_ID",
}

func (s Status) Error() string {
	if n, ok := statusNames[s]; ok {
		return fmt.Sprintf("j2534 %s (0x%02X)", n, uint32(s))
	}
	return fmt.Sprintf("j2534 status 0x%02X", uint32(s))
}
