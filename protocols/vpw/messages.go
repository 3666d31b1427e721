package vpw

import (
	"github.com/pkg/errors"
)

// Header bytes.
const (
	PriorityPhysical0  byte = 0x6C
	PriorityFunctional byte = 0x8C
	DevicePCM          byte = 0x10
	DeviceTool         byte = 0xF0
	DeviceBroadcast    byte = 0xFE
)

// Modes.
const (
	ModeRequestDpids   byte = 0x2A
	ModeConfigureDpid  byte = 0x2C
	ModeReadBlock      byte = 0x3C
	ModeToolPresent    byte = 0x3F
	ModeDpidData       byte = 0x6A
	ModeNegative       byte = 0x7F
	ModeResponseOffset byte = 0x40
)

// BlockOperatingSystemID is the block holding the four byte OS id.
const BlockOperatingSystemID byte = 0x0A

// Rate is how a DPID request asks the PCM to send data.
type Rate byte

const (
	RateStop       Rate = 0x00
	RateSingleRow  Rate = 0x01
	RateStreamSlow Rate = 0x12
	RateStreamFast Rate = 0x24
)

var (
	// ErrTimeout means a mandatory response did not arrive.
	ErrTimeout = errors.New("no response from the PCM")
	// ErrRejected means the PCM answered with a negative response.
	ErrRejected = errors.New("request rejected by the PCM")
	// ErrUnexpectedResponse means a frame answered something else.
	ErrUnexpectedResponse = errors.New("unexpected response from the PCM")
)

var toolToPCM = []byte{PriorityPhysical0, DevicePCM, DeviceTool}

// ConfigureDpidRequest defines one column of a DPID. offset is the
// 1-based position of the column in the DPID payload and size its width.
// Both are three bit fields; callers keep them within MaxBytes.
func ConfigureDpidRequest(dpid byte, defineBy DefineBy, offset, size int, id uint32) []byte {
	return request(ModeConfigureDpid,
		dpid,
		byte(defineBy)<<6|byte(offset&0x07)<<3|byte(size&0x07),
		byte(id>>16), byte(id>>8), byte(id),
	)
}

func request(mode byte, body ...byte) []byte {
	msg := make([]byte, 0, len(toolToPCM)+1+len(body))
	msg = append(msg, toolToPCM...)
	msg = append(msg, mode)
	return append(msg, body...)
}

// pidID lays a PID out in the three id bytes of a configure request.
func pidID(pid uint16) uint32 {
	return uint32(pid)<<8 | 0xFF
}

// RequestDpidsRequest asks for the given DPIDs at rate.
func RequestDpidsRequest(rate Rate, dpids []byte) []byte {
	return request(ModeRequestDpids, append([]byte{byte(rate)}, dpids...)...)
}

// ToolPresentNotification keeps a streaming PCM talking.
func ToolPresentNotification() []byte {
	return []byte{PriorityFunctional, DeviceBroadcast, DeviceTool, ModeToolPresent}
}

// OperatingSystemIDRequest reads the OS id block.
func OperatingSystemIDRequest() []byte {
	return request(ModeReadBlock, BlockOperatingSystemID)
}

// fromPCM accepts either physical priority, as the receive filter does.
func fromPCM(msg []byte) bool {
	return len(msg) >= 4 && msg[0]&0xFE == PriorityPhysical0 &&
		msg[1] == DeviceTool && msg[2] == DevicePCM
}

// negativeFor reports whether msg is a negative response to mode.
func negativeFor(msg []byte, mode byte) bool {
	return fromPCM(msg) && msg[3] == ModeNegative && len(msg) > 4 && msg[4] == mode
}

// ParseConfigureDpidResponse checks msg answers a configure request for dpid.
func ParseConfigureDpidResponse(msg []byte, dpid byte) error {
	if negativeFor(msg, ModeConfigureDpid) {
		return errors.Wrapf(ErrRejected, "configuring DPID %02X", dpid)
	}
	if !fromPCM(msg) || msg[3] != ModeConfigureDpid+ModeResponseOffset || len(msg) < 5 || msg[4] != dpid {
		return ErrUnexpectedResponse
	}
	return nil
}

// ParseOperatingSystemIDResponse extracts the OS id from msg.
func ParseOperatingSystemIDResponse(msg []byte) (uint32, error) {
	if negativeFor(msg, ModeReadBlock) {
		return 0, errors.Wrap(ErrRejected, "reading operating system id")
	}
	if !fromPCM(msg) || msg[3] != ModeReadBlock+ModeResponseOffset ||
		len(msg) < 9 || msg[4] != BlockOperatingSystemID {
		return 0, ErrUnexpectedResponse
	}
	return uint32(msg[5])<<24 | uint32(msg[6])<<16 | uint32(msg[7])<<8 | uint32(msg[8]), nil
}

// ParseDpidData extracts a DPID frame. ok is false for any other frame.
func ParseDpidData(msg []byte) (RawLogData, bool) {
	if !fromPCM(msg) || msg[3] != ModeDpidData || len(msg) < 5 {
		return RawLogData{}, false
	}
	return RawLogData{Dpid: msg[4], Payload: append([]byte(nil), msg[5:]...)}, true
}
