package vpw

import (
	"time"

	"github.com/gavinwade12/pcmLogger/diag"
	"github.com/pkg/errors"
)

// Transport moves VPW frames to and from the bus. *j2534.Device is one.
type Transport interface {
	SendMessage(data []byte) error
	// Receive returns ok == false with a nil error when nothing arrived
	// within the timeout.
	Receive() (data []byte, ok bool, err error)
	SetTimeout(timeout time.Duration)
	ClearBuffers()
}

// maxStrayFrames bounds how many unrelated frames are skipped while
// waiting for a particular response.
const maxStrayFrames = 16

// ErrGroupOverflow is returned when a group does not fit in a DPID frame.
var ErrGroupOverflow = errors.New("column does not fit in a DPID payload")

// ErrNoAddress is returned when an address defined parameter has no
// address for the operating system.
var ErrNoAddress = errors.New("parameter has no address for this operating system")

// Vehicle issues the logging commands of a GM PCM over a Transport.
type Vehicle struct {
	transport Transport
	logger    diag.Logger
}

// NewVehicle returns a Vehicle using t.
func NewVehicle(t Transport, l diag.Logger) *Vehicle {
	return &Vehicle{transport: t, logger: diag.OrNop(l)}
}

// ConfigureDpids defines every group of cfg on the PCM, one column per
// request, and returns the DPID ids in configuration order.
func (v *Vehicle) ConfigureDpids(cfg DpidConfiguration, osid uint32) ([]byte, error) {
	v.transport.ClearBuffers()

	ids := make([]byte, 0, len(cfg.ParameterGroups))
	for _, g := range cfg.ParameterGroups {
		offset := 1
		for _, col := range g.LogColumns {
			p := col.Parameter
			id, err := columnID(p, osid)
			if err != nil {
				return nil, err
			}

			if p.ByteCount < 1 || offset+p.ByteCount-1 > MaxBytes {
				return nil, errors.Wrapf(ErrGroupOverflow, "%s at offset %d in DPID %02X", p.ID, offset, g.ID)
			}

			v.logger.Debugf("defining %s in DPID %02X at offset %d", p.ID, g.ID, offset)
			msg := ConfigureDpidRequest(g.ID, p.DefineBy, offset, p.ByteCount, id)
			if err = v.transport.SendMessage(msg); err != nil {
				return nil, errors.Wrapf(err, "sending DPID %02X configuration", g.ID)
			}

			dpid := g.ID
			err = v.awaitResponse(func(resp []byte) error {
				return ParseConfigureDpidResponse(resp, dpid)
			})
			if err != nil {
				return nil, errors.Wrapf(err, "configuring %s in DPID %02X", p.ID, g.ID)
			}
			offset += p.ByteCount
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func columnID(p *Parameter, osid uint32) (uint32, error) {
	if p.Kind != KindRaw {
		return 0, errors.Errorf("%s is not a raw parameter", p.ID)
	}
	switch p.DefineBy {
	case DefineByPID:
		return pidID(p.PID), nil
	case DefineByAddress:
		a, ok := p.Address(osid)
		if !ok {
			return 0, errors.Wrapf(ErrNoAddress, "%s on %d", p.ID, osid)
		}
		return a, nil
	}
	return 0, errors.Errorf("%s uses an unsupported definition %d", p.ID, p.DefineBy)
}

// awaitResponse reads frames until match accepts or rejects one. Frames
// match reports as ErrUnexpectedResponse are skipped.
func (v *Vehicle) awaitResponse(match func(resp []byte) error) error {
	for i := 0; i < maxStrayFrames; i++ {
		resp, ok, err := v.transport.Receive()
		if err != nil {
			return errors.Wrap(err, "receiving response")
		}
		if !ok {
			return ErrTimeout
		}

		err = match(resp)
		if errors.Is(err, ErrUnexpectedResponse) {
			v.logger.Debug("skipping unrelated frame")
			continue
		}
		return err
	}
	return ErrTimeout
}

// SetDeviceTimeout sets the read and write bound of the transport.
func (v *Vehicle) SetDeviceTimeout(timeout time.Duration) {
	v.logger.Debugf("device timeout %s", timeout)
	v.transport.SetTimeout(timeout)
}

// RequestDpids asks the PCM to send the DPIDs once (RateSingleRow) or
// continuously (a streaming rate).
func (v *Vehicle) RequestDpids(dpids []byte, rate Rate) error {
	if len(dpids) == 0 {
		return errors.New("no DPIDs to request")
	}
	if err := v.transport.SendMessage(RequestDpidsRequest(rate, dpids)); err != nil {
		return errors.Wrap(err, "requesting DPIDs")
	}
	return nil
}

// SendToolPresentNotification keeps a streaming PCM sending.
func (v *Vehicle) SendToolPresentNotification() error {
	if err := v.transport.SendMessage(ToolPresentNotification()); err != nil {
		return errors.Wrap(err, "sending tool present")
	}
	return nil
}

// ReadLogData reads the next DPID frame. ok is false with a nil error
// when no frame arrived in time.
func (v *Vehicle) ReadLogData() (RawLogData, bool, error) {
	for i := 0; i < maxStrayFrames; i++ {
		msg, ok, err := v.transport.Receive()
		if err != nil {
			return RawLogData{}, false, errors.Wrap(err, "reading log data")
		}
		if !ok {
			return RawLogData{}, false, nil
		}
		if data, ok := ParseDpidData(msg); ok {
			return data, true, nil
		}
		diag.LogBytes(v.logger, msg, "ignoring non-DPID frame: ")
	}
	return RawLogData{}, false, nil
}

// QueryOperatingSystemID reads the PCM's operating system id.
func (v *Vehicle) QueryOperatingSystemID() (uint32, error) {
	v.transport.ClearBuffers()
	if err := v.transport.SendMessage(OperatingSystemIDRequest()); err != nil {
		return 0, errors.Wrap(err, "requesting operating system id")
	}

	var osid uint32
	err := v.awaitResponse(func(resp []byte) error {
		var err error
		osid, err = ParseOperatingSystemIDResponse(resp)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "reading operating system id")
	}
	v.logger.Debugf("operating system id %d", osid)
	return osid, nil
}
