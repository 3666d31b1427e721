package j2534

import (
	"time"

	"github.com/gavinwade12/pcmLogger/diag"
	"github.com/pkg/errors"
)

const (
	// DefaultReadTimeout bounds a single Receive.
	DefaultReadTimeout time.Duration = 2000 * time.Millisecond
	// DefaultWriteTimeout bounds a single SendMessage.
	DefaultWriteTimeout time.Duration = 2000 * time.Millisecond
)

// Speed is a VPW bus speed.
type Speed int

const (
	SpeedStandard Speed = iota
	Speed4x
)

func (s Speed) baud() BaudRate {
	if s == Speed4x {
		return BaudJ1850VPW4x
	}
	return BaudJ1850VPW
}

func (s Speed) String() string {
	if s == Speed4x {
		return "4x"
	}
	return "1x"
}

var (
	// ErrDevice is returned when the interface cannot be opened, connected
	// or filtered.
	ErrDevice = errors.New("pass-thru device failure")

	// ErrNotInitialized is returned when the device is used before Initialize.
	ErrNotInitialized = errors.New("pass-thru device is not initialized")
)

// Device adapts a Driver to the message level operations a vehicle
// session needs. A Device owns its driver handles; it is not safe for
// concurrent use.
type Device struct {
	driver Driver
	logger diag.Logger

	filter Filter

	deviceID     uint32
	channelID    uint32
	protocol     ProtocolID
	filterIDs    []uint32
	isOpen       bool
	protocolOpen bool
	speed        Speed

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewDevice returns a Device for the driver. Initialize must be called
// before any traffic.
func NewDevice(driver Driver, l diag.Logger) *Device {
	return &Device{
		driver:       driver,
		logger:       diag.OrNop(l),
		filter:       VPWLoggingFilter,
		protocol:     ProtocolJ1850VPW,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
}

func (d *Device) String() string {
	return "J2534 Device"
}

// Initialize opens the interface, connects to J1850 VPW at standard speed
// and installs the receive filter. If the device is already open it is
// closed first. Reading the battery voltage is attempted but its failure
// is only logged.
func (d *Device) Initialize() error {
	d.logger.Debugf("initializing %s", d)

	if d.isOpen {
		d.logger.Debug("device already open, closing before proceeding")
		if err := d.Close(); err != nil {
			return errors.Wrap(ErrDevice, err.Error())
		}
	}

	d.filterIDs = nil
	id, err := d.driver.Open()
	if err != nil {
		return errors.Wrapf(ErrDevice, "opening device: %v", err)
	}
	d.deviceID = id
	d.isOpen = true
	d.logger.Debug("connected to the device")

	if v, err := d.BatteryVoltage(); err != nil {
		d.logger.Debugf("unable to read battery voltage: %v", err)
	} else {
		d.logger.Debugf("battery voltage is %.2fV", v)
	}

	if err = d.connect(SpeedStandard); err != nil {
		return err
	}

	d.logger.Debug("device initialization complete")
	return nil
}

func (d *Device) connect(speed Speed) error {
	ch, err := d.driver.Connect(d.deviceID, d.protocol, ConnectFlagNone, speed.baud())
	if err != nil {
		return errors.Wrapf(ErrDevice, "connecting to %s at %d baud: %v", d.protocol, speed.baud(), err)
	}
	d.channelID = ch
	d.protocolOpen = true
	d.speed = speed
	d.logger.Debugf("protocol %s set at %d baud", d.protocol, speed.baud())

	if err = d.setFilter(d.filter); err != nil {
		return err
	}
	return nil
}

func (d *Device) setFilter(f Filter) error {
	mask := &PassThruMsg{Protocol: d.protocol, Data: f.Mask}
	pattern := &PassThruMsg{Protocol: d.protocol, Data: f.Pattern}
	id, err := d.driver.StartMsgFilter(d.channelID, FilterPass, mask, pattern, nil)
	if err != nil {
		return errors.Wrapf(ErrDevice, "setting filter: %v", err)
	}
	d.filterIDs = append(d.filterIDs, id)
	return nil
}

func (d *Device) disconnect() error {
	if !d.protocolOpen {
		return nil
	}
	err := d.driver.Disconnect(d.channelID)
	d.protocolOpen = false
	d.filterIDs = nil
	if err != nil {
		return errors.Wrap(err, "disconnecting from protocol")
	}
	return nil
}

// BatteryVoltage reads the vehicle supply voltage seen by the interface.
func (d *Device) BatteryVoltage() (float64, error) {
	mv, err := d.driver.ReadBatteryVoltage(d.deviceID)
	if err != nil {
		return 0, errors.Wrap(err, "reading battery voltage")
	}
	return float64(mv) / 1000, nil
}

// SetTimeout sets the read and write bound used by Receive and SendMessage.
func (d *Device) SetTimeout(timeout time.Duration) {
	d.readTimeout = timeout
	d.writeTimeout = timeout
}

// ReadTimeout returns the current read bound.
func (d *Device) ReadTimeout() time.Duration {
	return d.readTimeout
}

// SendMessage wraps data in a pass-thru frame and transmits it. Any
// nonzero status is returned as the error.
func (d *Device) SendMessage(data []byte) error {
	if !d.protocolOpen {
		return ErrNotInitialized
	}
	diag.LogBytes(d.logger, data, "TX: ")

	msg := PassThruMsg{Protocol: d.protocol, TxFlags: TxFlagNone, Data: data}
	n, err := d.driver.WriteMsgs(d.channelID, []PassThruMsg{msg}, d.writeTimeout)
	if err != nil {
		return errors.Wrap(err, "writing message")
	}
	if n != 1 {
		return errors.Wrapf(StatusTimeout, "wrote %d of 1 messages", n)
	}
	return nil
}

// Receive polls the driver until a payload bearing frame arrives or the
// read timeout elapses. Echoes of our own transmissions and status
// indications are skipped. ok is false with a nil error when nothing
// arrived in time; err is non-nil only for a device failure.
func (d *Device) Receive() (data []byte, ok bool, err error) {
	if !d.protocolOpen {
		return nil, false, ErrNotInitialized
	}

	deadline := time.Now().Add(d.readTimeout)
	for first := true; ; first = false {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if !first {
				d.logger.Debugf("no frame within %s", d.readTimeout)
				return nil, false, nil
			}
			remaining = 0
		}

		start := time.Now()
		msgs, err := d.driver.ReadMsgs(d.channelID, 1, remaining)
		if err != nil {
			if s := statusOf(err); s == StatusBufferEmpty || s == StatusTimeout {
				backOff(start, deadline)
				continue
			}
			d.logger.Debugf("ReadMsgs error: %v", err)
			return nil, false, errors.Wrap(err, "reading messages")
		}
		if len(msgs) == 0 {
			backOff(start, deadline)
			continue
		}

		for _, m := range msgs {
			if m.RxStatus&(RxTxMsgType|RxStartOfMessage|RxTxIndication) != 0 || len(m.Data) == 0 {
				continue
			}
			diag.LogBytes(d.logger, m.Data, "RX: ")
			return m.Data, true, nil
		}
	}
}

// receiveBackOff is the shortest time an empty read may take. Some
// drivers return an empty buffer at once regardless of the timeout.
const receiveBackOff = 2 * time.Millisecond

func backOff(start, deadline time.Time) {
	wait := receiveBackOff - time.Since(start)
	if remaining := time.Until(deadline); remaining < wait {
		wait = remaining
	}
	if wait > 0 {
		time.Sleep(wait)
	}
}

// SetSpeed reconnects the channel at the given bus speed and reinstalls
// the receive filter, which does not survive a reconnect. The vehicle
// must be told to switch separately.
func (d *Device) SetSpeed(speed Speed) error {
	if !d.isOpen {
		return ErrNotInitialized
	}
	d.logger.Debugf("J2534 setting VPW %s", speed)

	if err := d.disconnect(); err != nil {
		return errors.Wrapf(ErrDevice, "switching to %s: %v", speed, err)
	}
	return d.connect(speed)
}

// Speed returns the current bus speed.
func (d *Device) Speed() Speed {
	return d.speed
}

// ClearBuffers discards anything queued in the interface. Failures are
// logged only.
func (d *Device) ClearBuffers() {
	if !d.protocolOpen {
		return
	}
	if err := d.driver.ClearRxBuffer(d.channelID); err != nil {
		d.logger.Debugf("clearing rx buffer: %v", err)
	}
	if err := d.driver.ClearTxBuffer(d.channelID); err != nil {
		d.logger.Debugf("clearing tx buffer: %v", err)
	}
}

// Close disconnects the protocol and releases the device.
func (d *Device) Close() error {
	if !d.isOpen {
		return nil
	}
	d.logger.Debug("closing device")

	if err := d.disconnect(); err != nil {
		d.logger.Debug(err.Error())
	}
	err := d.driver.Close(d.deviceID)
	d.isOpen = false
	if err != nil {
		return errors.Wrap(err, "closing device")
	}
	return nil
}

// IsDisconnected reports whether err means the interface is gone.
func IsDisconnected(err error) bool {
	return statusOf(err) == StatusDeviceNotConnected
}

// statusOf extracts the Status carried by err. Errors without one are
// reported as StatusFailed.
func statusOf(err error) Status {
	if err == nil {
		return StatusNoError
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusFailed
}
