package j2534

import (
	"context"
	"log/slog"
	"time"
)

// NewLoggedDriver wraps inner and logs every pass-thru call with its
// result at the given level. Failures other than an empty receive buffer
// are logged at error level.
func NewLoggedDriver(inner Driver, logger *slog.Logger, level slog.Level) Driver {
	return &loggedDriver{inner: inner, logger: logger, level: level}
}

type loggedDriver struct {
	inner  Driver
	logger *slog.Logger
	level  slog.Level
}

func (l *loggedDriver) log(call string, err error, args ...any) {
	level := l.level
	if err != nil && statusOf(err) != StatusBufferEmpty {
		level = slog.LevelError
	}
	args = append(args, "status", statusOf(err).Error())
	l.logger.Log(context.Background(), level, "j2534 "+call, args...)
}

func (l *loggedDriver) Open() (uint32, error) {
	id, err := l.inner.Open()
	l.log("PassThruOpen", err, "device", id)
	return id, err
}

func (l *loggedDriver) Close(deviceID uint32) error {
	err := l.inner.Close(deviceID)
	l.log("PassThruClose", err, "device", deviceID)
	return err
}

func (l *loggedDriver) Connect(deviceID uint32, protocol ProtocolID, flags ConnectFlag, baud BaudRate) (uint32, error) {
	ch, err := l.inner.Connect(deviceID, protocol, flags, baud)
	l.log("PassThruConnect", err, "device", deviceID, "protocol", protocol.String(), "baud", uint32(baud), "channel", ch)
	return ch, err
}

func (l *loggedDriver) Disconnect(channelID uint32) error {
	err := l.inner.Disconnect(channelID)
	l.log("PassThruDisconnect", err, "channel", channelID)
	return err
}

func (l *loggedDriver) ReadMsgs(channelID uint32, max int, timeout time.Duration) ([]PassThruMsg, error) {
	msgs, err := l.inner.ReadMsgs(channelID, max, timeout)
	args := []any{"channel", channelID, "timeout", timeout, "count", len(msgs)}
	for _, m := range msgs {
		args = append(args, "rx", m.Data, "rxStatus", uint32(m.RxStatus))
	}
	l.log("PassThruReadMsgs", err, args...)
	return msgs, err
}

func (l *loggedDriver) WriteMsgs(channelID uint32, msgs []PassThruMsg, timeout time.Duration) (int, error) {
	n, err := l.inner.WriteMsgs(channelID, msgs, timeout)
	args := []any{"channel", channelID, "timeout", timeout, "written", n}
	for _, m := range msgs {
		args = append(args, "tx", m.Data)
	}
	l.log("PassThruWriteMsgs", err, args...)
	return n, err
}

func (l *loggedDriver) StartMsgFilter(channelID uint32, filterType FilterType, mask, pattern, flow *PassThruMsg) (uint32, error) {
	id, err := l.inner.StartMsgFilter(channelID, filterType, mask, pattern, flow)
	args := []any{"channel", channelID, "type", uint32(filterType), "filter", id}
	if mask != nil && pattern != nil {
		args = append(args, "mask", mask.Data, "pattern", pattern.Data)
	}
	l.log("PassThruStartMsgFilter", err, args...)
	return id, err
}

func (l *loggedDriver) StopMsgFilter(channelID, filterID uint32) error {
	err := l.inner.StopMsgFilter(channelID, filterID)
	l.log("PassThruStopMsgFilter", err, "channel", channelID, "filter", filterID)
	return err
}

func (l *loggedDriver) ReadBatteryVoltage(deviceID uint32) (uint32, error) {
	mv, err := l.inner.ReadBatteryVoltage(deviceID)
	l.log("ReadBatteryVoltage", err, "device", deviceID, "millivolts", mv)
	return mv, err
}

func (l *loggedDriver) ClearRxBuffer(channelID uint32) error {
	err := l.inner.ClearRxBuffer(channelID)
	l.log("ClearRxBuffer", err, "channel", channelID)
	return err
}

func (l *loggedDriver) ClearTxBuffer(channelID uint32) error {
	err := l.inner.ClearTxBuffer(channelID)
	l.log("ClearTxBuffer", err, "channel", channelID)
	return err
}
