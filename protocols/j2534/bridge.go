package j2534

import (
	"encoding/binary"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gavinwade12/pcmLogger/diag"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// A bridge carries pass-thru calls over a byte stream so a Driver on one
// host can be used from another. Each call is one frame: a big-endian
// uint16 length followed by a CBOR encoded request or response.

type bridgeOp uint8

const (
	opOpen bridgeOp = iota + 1
	opClose
	opConnect
	opDisconnect
	opReadMsgs
	opWriteMsgs
	opStartMsgFilter
	opStopMsgFilter
	opReadBatteryVoltage
	opClearRxBuffer
	opClearTxBuffer
)

type bridgeRequest struct {
	Op         bridgeOp      `cbor:"1,keyasint"`
	Device     uint32        `cbor:"2,keyasint,omitempty"`
	Channel    uint32        `cbor:"3,keyasint,omitempty"`
	Protocol   ProtocolID    `cbor:"4,keyasint,omitempty"`
	Flags      ConnectFlag   `cbor:"5,keyasint,omitempty"`
	Baud       BaudRate      `cbor:"6,keyasint,omitempty"`
	Max        int           `cbor:"7,keyasint,omitempty"`
	TimeoutMs  uint32        `cbor:"8,keyasint,omitempty"`
	Msgs       []PassThruMsg `cbor:"9,keyasint,omitempty"`
	FilterType FilterType    `cbor:"10,keyasint,omitempty"`
	Filter     uint32        `cbor:"11,keyasint,omitempty"`
	Mask       *PassThruMsg  `cbor:"12,keyasint,omitempty"`
	Pattern    *PassThruMsg  `cbor:"13,keyasint,omitempty"`
	Flow       *PassThruMsg  `cbor:"14,keyasint,omitempty"`
}

type bridgeResponse struct {
	Status Status        `cbor:"1,keyasint"`
	ID     uint32        `cbor:"2,keyasint,omitempty"`
	Value  uint32        `cbor:"3,keyasint,omitempty"`
	Msgs   []PassThruMsg `cbor:"4,keyasint,omitempty"`
}

const maxBridgeFrame = 0xFFFF

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("j2534: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("j2534: CBOR decoder initialization failed: " + err.Error())
	}
}

func writeFrame(w io.Writer, v interface{}) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding bridge frame")
	}
	if len(payload) > maxBridgeFrame {
		return errors.Errorf("bridge frame too large: %d bytes", len(payload))
	}

	// one Write per frame so message oriented links keep frames whole
	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[2:], payload)
	if _, err = w.Write(frame); err != nil {
		return errors.Wrap(err, "writing bridge frame")
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	payload := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return errors.Wrap(err, "reading bridge frame payload")
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "decoding bridge frame")
	}
	return nil
}

// DefaultCallMargin is added to a call's own timeout to bound the wait
// for its response.
const DefaultCallMargin = time.Second

// deadliner is implemented by links that can bound a call. net.Conn,
// the websocket adapter and the serial adapter all are.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Bridge is a Driver that forwards every call to a remote ServeBridge.
// A broken link is reported as StatusDeviceNotConnected. A call whose
// response misses its deadline leaves the link out of step, so the
// bridge stays broken after it.
type Bridge struct {
	// CallMargin bounds each call to its timeout plus this margin.
	CallMargin time.Duration

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	broken error
}

// NewBridge returns a Bridge speaking over conn.
func NewBridge(conn io.ReadWriteCloser) *Bridge {
	return &Bridge{conn: conn, CallMargin: DefaultCallMargin}
}

// OpenSerialBridge opens a serial port and returns a Bridge over it.
func OpenSerialBridge(portName string, baudRate int) (*Bridge, error) {
	sp, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port '%s'", portName)
	}
	if err = sp.ResetInputBuffer(); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "resetting input buffer")
	}
	return NewBridge(&serialConn{port: sp}), nil
}

// serialConn bounds reads on a serial port by a deadline. The port
// reports a read timeout as 0, nil, which is turned into an error so a
// frame read stops instead of retrying.
type serialConn struct {
	port     serial.Port
	deadline time.Time
}

func (c *serialConn) SetDeadline(t time.Time) error {
	c.deadline = t
	if t.IsZero() {
		return c.port.SetReadTimeout(serial.NoTimeout)
	}
	return nil
}

func (c *serialConn) Read(p []byte) (int, error) {
	if !c.deadline.IsZero() {
		remaining := time.Until(c.deadline)
		if remaining <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return 0, err
		}
	}
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *serialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialConn) Close() error {
	return c.port.Close()
}

// DialBridge connects to a websocket bridge at url.
func DialBridge(url string) (*Bridge, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing bridge '%s'", url)
	}
	return NewBridge(newWSConn(c)), nil
}

// Shutdown closes the underlying link.
func (b *Bridge) Shutdown() error {
	return b.conn.Close()
}

func (b *Bridge) call(req bridgeRequest) (bridgeResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var resp bridgeResponse
	if b.broken != nil {
		return resp, errors.Wrap(StatusDeviceNotConnected, b.broken.Error())
	}

	if dl, ok := b.conn.(deadliner); ok {
		timeout := time.Duration(req.TimeoutMs)*time.Millisecond + b.CallMargin
		if err := dl.SetDeadline(time.Now().Add(timeout)); err != nil {
			return resp, errors.Wrap(StatusDeviceNotConnected, err.Error())
		}
		defer dl.SetDeadline(time.Time{})
	}

	if err := writeFrame(b.conn, req); err != nil {
		b.broken = err
		return resp, errors.Wrap(StatusDeviceNotConnected, err.Error())
	}
	if err := readFrame(b.conn, &resp); err != nil {
		b.broken = err
		return resp, errors.Wrap(StatusDeviceNotConnected, err.Error())
	}
	if resp.Status != StatusNoError {
		return resp, resp.Status
	}
	return resp, nil
}

func durationMs(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Millisecond)
}

func (b *Bridge) Open() (uint32, error) {
	resp, err := b.call(bridgeRequest{Op: opOpen})
	return resp.ID, err
}

func (b *Bridge) Close(deviceID uint32) error {
	_, err := b.call(bridgeRequest{Op: opClose, Device: deviceID})
	return err
}

func (b *Bridge) Connect(deviceID uint32, protocol ProtocolID, flags ConnectFlag, baud BaudRate) (uint32, error) {
	resp, err := b.call(bridgeRequest{Op: opConnect, Device: deviceID, Protocol: protocol, Flags: flags, Baud: baud})
	return resp.ID, err
}

func (b *Bridge) Disconnect(channelID uint32) error {
	_, err := b.call(bridgeRequest{Op: opDisconnect, Channel: channelID})
	return err
}

func (b *Bridge) ReadMsgs(channelID uint32, max int, timeout time.Duration) ([]PassThruMsg, error) {
	resp, err := b.call(bridgeRequest{Op: opReadMsgs, Channel: channelID, Max: max, TimeoutMs: durationMs(timeout)})
	return resp.Msgs, err
}

func (b *Bridge) WriteMsgs(channelID uint32, msgs []PassThruMsg, timeout time.Duration) (int, error) {
	resp, err := b.call(bridgeRequest{Op: opWriteMsgs, Channel: channelID, Msgs: msgs, TimeoutMs: durationMs(timeout)})
	return int(resp.Value), err
}

func (b *Bridge) StartMsgFilter(channelID uint32, filterType FilterType, mask, pattern, flow *PassThruMsg) (uint32, error) {
	resp, err := b.call(bridgeRequest{
		Op:         opStartMsgFilter,
		Channel:    channelID,
		FilterType: filterType,
		Mask:       mask,
		Pattern:    pattern,
		Flow:       flow,
	})
	return resp.ID, err
}

func (b *Bridge) StopMsgFilter(channelID, filterID uint32) error {
	_, err := b.call(bridgeRequest{Op: opStopMsgFilter, Channel: channelID, Filter: filterID})
	return err
}

func (b *Bridge) ReadBatteryVoltage(deviceID uint32) (uint32, error) {
	resp, err := b.call(bridgeRequest{Op: opReadBatteryVoltage, Device: deviceID})
	return resp.Value, err
}

func (b *Bridge) ClearRxBuffer(channelID uint32) error {
	_, err := b.call(bridgeRequest{Op: opClearRxBuffer, Channel: channelID})
	return err
}

func (b *Bridge) ClearTxBuffer(channelID uint32) error {
	_, err := b.call(bridgeRequest{Op: opClearTxBuffer, Channel: channelID})
	return err
}

// ServeBridge answers bridge requests read from conn using d until conn
// reaches EOF or fails.
func ServeBridge(conn io.ReadWriter, d Driver, l diag.Logger) error {
	l = diag.OrNop(l)
	for {
		var req bridgeRequest
		if err := readFrame(conn, &req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return errors.Wrap(err, "reading bridge request")
		}

		resp := dispatch(d, req)
		l.Debugf("bridge op %d -> %s", req.Op, resp.Status.Error())
		if err := writeFrame(conn, resp); err != nil {
			return err
		}
	}
}

func dispatch(d Driver, req bridgeRequest) bridgeResponse {
	var (
		resp bridgeResponse
		err  error
	)
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond

	switch req.Op {
	case opOpen:
		resp.ID, err = d.Open()
	case opClose:
		err = d.Close(req.Device)
	case opConnect:
		resp.ID, err = d.Connect(req.Device, req.Protocol, req.Flags, req.Baud)
	case opDisconnect:
		err = d.Disconnect(req.Channel)
	case opReadMsgs:
		resp.Msgs, err = d.ReadMsgs(req.Channel, req.Max, timeout)
	case opWriteMsgs:
		var n int
		n, err = d.WriteMsgs(req.Channel, req.Msgs, timeout)
		resp.Value = uint32(n)
	case opStartMsgFilter:
		resp.ID, err = d.StartMsgFilter(req.Channel, req.FilterType, req.Mask, req.Pattern, req.Flow)
	case opStopMsgFilter:
		err = d.StopMsgFilter(req.Channel, req.Filter)
	case opReadBatteryVoltage:
		resp.Value, err = d.ReadBatteryVoltage(req.Device)
	case opClearRxBuffer:
		err = d.ClearRxBuffer(req.Channel)
	case opClearTxBuffer:
		err = d.ClearTxBuffer(req.Channel)
	default:
		err = StatusNotSupported
	}

	resp.Status = statusOf(err)
	return resp
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// BridgeHandler serves d to websocket clients. Clients are served one
// at a time since a Driver has a single owner.
func BridgeHandler(d Driver, l diag.Logger) http.Handler {
	l = diag.OrNop(l)
	var mu sync.Mutex
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.Debugf("upgrading bridge connection: %v", err)
			return
		}
		conn := newWSConn(c)
		defer conn.Close()

		mu.Lock()
		defer mu.Unlock()
		l.Debugf("bridge client connected from %s", r.RemoteAddr)
		if err = ServeBridge(conn, d, l); err != nil {
			l.Debugf("bridge client %s: %v", r.RemoteAddr, err)
		}
	})
}

// wsConn adapts a websocket to a byte stream of binary messages.
type wsConn struct {
	conn *websocket.Conn
	buf  []byte
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c}
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
