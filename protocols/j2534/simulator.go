package j2534

import (
	"sync"
	"time"
)

// Peer is the far end of a simulated bus.
type Peer interface {
	// Handle is called for every transmitted frame and returns the frames
	// the peer sends in reply.
	Handle(tx []byte) [][]byte
	// Idle returns frames the peer sends unprompted. It is called when a
	// read finds the receive queue empty.
	Idle() [][]byte
}

// Simulator is a Driver backed by a Peer instead of hardware. Frames from
// the peer pass through the installed filters the way a real interface
// applies them, so nothing is received until a pass filter exists.
type Simulator struct {
	// Echo loops every transmitted frame back with RxTxMsgType set.
	Echo bool
	// Millivolts is reported by ReadBatteryVoltage.
	Millivolts uint32

	// Failure injection. A non-nil value is returned by the matching call.
	OpenErr    error
	ConnectErr error
	FilterErr  error
	VoltageErr error
	WriteErr   error

	mu           sync.Mutex
	peer         Peer
	deviceID     uint32
	channelID    uint32
	nextID       uint32
	open         bool
	connected    bool
	unplugged    bool
	filters      map[uint32]Filter
	rx           []PassThruMsg
	clock        uint32
	connects     []BaudRate
	written      [][]byte
	clearedRx    int
	maxEmptyWait time.Duration
}

// NewSimulator returns a Simulator talking to peer.
func NewSimulator(peer Peer) *Simulator {
	return &Simulator{
		peer:         peer,
		Millivolts:   12600,
		filters:      make(map[uint32]Filter),
		maxEmptyWait: 5 * time.Millisecond,
	}
}

func (s *Simulator) id() uint32 {
	s.nextID++
	return s.nextID
}

func (s *Simulator) Open() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unplugged {
		return 0, StatusDeviceNotConnected
	}
	if s.OpenErr != nil {
		return 0, s.OpenErr
	}
	if s.open {
		return 0, StatusDeviceInUse
	}
	s.open = true
	s.deviceID = s.id()
	return s.deviceID, nil
}

func (s *Simulator) Close(deviceID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || deviceID != s.deviceID {
		return StatusInvalidDeviceID
	}
	s.open = false
	s.connected = false
	s.filters = make(map[uint32]Filter)
	return nil
}

func (s *Simulator) Connect(deviceID uint32, protocol ProtocolID, flags ConnectFlag, baud BaudRate) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unplugged {
		return 0, StatusDeviceNotConnected
	}
	if !s.open || deviceID != s.deviceID {
		return 0, StatusInvalidDeviceID
	}
	if s.ConnectErr != nil {
		return 0, s.ConnectErr
	}
	if protocol != ProtocolJ1850VPW {
		return 0, StatusInvalidProtocolID
	}
	if baud != BaudJ1850VPW && baud != BaudJ1850VPW4x {
		return 0, StatusInvalidBaudRate
	}
	if s.connected {
		return 0, StatusChannelInUse
	}
	s.connected = true
	s.channelID = s.id()
	s.connects = append(s.connects, baud)
	s.rx = nil
	return s.channelID, nil
}

func (s *Simulator) Disconnect(channelID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkChannel(channelID); err != nil {
		return err
	}
	s.connected = false
	s.filters = make(map[uint32]Filter)
	return nil
}

func (s *Simulator) checkChannel(channelID uint32) error {
	if s.unplugged {
		return StatusDeviceNotConnected
	}
	if !s.connected || channelID != s.channelID {
		return StatusInvalidChannelID
	}
	return nil
}

func (s *Simulator) ReadMsgs(channelID uint32, max int, timeout time.Duration) ([]PassThruMsg, error) {
	s.mu.Lock()
	if err := s.checkChannel(channelID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(s.rx) == 0 && s.peer != nil {
		for _, f := range s.peer.Idle() {
			s.deliverLocked(f, 0)
		}
	}
	if len(s.rx) == 0 {
		s.mu.Unlock()
		if timeout > s.maxEmptyWait {
			timeout = s.maxEmptyWait
		}
		time.Sleep(timeout)
		return nil, StatusBufferEmpty
	}
	defer s.mu.Unlock()

	if max < 1 {
		max = 1
	}
	if max > len(s.rx) {
		max = len(s.rx)
	}
	msgs := append([]PassThruMsg(nil), s.rx[:max]...)
	s.rx = s.rx[max:]
	return msgs, nil
}

func (s *Simulator) WriteMsgs(channelID uint32, msgs []PassThruMsg, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkChannel(channelID); err != nil {
		return 0, err
	}
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	for _, m := range msgs {
		data := append([]byte(nil), m.Data...)
		s.written = append(s.written, data)
		if s.Echo {
			s.rx = append(s.rx, PassThruMsg{
				Protocol:  m.Protocol,
				RxStatus:  RxTxMsgType,
				Timestamp: s.tick(),
				Data:      data,
			})
		}
		if s.peer != nil {
			for _, reply := range s.peer.Handle(data) {
				s.deliverLocked(reply, 0)
			}
		}
	}
	return len(msgs), nil
}

func (s *Simulator) tick() uint32 {
	s.clock++
	return s.clock
}

// deliverLocked queues an inbound frame if it passes a filter.
func (s *Simulator) deliverLocked(data []byte, status RxStatus) {
	for _, f := range s.filters {
		if f.Matches(data) {
			s.rx = append(s.rx, PassThruMsg{
				Protocol:  ProtocolJ1850VPW,
				RxStatus:  status,
				Timestamp: s.tick(),
				Data:      data,
			})
			return
		}
	}
}

// Inject queues a frame as if the peer had sent it, with the given status.
func (s *Simulator) Inject(data []byte, status RxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx = append(s.rx, PassThruMsg{
		Protocol:  ProtocolJ1850VPW,
		RxStatus:  status,
		Timestamp: s.tick(),
		Data:      data,
	})
}

func (s *Simulator) StartMsgFilter(channelID uint32, filterType FilterType, mask, pattern, flow *PassThruMsg) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkChannel(channelID); err != nil {
		return 0, err
	}
	if s.FilterErr != nil {
		return 0, s.FilterErr
	}
	if mask == nil || pattern == nil {
		return 0, StatusNullParameter
	}
	if filterType != FilterPass {
		return 0, StatusNotSupported
	}
	id := s.id()
	s.filters[id] = Filter{
		Mask:    append([]byte(nil), mask.Data...),
		Pattern: append([]byte(nil), pattern.Data...),
	}
	return id, nil
}

func (s *Simulator) StopMsgFilter(channelID, filterID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkChannel(channelID); err != nil {
		return err
	}
	if _, ok := s.filters[filterID]; !ok {
		return StatusInvalidFilterID
	}
	delete(s.filters, filterID)
	return nil
}

func (s *Simulator) ReadBatteryVoltage(deviceID uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.VoltageErr != nil {
		return 0, s.VoltageErr
	}
	if !s.open || deviceID != s.deviceID {
		return 0, StatusInvalidDeviceID
	}
	return s.Millivolts, nil
}

func (s *Simulator) ClearRxBuffer(channelID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkChannel(channelID); err != nil {
		return err
	}
	s.rx = nil
	s.clearedRx++
	return nil
}

func (s *Simulator) ClearTxBuffer(channelID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkChannel(channelID)
}

// Unplug makes every later call fail with StatusDeviceNotConnected.
func (s *Simulator) Unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugged = true
}

// Written returns every frame transmitted so far.
func (s *Simulator) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

// Connects returns the baud rate of every Connect call so far.
func (s *Simulator) Connects() []BaudRate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BaudRate(nil), s.connects...)
}

// Filters returns the installed filters.
func (s *Simulator) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := make([]Filter, 0, len(s.filters))
	for _, f := range s.filters {
		fs = append(fs, f)
	}
	return fs
}

// RxCleared returns how many times the receive buffer was cleared.
func (s *Simulator) RxCleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearedRx
}
