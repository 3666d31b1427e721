package vpw

import "sync"

// SimulatedPCM answers logging requests the way a GM PCM does. It can be
// plugged into a j2534.Simulator as its Peer.
type SimulatedPCM struct {
	OSID uint32
	// Values holds the raw value returned for a PID or RAM address. Ids
	// without a value return a counter that moves every frame.
	Values map[uint32]uint32
	// Silent drops every request without answering.
	Silent bool
	// RejectDpids answers DPID configuration negatively.
	RejectDpids bool

	mu          sync.Mutex
	dpids       map[byte][]dpidSlot
	streaming   []byte
	next        int
	tick        uint32
	requests    int
	toolPresent int
}

type dpidSlot struct {
	offset int
	size   int
	key    uint32
}

// NewSimulatedPCM returns a PCM reporting osid.
func NewSimulatedPCM(osid uint32) *SimulatedPCM {
	return &SimulatedPCM{
		OSID:   osid,
		Values: make(map[uint32]uint32),
		dpids:  make(map[byte][]dpidSlot),
	}
}

// Handle answers one frame sent by the tool.
func (p *SimulatedPCM) Handle(tx []byte) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Silent || len(tx) < 4 {
		return nil
	}
	if tx[0] == PriorityFunctional && tx[3] == ModeToolPresent {
		p.toolPresent++
		return nil
	}
	if tx[0] != PriorityPhysical0 || tx[1] != DevicePCM || tx[2] != DeviceTool {
		return nil
	}

	mode := tx[3]
	switch mode {
	case ModeReadBlock:
		if len(tx) < 5 || tx[4] != BlockOperatingSystemID {
			return p.negative(mode)
		}
		return p.reply(mode+ModeResponseOffset, BlockOperatingSystemID,
			byte(p.OSID>>24), byte(p.OSID>>16), byte(p.OSID>>8), byte(p.OSID))

	case ModeConfigureDpid:
		if len(tx) != 9 || p.RejectDpids {
			return p.negative(mode)
		}
		return p.configure(tx[4], tx[5], uint32(tx[6])<<16|uint32(tx[7])<<8|uint32(tx[8]))

	case ModeRequestDpids:
		if len(tx) < 6 {
			return p.negative(mode)
		}
		p.requests++
		return p.request(Rate(tx[4]), tx[5:])
	}
	return p.negative(mode)
}

func (p *SimulatedPCM) configure(dpid, format byte, id uint32) [][]byte {
	defineBy := DefineBy(format >> 6)
	offset := int(format>>3) & 0x07
	size := int(format) & 0x07
	if offset == 0 || size == 0 || offset+size-1 > MaxBytes {
		return p.negative(ModeConfigureDpid)
	}

	var key uint32
	switch defineBy {
	case DefineByPID:
		key = id >> 8
	case DefineByAddress:
		key = id
	default:
		return p.negative(ModeConfigureDpid)
	}

	slots := p.dpids[dpid]
	replaced := false
	for i := range slots {
		if slots[i].offset == offset {
			slots[i] = dpidSlot{offset, size, key}
			replaced = true
		}
	}
	if !replaced {
		slots = append(slots, dpidSlot{offset, size, key})
	}
	p.dpids[dpid] = slots
	return p.reply(ModeConfigureDpid+ModeResponseOffset, dpid)
}

func (p *SimulatedPCM) request(rate Rate, ids []byte) [][]byte {
	for _, id := range ids {
		if _, ok := p.dpids[id]; !ok {
			return p.negative(ModeRequestDpids)
		}
	}

	switch rate {
	case RateStop:
		p.streaming = nil
		return nil
	case RateSingleRow:
	default:
		p.streaming = append([]byte(nil), ids...)
		p.next = 0
	}

	frames := make([][]byte, 0, len(ids))
	for _, id := range ids {
		frames = append(frames, p.frame(id))
	}
	return frames
}

// Idle sends the next streamed DPID, if streaming.
func (p *SimulatedPCM) Idle() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Silent || len(p.streaming) == 0 {
		return nil
	}
	id := p.streaming[p.next]
	p.next = (p.next + 1) % len(p.streaming)
	return [][]byte{p.frame(id)}
}

func (p *SimulatedPCM) frame(dpid byte) []byte {
	p.tick++
	slots := p.dpids[dpid]

	n := 0
	for _, s := range slots {
		if end := s.offset - 1 + s.size; end > n {
			n = end
		}
	}
	payload := make([]byte, n)
	for _, s := range slots {
		v, ok := p.Values[s.key]
		if !ok {
			v = s.key*31 + p.tick*7
		}
		for i := s.size - 1; i >= 0; i-- {
			payload[s.offset-1+i] = byte(v)
			v >>= 8
		}
	}
	return p.reply(ModeDpidData, append([]byte{dpid}, payload...)...)[0]
}

func (p *SimulatedPCM) reply(mode byte, body ...byte) [][]byte {
	msg := []byte{PriorityPhysical0, DeviceTool, DevicePCM, mode}
	return [][]byte{append(msg, body...)}
}

func (p *SimulatedPCM) negative(mode byte) [][]byte {
	return p.reply(ModeNegative, mode)
}

// Requests returns how many DPID requests were received.
func (p *SimulatedPCM) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// ToolPresents returns how many tool present notifications were received.
func (p *SimulatedPCM) ToolPresents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toolPresent
}

// SetSilent changes Silent while the PCM is in use.
func (p *SimulatedPCM) SetSilent(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Silent = silent
}
