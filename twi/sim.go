package twi

import (
	"fmt"
	"sync"

	"github.com/mklimuk/deskclock"
)

// Peripheral is a device model attached to a Sim.
type Peripheral interface {
	// Begin is called when the device is addressed; returning false NACKs the address.
	Begin(dir deskclock.Direction) bool
	// Receive takes a byte written by the master; returning false NACKs it.
	Receive(b byte) bool
	// Send returns the next byte clocked out to the master.
	Send() byte
	// End is called on the stop condition.
	End()
}

type EventKind uint8

const (
	EventStart EventKind = iota
	EventRestart
	EventAddress
	EventWrite
	EventRead
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "START"
	case EventRestart:
		return "RESTART"
	case EventAddress:
		return "ADDR"
	case EventWrite:
		return "WRITE"
	case EventRead:
		return "READ"
	case EventStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Event is one bus-level occurrence recorded by the simulator. Ack holds the
// acknowledge seen on the wire for address, write and read events.
type Event struct {
	Kind EventKind
	Data byte
	Ack  bool
}

func (e Event) String() string {
	switch e.Kind {
	case EventAddress, EventWrite, EventRead:
		ack := "ACK"
		if !e.Ack {
			ack = "NACK"
		}
		return fmt.Sprintf("%s 0x%02x %s", e.Kind, e.Data, ack)
	default:
		return e.Kind.String()
	}
}

// Sim is an in-memory Hardware with attachable peripherals. Transfers
// complete immediately unless the addressed device is stalled.
type Sim struct {
	mx sync.Mutex

	devices map[deskclock.Address]Peripheral
	stalled map[deskclock.Address]bool

	divisor    uint8
	enabled    bool
	pinsMapped bool

	master      bool
	transmit    bool
	nack        bool
	expectAddr  bool
	stuckBusy   bool
	status      Status
	data        byte
	target      Peripheral
	targetDir   deskclock.Direction
	targetQuiet bool

	events []Event
}

func NewSim() *Sim {
	return &Sim{
		devices: make(map[deskclock.Address]Peripheral),
		stalled: make(map[deskclock.Address]bool),
	}
}

func (s *Sim) Attach(address deskclock.Address, p Peripheral) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.devices[address] = p
}

// Stall makes address-phase transfers to address never complete, as with a
// peripheral that holds the lines or a disconnected bus.
func (s *Sim) Stall(address deskclock.Address) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.stalled[address] = true
}

// StuckBusy keeps the busy flag raised after a stop condition.
func (s *Sim) StuckBusy(stuck bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.stuckBusy = stuck
}

// Events returns a copy of the recorded bus events.
func (s *Sim) Events() []Event {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Sim) ResetEvents() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.events = nil
}

// Divisor returns the last configured clock divisor and whether the module is enabled.
func (s *Sim) Divisor() (uint8, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.divisor, s.enabled
}

func (s *Sim) PinsMapped() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.pinsMapped
}

func (s *Sim) Configure(divisor uint8) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.divisor = divisor
	s.enabled = true
	return nil
}

func (s *Sim) ConfigurePins() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.pinsMapped = true
	return nil
}

func (s *Sim) SetMaster(on bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if on == s.master {
		return
	}
	s.master = on
	if on {
		s.status |= StatusBusy
		s.expectAddr = true
		s.record(Event{Kind: EventStart})
		return
	}
	if s.target != nil {
		s.target.End()
		s.target = nil
	}
	if !s.stuckBusy {
		s.status &^= StatusBusy
	}
	s.expectAddr = false
	s.record(Event{Kind: EventStop})
}

func (s *Sim) SetTransmit(on bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.transmit = on
}

func (s *Sim) RepeatedStart() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.master {
		return
	}
	s.expectAddr = true
	s.record(Event{Kind: EventRestart})
}

func (s *Sim) SetNack(on bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.nack = on
}

func (s *Sim) WriteData(b byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.data = b
	if !s.master || !s.transmit {
		return
	}
	if s.expectAddr {
		s.expectAddr = false
		s.addressPhase(b)
		return
	}
	ack := s.target != nil && s.targetDir == deskclock.Write && s.target.Receive(b)
	s.record(Event{Kind: EventWrite, Data: b, Ack: ack})
	s.complete(ack)
}

func (s *Sim) addressPhase(b byte) {
	address := deskclock.Address(b >> 1)
	dir := deskclock.Direction(b & 0x01)
	if s.stalled[address] {
		return
	}
	dev, ok := s.devices[address]
	ack := ok && dev.Begin(dir)
	s.record(Event{Kind: EventAddress, Data: b, Ack: ack})
	if ack {
		s.target = dev
		s.targetDir = dir
		s.targetQuiet = false
	} else {
		s.target = nil
	}
	s.complete(ack)
}

func (s *Sim) ReadData() byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	latched := s.data
	if !s.master || s.transmit || s.target == nil || s.targetDir != deskclock.Read {
		return latched
	}
	// a device that got NACKed has released the data line
	next := byte(0xFF)
	if !s.targetQuiet {
		next = s.target.Send()
	}
	ack := !s.nack
	if !ack {
		s.targetQuiet = true
	}
	s.data = next
	s.record(Event{Kind: EventRead, Data: next, Ack: ack})
	s.complete(true)
	return latched
}

func (s *Sim) Status() Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.status
}

func (s *Sim) ClearEvent() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.status &^= StatusEvent
}

func (s *Sim) complete(ack bool) {
	s.status |= StatusEvent
	if ack {
		s.status &^= StatusNack
	} else {
		s.status |= StatusNack
	}
}

func (s *Sim) record(e Event) {
	s.events = append(s.events, e)
}

// RegisterFile is a Peripheral with a register pointer, the layout used by
// most register-mapped devices: the first byte of a write selects the
// register and following bytes are stored with auto-increment. Reads start
// at the pointer and auto-increment, wrapping at the end of the file.
type RegisterFile struct {
	mx      sync.Mutex
	regs    []byte
	pointer int
	fresh   bool
}

func NewRegisterFile(size int) *RegisterFile {
	return &RegisterFile{regs: make([]byte, size)}
}

func (r *RegisterFile) Begin(dir deskclock.Direction) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.fresh = dir == deskclock.Write
	return true
}

func (r *RegisterFile) Receive(b byte) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.fresh {
		r.fresh = false
		r.pointer = int(b) % len(r.regs)
		return true
	}
	r.regs[r.pointer] = b
	r.pointer = (r.pointer + 1) % len(r.regs)
	return true
}

func (r *RegisterFile) Send() byte {
	r.mx.Lock()
	defer r.mx.Unlock()
	b := r.regs[r.pointer]
	r.pointer = (r.pointer + 1) % len(r.regs)
	return b
}

func (r *RegisterFile) End() {}

// Peek returns a copy of n registers starting at reg.
func (r *RegisterFile) Peek(reg byte, n int) []byte {
	r.mx.Lock()
	defer r.mx.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = r.regs[(int(reg)+i)%len(r.regs)]
	}
	return out
}

// Poke sets registers starting at reg without touching the pointer.
func (r *RegisterFile) Poke(reg byte, data ...byte) {
	r.mx.Lock()
	defer r.mx.Unlock()
	for i, b := range data {
		r.regs[(int(reg)+i)%len(r.regs)] = b
	}
}
