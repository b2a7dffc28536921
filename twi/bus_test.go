package twi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/deskclock"
)

const (
	rtcAddress     deskclock.Address = 0x68
	displayAddress deskclock.Address = 0x3C
)

// recorder acknowledges everything and keeps what it was sent.
type recorder struct {
	mx   sync.Mutex
	data []byte
}

func (r *recorder) Begin(deskclock.Direction) bool { return true }

func (r *recorder) Receive(b byte) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.data = append(r.data, b)
	return true
}

func (r *recorder) Send() byte { return 0xFF }

func (r *recorder) End() {}

func (r *recorder) received() []byte {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]byte(nil), r.data...)
}

// gated holds the first data byte until release is closed.
type gated struct {
	recorder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGated() *gated {
	return &gated{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gated) Receive(b byte) bool {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.recorder.Receive(b)
}

func newTestBus(t *testing.T, opts ...Opt) (*Bus, *Sim) {
	t.Helper()
	sim := NewSim()
	bus, err := Open(sim, DefaultClockDivisor, opts...)
	require.NoError(t, err)
	return bus, sim
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func reads(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == EventRead {
			out = append(out, e)
		}
	}
	return out
}

func TestBus_TransmitTime(t *testing.T) {
	bus, sim := newTestBus(t)
	rtc := NewRegisterFile(0x13)
	sim.Attach(rtcAddress, rtc)

	err := bus.Transmit(context.Background(), rtcAddress, []byte{0x00, 0x20, 0x10, 0x23})
	require.NoError(t, err)

	assert.Equal(t, []byte{0x20, 0x10, 0x23}, rtc.Peek(0x00, 3))
	assert.Equal(t, []Event{
		{Kind: EventStart},
		{Kind: EventAddress, Data: 0xD0, Ack: true},
		{Kind: EventWrite, Data: 0x00, Ack: true},
		{Kind: EventWrite, Data: 0x20, Ack: true},
		{Kind: EventWrite, Data: 0x10, Ack: true},
		{Kind: EventWrite, Data: 0x23, Ack: true},
		{Kind: EventStop},
	}, sim.Events())
	assert.Equal(t, StateIdle, bus.State())
}

func TestBus_TransmitDisplayCommand(t *testing.T) {
	bus, sim := newTestBus(t)
	display := &recorder{}
	sim.Attach(displayAddress, display)

	require.NoError(t, bus.Transmit(context.Background(), displayAddress, []byte{0x00, 0xAF}))

	assert.Equal(t, []byte{0x00, 0xAF}, display.received())
	events := sim.Events()
	require.Len(t, events, 5)
	assert.Equal(t, byte(0x78), events[1].Data)
}

func TestBus_TransmitProbe(t *testing.T) {
	bus, sim := newTestBus(t)
	sim.Attach(rtcAddress, NewRegisterFile(0x13))

	assert.NoError(t, bus.Transmit(context.Background(), rtcAddress, nil))
	assert.Equal(t, []EventKind{EventStart, EventAddress, EventStop}, kinds(sim.Events()))

	err := bus.Transmit(context.Background(), 0x50, nil)
	assert.ErrorIs(t, err, deskclock.ErrNack)
}

func TestBus_ReadRegister(t *testing.T) {
	bus, sim := newTestBus(t)
	rtc := NewRegisterFile(0x13)
	rtc.Poke(0x00, 0x20, 0x10, 0x23)
	sim.Attach(rtcAddress, rtc)

	got, err := bus.ReadRegister(context.Background(), rtcAddress, 0x00, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x10, 0x23}, got)
	assert.Equal(t, []Event{
		{Kind: EventStart},
		{Kind: EventAddress, Data: 0xD0, Ack: true},
		{Kind: EventWrite, Data: 0x00, Ack: true},
		{Kind: EventRestart},
		{Kind: EventAddress, Data: 0xD1, Ack: true},
		{Kind: EventRead, Data: 0x20, Ack: true},
		{Kind: EventRead, Data: 0x10, Ack: true},
		{Kind: EventRead, Data: 0x23, Ack: false},
		{Kind: EventStop},
	}, sim.Events())
}

func TestBus_ReadRegister_NackOnlyLast(t *testing.T) {
	for _, length := range []int{1, 2, 3, 7, 19, 32} {
		t.Run(fmt.Sprintf("length %d", length), func(t *testing.T) {
			bus, sim := newTestBus(t)
			rtc := NewRegisterFile(0x13)
			for i := 0; i < 0x13; i++ {
				rtc.Poke(byte(i), byte(0xA0+i))
			}
			sim.Attach(rtcAddress, rtc)

			got, err := bus.ReadRegister(context.Background(), rtcAddress, 0x02, length)
			require.NoError(t, err)
			require.Len(t, got, length)
			assert.Equal(t, rtc.Peek(0x02, length), got)

			rd := reads(sim.Events())
			require.Len(t, rd, length, "device must be clocked exactly once per byte")
			for i, e := range rd {
				assert.Equal(t, i == length-1, !e.Ack, "read %d", i)
			}
		})
	}
}

func TestBus_RoundTrip(t *testing.T) {
	bus, sim := newTestBus(t)
	sim.Attach(rtcAddress, NewRegisterFile(0x13))
	ctx := context.Background()

	require.NoError(t, bus.Transmit(ctx, rtcAddress, []byte{0x04, 0x13, 0x12, 0x23}))
	got, err := bus.ReadRegister(ctx, rtcAddress, 0x04, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x13, 0x12, 0x23}, got)
}

func TestBus_NackAborts(t *testing.T) {
	bus, sim := newTestBus(t)

	_, err := bus.ReadRegister(context.Background(), rtcAddress, 0x00, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, deskclock.ErrNack)

	var busErr *deskclock.BusError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, deskclock.PhaseAddress, busErr.Phase)
	assert.Equal(t, rtcAddress, busErr.Addr)
	assert.Equal(t, []EventKind{EventStart, EventAddress, EventStop}, kinds(sim.Events()))
	assert.Equal(t, StateIdle, bus.State())
}

func TestBus_StalledDeviceTimesOut(t *testing.T) {
	tests := []struct {
		name string
		opts []Opt
	}{
		{"attempt bound", []Opt{WithPollAttempts(500), WithPollTimeout(time.Second)}},
		{"deadline bound", []Opt{WithPollAttempts(1 << 30), WithPollTimeout(20 * time.Millisecond), WithPollInterval(time.Millisecond)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, sim := newTestBus(t, tt.opts...)
			sim.Stall(rtcAddress)
			sim.Attach(displayAddress, &recorder{})

			start := time.Now()
			_, err := bus.ReadRegister(context.Background(), rtcAddress, 0x00, 3)
			assert.Less(t, time.Since(start), 500*time.Millisecond)
			assert.ErrorIs(t, err, deskclock.ErrBusTimeout)
			assert.Equal(t, []EventKind{EventStart, EventStop}, kinds(sim.Events()))

			// the bus is usable again
			assert.NoError(t, bus.Transmit(context.Background(), displayAddress, []byte{0x00, 0xAE}))
		})
	}
}

func TestBus_StuckBusyAfterStop(t *testing.T) {
	bus, sim := newTestBus(t, WithPollAttempts(100))
	sim.Attach(displayAddress, &recorder{})
	sim.StuckBusy(true)

	err := bus.Transmit(context.Background(), displayAddress, []byte{0x00, 0xAE})
	assert.ErrorIs(t, err, deskclock.ErrBusTimeout)
	var busErr *deskclock.BusError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, deskclock.PhaseStop, busErr.Phase)
}

func TestBus_Validation(t *testing.T) {
	bus, sim := newTestBus(t)
	ctx := context.Background()

	err := bus.Transmit(ctx, 0x80, []byte{0x00})
	assert.ErrorIs(t, err, deskclock.ErrInvalidAddress)

	_, err = bus.ReadRegister(ctx, 0xFF, 0x00, 1)
	assert.ErrorIs(t, err, deskclock.ErrInvalidAddress)

	_, err = bus.ReadRegister(ctx, rtcAddress, 0x00, 0)
	assert.ErrorIs(t, err, deskclock.ErrInvalidLength)

	_, err = bus.ReadRegister(ctx, rtcAddress, 0x00, 256)
	assert.ErrorIs(t, err, deskclock.ErrInvalidLength)

	assert.Empty(t, sim.Events(), "rejected requests must not touch the bus")
}

func TestBus_Tx(t *testing.T) {
	bus, sim := newTestBus(t)
	rtc := NewRegisterFile(0x13)
	rtc.Poke(0x11, 0x19, 0x40)
	sim.Attach(rtcAddress, rtc)

	r := make([]byte, 2)
	require.NoError(t, bus.Tx(uint16(rtcAddress), []byte{0x11}, r))
	assert.Equal(t, []byte{0x19, 0x40}, r)

	require.NoError(t, bus.Tx(uint16(rtcAddress), []byte{0x0E, 0x1C}, nil))
	assert.Equal(t, []byte{0x1C}, rtc.Peek(0x0E, 1))

	assert.ErrorIs(t, bus.Tx(0x200, nil, nil), deskclock.ErrInvalidAddress)
}

func TestBus_ExclusiveAccess(t *testing.T) {
	bus, sim := newTestBus(t, WithPollTimeout(5*time.Second))
	gate := newGated()
	sim.Attach(displayAddress, gate)
	sim.Attach(rtcAddress, NewRegisterFile(0x13))

	done := make(chan error)
	go func() {
		done <- bus.Transmit(context.Background(), displayAddress, []byte{0x00, 0xAF})
	}()
	<-gate.entered
	assert.Equal(t, StateBusy, bus.State())

	err := bus.TryTransmit(context.Background(), rtcAddress, []byte{0x00})
	assert.ErrorIs(t, err, deskclock.ErrBusBusy)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = bus.Transmit(ctx, rtcAddress, []byte{0x00})
	assert.ErrorIs(t, err, deskclock.ErrBusBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, bus.State())
	assert.Equal(t, []byte{0x00, 0xAF}, gate.received())
}

func TestBus_ConcurrentTransactionsDoNotInterleave(t *testing.T) {
	bus, sim := newTestBus(t)
	const devices = 4
	const rounds = 25
	recorders := make([]*recorder, devices)
	for i := range recorders {
		recorders[i] = &recorder{}
		sim.Attach(deskclock.Address(0x20+i), recorders[i])
	}

	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			address := deskclock.Address(0x20 + i)
			for j := 0; j < rounds; j++ {
				assert.NoError(t, bus.Transmit(context.Background(), address, []byte{byte(i), byte(j), byte(i)}))
			}
		}(i)
	}
	wg.Wait()

	var current byte
	open := false
	writes := 0
	for _, e := range sim.Events() {
		switch e.Kind {
		case EventStart:
			require.False(t, open, "start inside a transaction")
			open = true
			writes = 0
		case EventAddress:
			current = e.Data
		case EventWrite:
			writes++
			if writes != 2 {
				assert.Equal(t, (current>>1)-0x20, e.Data, "write from another transaction")
			}
		case EventStop:
			require.True(t, open)
			assert.Equal(t, 3, writes)
			open = false
		}
	}
	for i, r := range recorders {
		assert.Len(t, r.received(), 3*rounds, "device %d", i)
	}
}

func TestEvent_String(t *testing.T) {
	tests := []struct {
		given    Event
		expected string
	}{
		{Event{Kind: EventStart}, "START"},
		{Event{Kind: EventAddress, Data: 0xD0, Ack: true}, "ADDR 0xd0 ACK"},
		{Event{Kind: EventWrite, Data: 0x05, Ack: true}, "WRITE 0x05 ACK"},
		{Event{Kind: EventRead, Data: 0x23}, "READ 0x23 NACK"},
		{Event{Kind: EventStop}, "STOP"},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.given.String())
		})
	}
}
