package display

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/twi"
)

// captureBus keeps every transmission in order.
type captureBus struct {
	mx    sync.Mutex
	sent  [][]byte
	addrs []deskclock.Address
	err   error
}

func (c *captureBus) Transmit(_ context.Context, address deskclock.Address, buffer []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.err != nil {
		return c.err
	}
	c.addrs = append(c.addrs, address)
	c.sent = append(c.sent, append([]byte(nil), buffer...))
	return nil
}

// panel is a display model for the simulator: it records command and
// pixel bytes separately.
type panel struct {
	mx       sync.Mutex
	control  byte
	first    bool
	commands []byte
	pixels   []byte
}

func (p *panel) Begin(deskclock.Direction) bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.first = true
	return true
}

func (p *panel) Receive(b byte) bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.first {
		p.first = false
		p.control = b
		return true
	}
	if p.control == 0x40 {
		p.pixels = append(p.pixels, b)
	} else {
		p.commands = append(p.commands, b)
	}
	return true
}

func (p *panel) Send() byte { return 0 }

func (p *panel) End() {}

func TestSSD1306_Command(t *testing.T) {
	bus := &captureBus{}
	d := NewSSD1306(bus)

	require.NoError(t, d.Power(context.Background(), true))
	assert.Equal(t, [][]byte{{0x00, 0xAF}}, bus.sent)
	assert.Equal(t, []deskclock.Address{0x3C}, bus.addrs)
}

func TestSSD1306_Init(t *testing.T) {
	bus := &captureBus{}
	d := NewSSD1306(bus, WithAddress(0x3D))

	require.NoError(t, d.Init(context.Background()))
	assert.Equal(t, [][]byte{
		{0x00, 0xAE},
		{0x00, 0xA8, 0x3F},
		{0x00, 0x40},
		{0x00, 0xA1},
		{0x00, 0xC8},
		{0x00, 0xDA, 0x12},
		{0x00, 0x81, 0x7F},
		{0x00, 0xA4},
		{0x00, 0xD9, 0xC2},
		{0x00, 0xDB, 0x20},
		{0x00, 0xA6},
		{0x00, 0xD5, 0x80},
		{0x00, 0x8D, 0x14},
		{0x00, 0xAF},
	}, bus.sent)
	for _, a := range bus.addrs {
		assert.Equal(t, deskclock.Address(0x3D), a)
	}
}

func TestSSD1306_SetPosition(t *testing.T) {
	tests := []struct {
		name           string
		column, page   uint8
		expectedColumn byte
		expectedPage   byte
	}{
		{"origin", 0, 0, 0, 0},
		{"inside", 30, 4, 30, 4},
		{"last", 127, 7, 127, 7},
		{"column wraps", 128, 2, 0, 2},
		{"page wraps", 10, 8, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &captureBus{}
			require.NoError(t, NewSSD1306(bus).SetPosition(context.Background(), tt.column, tt.page))
			assert.Equal(t, [][]byte{
				{0x00, 0x21, tt.expectedColumn, 0x7F},
				{0x00, 0x22, tt.expectedPage, 0x07},
			}, bus.sent)
		})
	}
}

func TestSSD1306_ClearPage(t *testing.T) {
	bus := &captureBus{}
	require.NoError(t, NewSSD1306(bus).ClearPage(context.Background(), 6))

	require.Len(t, bus.sent, 3)
	data := bus.sent[2]
	require.Len(t, data, Width+1)
	assert.Equal(t, byte(0x40), data[0])
	assert.Equal(t, make([]byte, Width), data[1:])
}

func TestSSD1306_OutOfRange(t *testing.T) {
	bus := &captureBus{}
	d := NewSSD1306(bus)
	ctx := context.Background()

	assert.ErrorIs(t, d.FillPage(ctx, 8, 0xFF), ErrOutOfRange)
	assert.ErrorIs(t, d.WritePixels(ctx, 120, 0, make([]byte, 9)), ErrOutOfRange)
	assert.ErrorIs(t, d.WritePixels(ctx, 0, 9, []byte{0x01}), ErrOutOfRange)
	assert.Empty(t, bus.sent)

	assert.NoError(t, d.WritePixels(ctx, 120, 0, make([]byte, 8)))
}

func TestSSD1306_ErrorsAreWrapped(t *testing.T) {
	bus := &captureBus{err: deskclock.ErrNack}
	err := NewSSD1306(bus).Init(context.Background())
	assert.ErrorIs(t, err, deskclock.ErrNack)
	assert.ErrorContains(t, err, "display: could not send command 0xae")
}

func TestSSD1306_OverEngine(t *testing.T) {
	sim := twi.NewSim()
	p := &panel{}
	sim.Attach(DefaultAddress, p)
	bus, err := twi.Open(sim, twi.DefaultClockDivisor)
	require.NoError(t, err)
	d := NewSSD1306(bus)
	ctx := context.Background()

	require.NoError(t, d.Init(ctx))
	require.NoError(t, d.Clear(ctx))
	require.NoError(t, d.WritePixels(ctx, 30, 0, []byte{0x7E, 0x81, 0x7E}))

	assert.Equal(t, Pages*Width+3, len(p.pixels))
	assert.True(t, bytes.HasSuffix(p.pixels, []byte{0x7E, 0x81, 0x7E}))
	assert.Equal(t, byte(0xAE), p.commands[0])
}
