package twi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHardware struct {
	*Sim
}

func (failingHardware) ConfigurePins() error {
	return errors.New("port clock gated")
}

func TestController_Bus(t *testing.T) {
	sim := NewSim()
	c := NewController(sim)

	_, err := c.Bus()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, c.Init(0x14))
	_, err = c.Bus()
	assert.ErrorIs(t, err, ErrNotInitialized, "pins are not mapped yet")

	require.NoError(t, c.InitPins())
	bus, err := c.Bus()
	require.NoError(t, err)

	again, err := c.Bus()
	require.NoError(t, err)
	assert.Same(t, bus, again)

	divisor, enabled := sim.Divisor()
	assert.Equal(t, uint8(0x14), divisor)
	assert.True(t, enabled)
	assert.True(t, sim.PinsMapped())
}

func TestController_InitIsRepeatable(t *testing.T) {
	sim := NewSim()
	c := NewController(sim)
	require.NoError(t, c.Init(0x14))
	require.NoError(t, c.Init(DefaultClockDivisor))

	divisor, _ := sim.Divisor()
	assert.Equal(t, uint8(DefaultClockDivisor), divisor)
}

func TestOpen_PinFailure(t *testing.T) {
	_, err := Open(failingHardware{NewSim()}, DefaultClockDivisor)
	assert.ErrorContains(t, err, "port clock gated")
}
