package i2c

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/deskclock"
)

func TestGenericBus_Transmit(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x3C, W: []byte{0x00, 0xAF}},
		},
		DontPanic: true,
	}
	bus := NewBus(playback)

	require.NoError(t, bus.Transmit(context.Background(), 0x3C, []byte{0x00, 0xAF}))
	assert.NoError(t, bus.Close())
}

func TestGenericBus_ReadRegister(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x68, W: []byte{0x00}, R: []byte{0x20, 0x10, 0x23}},
		},
		DontPanic: true,
	}
	bus := NewBus(playback)

	got, err := bus.ReadRegister(context.Background(), 0x68, 0x00, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x10, 0x23}, got)
	assert.NoError(t, bus.Close())
}

func TestGenericBus_Validation(t *testing.T) {
	bus := NewBus(&i2ctest.Playback{DontPanic: true})
	ctx := context.Background()

	assert.ErrorIs(t, bus.Transmit(ctx, 0x80, nil), deskclock.ErrInvalidAddress)
	_, err := bus.ReadRegister(ctx, 0x68, 0x00, 0)
	assert.ErrorIs(t, err, deskclock.ErrInvalidLength)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, bus.Transmit(canceled, 0x68, []byte{0x00}), deskclock.ErrBusBusy)
}

func TestGenericBus_UnexpectedTransaction(t *testing.T) {
	bus := NewBus(&i2ctest.Playback{DontPanic: true})
	err := bus.Transmit(context.Background(), 0x68, []byte{0x00})
	assert.ErrorContains(t, err, "could not write to i2c bus 0x68")
}

// failingBus fails every transaction with err.
type failingBus struct {
	err error
}

func (f *failingBus) String() string {
	return "failing"
}

func (f *failingBus) Tx(addr uint16, w, r []byte) error {
	return f.err
}

func (f *failingBus) SetSpeed(freq physic.Frequency) error {
	return nil
}

func TestGenericBus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		given    error
		expected error
		phase    deskclock.Phase
	}{
		{"errno nack", syscall.ENXIO, deskclock.ErrNack, deskclock.PhaseAddress},
		{"flattened nack", fmt.Errorf("sysfs-i2c: %v", syscall.ENXIO), deskclock.ErrNack, deskclock.PhaseAddress},
		{"timeout", fmt.Errorf("sysfs-i2c: %v", syscall.ETIMEDOUT), deskclock.ErrBusTimeout, deskclock.PhaseRead},
		{"busy", syscall.EBUSY, deskclock.ErrBusBusy, deskclock.PhaseAcquire},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := NewBus(&failingBus{err: test.given})

			_, err := bus.ReadRegister(context.Background(), 0x68, 0x00, 1)

			assert.ErrorIs(t, err, test.expected)
			var busErr *deskclock.BusError
			require.True(t, errors.As(err, &busErr))
			assert.Equal(t, test.phase, busErr.Phase)
			assert.Equal(t, deskclock.OpReadRegister, busErr.Op)
		})
	}
}

func TestGenericBus_UnmappedError(t *testing.T) {
	bus := NewBus(&failingBus{err: errors.New("bus exploded")})

	err := bus.Transmit(context.Background(), 0x3C, []byte{0x00})

	assert.ErrorContains(t, err, "bus exploded")
	assert.NotErrorIs(t, err, deskclock.ErrNack)
	var busErr *deskclock.BusError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, deskclock.PhaseWrite, busErr.Phase)
}
