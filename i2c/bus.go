// Package i2c adapts host I2C stacks to the deskclock bus interfaces. The
// host drivers run whole transactions, so these buses only frame requests.
package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/deskclock"
)

var _ deskclock.RegisterBus = &GenericBus{}

// GenericBus is a Linux I2C bus opened through periph.io.
type GenericBus struct {
	mx  sync.Mutex
	bus i2c.Bus
}

// NewGenericBus initializes the host drivers and opens dev; an empty dev
// opens the first bus found.
func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &GenericBus{
		bus: bus,
	}, nil
}

// NewBus wraps an already opened periph bus.
func NewBus(bus i2c.Bus) *GenericBus {
	return &GenericBus{bus: bus}
}

func (b *GenericBus) Transmit(ctx context.Context, address deskclock.Address, buffer []byte) error {
	const op = deskclock.OpTransmit
	if err := address.Validate(); err != nil {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseAcquire, Addr: address, Err: fmt.Errorf("%w: %w", deskclock.ErrBusBusy, err)}
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return busError(op, deskclock.PhaseWrite, address, fmt.Errorf("could not write to i2c bus %s: %w", address, err))
	}
	return nil
}

// ReadRegister relies on the host driver joining the write and the read
// with a repeated start.
func (b *GenericBus) ReadRegister(ctx context.Context, address deskclock.Address, register byte, length int) ([]byte, error) {
	const op = deskclock.OpReadRegister
	if err := address.Validate(); err != nil {
		return nil, &deskclock.BusError{Op: op, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if length <= 0 {
		return nil, &deskclock.BusError{Op: op, Phase: deskclock.PhaseValidate, Addr: address, Err: fmt.Errorf("%w: %d", deskclock.ErrInvalidLength, length)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &deskclock.BusError{Op: op, Phase: deskclock.PhaseAcquire, Addr: address, Err: fmt.Errorf("%w: %w", deskclock.ErrBusBusy, err)}
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	out := make([]byte, length)
	err := b.bus.Tx(uint16(address), []byte{register}, out)
	if err != nil {
		return nil, busError(op, deskclock.PhaseRead, address, fmt.Errorf("could not read from i2c bus %s: %w", address, err))
	}
	return out, nil
}

// SetSpeed sets the bus clock when the host driver supports it.
func (b *GenericBus) SetSpeed(hz int64) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz)
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func (b *GenericBus) Close() error {
	if closer, ok := b.bus.(i2c.BusCloser); ok {
		return closer.Close()
	}
	return nil
}
