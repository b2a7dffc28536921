package twi

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
	"tinygo.org/x/drivers"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/busctx"
)

var _ deskclock.RegisterBus = &Bus{}
var _ drivers.I2C = &Bus{}

type State uint32

const (
	StateIdle State = iota
	StateBusy
)

func (s State) String() string {
	if s == StateBusy {
		return "busy"
	}
	return "idle"
}

// Bus is the owned handle of an initialized bus. Exactly one composite
// operation holds it at a time, from the start condition until after the
// stop condition and its settle delay.
type Bus struct {
	hw     Hardware
	opts   Opts
	sem    *semaphore.Weighted
	state  atomic.Uint32
	logger *slog.Logger
}

func newBus(hw Hardware, opts Opts) *Bus {
	return &Bus{
		hw:     hw,
		opts:   opts,
		sem:    semaphore.NewWeighted(1),
		logger: opts.Logger,
	}
}

// State reports whether a composite operation currently holds the bus.
func (b *Bus) State() State {
	return State(b.state.Load())
}

// Transmit writes buffer to the device in one transaction. An empty buffer
// only addresses the device, which is how presence probes are done.
func (b *Bus) Transmit(ctx context.Context, address deskclock.Address, buffer []byte) error {
	if err := address.Validate(); err != nil {
		return &deskclock.BusError{Op: deskclock.OpTransmit, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if busctx.IsVerbose(ctx) {
		b.logger.Debug("transmit", "addr", address, "data", hex.Dump(buffer))
	}
	return b.do(ctx, deskclock.OpTransmit, address, func(t *transaction) error {
		return t.write(buffer)
	})
}

// TryTransmit is Transmit that fails with ErrBusBusy instead of waiting
// for the bus.
func (b *Bus) TryTransmit(ctx context.Context, address deskclock.Address, buffer []byte) error {
	if err := address.Validate(); err != nil {
		return &deskclock.BusError{Op: deskclock.OpTransmit, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if !b.sem.TryAcquire(1) {
		return &deskclock.BusError{Op: deskclock.OpTransmit, Phase: deskclock.PhaseAcquire, Addr: address, Err: deskclock.ErrBusBusy}
	}
	defer b.sem.Release(1)
	return b.run(ctx, deskclock.OpTransmit, address, func(t *transaction) error {
		return t.write(buffer)
	})
}

// ReadRegister selects register on the device and reads length bytes from
// it without releasing the bus in between.
func (b *Bus) ReadRegister(ctx context.Context, address deskclock.Address, register byte, length int) ([]byte, error) {
	if err := address.Validate(); err != nil {
		return nil, &deskclock.BusError{Op: deskclock.OpReadRegister, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if err := b.validateLength(length); err != nil {
		return nil, &deskclock.BusError{Op: deskclock.OpReadRegister, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	out := make([]byte, length)
	err := b.do(ctx, deskclock.OpReadRegister, address, func(t *transaction) error {
		if err := t.write([]byte{register}); err != nil {
			return err
		}
		return t.read(out)
	})
	if err != nil {
		return nil, err
	}
	if busctx.IsVerbose(ctx) {
		b.logger.Debug("read register", "addr", address, "register", register, "data", hex.Dump(out))
	}
	return out, nil
}

// Tx implements drivers.I2C so TinyGo device drivers can share the bus.
// A write followed by a read is joined with a repeated start.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > uint16(deskclock.MaxAddress) {
		return &deskclock.BusError{Op: deskclock.OpTx, Phase: deskclock.PhaseValidate, Addr: deskclock.Address(addr), Err: fmt.Errorf("%w: %#x", deskclock.ErrInvalidAddress, addr)}
	}
	address := deskclock.Address(addr)
	if len(r) == 0 {
		return b.Transmit(context.Background(), address, w)
	}
	if err := b.validateLength(len(r)); err != nil {
		return &deskclock.BusError{Op: deskclock.OpTx, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	return b.do(context.Background(), deskclock.OpTx, address, func(t *transaction) error {
		if len(w) > 0 {
			if err := t.write(w); err != nil {
				return err
			}
		}
		return t.read(r)
	})
}

func (b *Bus) validateLength(length int) error {
	if length <= 0 || length > b.opts.MaxRead {
		return fmt.Errorf("%w: %d (allowed 1-%d)", deskclock.ErrInvalidLength, length, b.opts.MaxRead)
	}
	return nil
}

func (b *Bus) do(ctx context.Context, op string, address deskclock.Address, fn func(t *transaction) error) error {
	err := b.sem.Acquire(ctx, 1)
	if err != nil {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseAcquire, Addr: address, Err: fmt.Errorf("%w: %w", deskclock.ErrBusBusy, err)}
	}
	defer b.sem.Release(1)
	return b.run(ctx, op, address, fn)
}

// run executes fn with the bus held. The bus always ends idle: on any
// failure the stop condition is still issued.
func (b *Bus) run(ctx context.Context, op string, address deskclock.Address, fn func(t *transaction) error) error {
	b.state.Store(uint32(StateBusy))
	defer b.state.Store(uint32(StateIdle))

	if b.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.PollTimeout)
		defer cancel()
	}
	t := &transaction{
		ctx:     ctx,
		hw:      b.hw,
		opts:    &b.opts,
		address: address,
	}
	err := fn(t)
	if err != nil {
		phase := t.phase
		if stopErr := t.stop(); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
		b.logger.Debug("transaction aborted", "op", op, "addr", address, "phase", phase, "error", err)
		return &deskclock.BusError{Op: op, Phase: phase, Addr: address, Err: err}
	}
	if err := t.stop(); err != nil {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseStop, Addr: address, Err: err}
	}
	return nil
}
