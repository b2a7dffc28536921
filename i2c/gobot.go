package i2c

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/deskclock"
)

var _ deskclock.RegisterBus = &GobotBus{}

type GobotOpts struct {
	// BusNumber selects the adaptor bus; negative means the adaptor default.
	BusNumber int
	Finalize  func() error
}

type GobotOpt func(*GobotOpts)

func WithBusNumber(bus int) GobotOpt {
	return func(o *GobotOpts) {
		o.BusNumber = bus
	}
}

// WithFinalize registers a hook run by Close after the connections are closed.
func WithFinalize(finalize func() error) GobotOpt {
	return func(o *GobotOpts) {
		o.Finalize = finalize
	}
}

// GobotBus runs transactions through a gobot I2C connector, keeping one
// connection per device address.
type GobotBus struct {
	mx        sync.Mutex
	connector gobot.Connector
	bus       int
	finalize  func() error
	conns     map[deskclock.Address]gobot.Connection
}

func NewGobotBus(connector gobot.Connector, opts ...GobotOpt) *GobotBus {
	config := GobotOpts{BusNumber: -1}
	for _, opt := range opts {
		opt(&config)
	}
	if config.BusNumber < 0 {
		config.BusNumber = connector.DefaultI2cBus()
	}
	return &GobotBus{
		connector: connector,
		bus:       config.BusNumber,
		finalize:  config.Finalize,
		conns:     make(map[deskclock.Address]gobot.Connection),
	}
}

// NewNanoPiBus connects a NanoPi NEO adaptor and returns its bus.
func NewNanoPiBus(bus int) (*GobotBus, error) {
	npi := nanopi.NewNeoAdaptor()
	err := npi.I2cBusAdaptor.Connect()
	if err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	return NewGobotBus(npi, WithBusNumber(bus), WithFinalize(npi.I2cBusAdaptor.Finalize)), nil
}

func (b *GobotBus) connection(address deskclock.Address) (gobot.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %s on bus %d: %w", address, b.bus, err)
	}
	b.conns[address] = conn
	return conn, nil
}

func (b *GobotBus) Transmit(ctx context.Context, address deskclock.Address, buffer []byte) error {
	const op = deskclock.OpTransmit
	if err := address.Validate(); err != nil {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseAcquire, Addr: address, Err: fmt.Errorf("%w: %w", deskclock.ErrBusBusy, err)}
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return busError(op, deskclock.PhaseAcquire, address, err)
	}
	n, err := conn.Write(buffer)
	if err != nil {
		return busError(op, deskclock.PhaseWrite, address, fmt.Errorf("could not write to %s: %w", address, err))
	}
	if n != len(buffer) {
		return &deskclock.BusError{Op: op, Phase: deskclock.PhaseWrite, Addr: address, Err: fmt.Errorf("short write to %s: %d of %d", address, n, len(buffer))}
	}
	return nil
}

// ReadRegister uses a block read, which the adaptor issues as a register
// write and a read joined by a repeated start.
func (b *GobotBus) ReadRegister(ctx context.Context, address deskclock.Address, register byte, length int) ([]byte, error) {
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
	conn, err := b.connection(address)
	if err != nil {
		return nil, busError(op, deskclock.PhaseAcquire, address, err)
	}
	out := make([]byte, length)
	err = conn.ReadBlockData(register, out)
	if err != nil {
		return nil, busError(op, deskclock.PhaseRead, address, fmt.Errorf("could not read register %#02x from %s: %w", register, address, err))
	}
	return out, nil
}

// Close closes every connection and then finalizes the adaptor.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for address, conn := range b.conns {
		if closeErr := conn.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("closing %s: %w", address, closeErr))
		}
		delete(b.conns, address)
	}
	if b.finalize != nil {
		err = multierr.Append(err, b.finalize())
	}
	return err
}
