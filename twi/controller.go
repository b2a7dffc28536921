package twi

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrNotInitialized = errors.New("twi: bus controller not initialized")

// DefaultClockDivisor gives roughly 186 kHz on a 24 MHz bus clock.
const DefaultClockDivisor = 0x1E

type Opts struct {
	// PollAttempts bounds every status poll loop.
	PollAttempts int
	// PollTimeout bounds the whole composite operation once the bus is held.
	PollTimeout time.Duration
	// PollInterval is slept between status reads; zero means busy polling.
	PollInterval time.Duration
	// SettleDelay follows every stop condition.
	SettleDelay time.Duration
	// MaxRead is the largest length ReadRegister accepts.
	MaxRead int
	Logger  *slog.Logger
}

type Opt func(*Opts)

func WithPollAttempts(attempts int) Opt {
	return func(o *Opts) {
		o.PollAttempts = attempts
	}
}

func WithPollTimeout(timeout time.Duration) Opt {
	return func(o *Opts) {
		o.PollTimeout = timeout
	}
}

func WithPollInterval(interval time.Duration) Opt {
	return func(o *Opts) {
		o.PollInterval = interval
	}
}

func WithSettleDelay(delay time.Duration) Opt {
	return func(o *Opts) {
		o.SettleDelay = delay
	}
}

func WithMaxRead(max int) Opt {
	return func(o *Opts) {
		o.MaxRead = max
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func defaultOpts() Opts {
	return Opts{
		PollAttempts: 10_000,
		PollTimeout:  50 * time.Millisecond,
		SettleDelay:  50 * time.Microsecond,
		MaxRead:      255,
	}
}

// Controller performs the one-time bring-up of the bus hardware and hands
// out the Bus handle. Init and InitPins must both succeed before Bus.
// They may be repeated but must not run while a transaction is in flight.
type Controller struct {
	mx        sync.Mutex
	hw        Hardware
	opts      Opts
	divisor   uint8
	clockDone bool
	pinsDone  bool
	bus       *Bus
}

func NewController(hw Hardware, opts ...Opt) *Controller {
	config := defaultOpts()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PollAttempts <= 0 {
		config.PollAttempts = 1
	}
	return &Controller{hw: hw, opts: config}
}

// Init sets the bus clock rate and enables the bus module.
func (c *Controller) Init(clockDivisor uint8) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	err := c.hw.Configure(clockDivisor)
	if err != nil {
		return fmt.Errorf("twi: could not configure bus clock: %w", err)
	}
	c.divisor = clockDivisor
	c.clockDone = true
	c.opts.Logger.Debug("bus clock configured", "divisor", clockDivisor)
	return nil
}

// InitPins maps the clock and data lines to bus mode.
func (c *Controller) InitPins() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	err := c.hw.ConfigurePins()
	if err != nil {
		return fmt.Errorf("twi: could not configure bus pins: %w", err)
	}
	c.pinsDone = true
	c.opts.Logger.Debug("bus pins configured")
	return nil
}

// Bus returns the bus handle. The same handle is returned on every call.
func (c *Controller) Bus() (*Bus, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if !c.clockDone || !c.pinsDone {
		return nil, ErrNotInitialized
	}
	if c.bus == nil {
		c.bus = newBus(c.hw, c.opts)
	}
	return c.bus, nil
}

// Open runs Init and InitPins and returns the bus handle.
func Open(hw Hardware, clockDivisor uint8, opts ...Opt) (*Bus, error) {
	c := NewController(hw, opts...)
	if err := c.Init(clockDivisor); err != nil {
		return nil, err
	}
	if err := c.InitPins(); err != nil {
		return nil, err
	}
	return c.Bus()
}
