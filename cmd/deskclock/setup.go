package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/adapter"
	"github.com/mklimuk/deskclock/busctx"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
	"github.com/mklimuk/deskclock/config"
	"github.com/mklimuk/deskclock/i2c"
	"github.com/mklimuk/deskclock/twi"
)

// simulated RTC register file size: time, date, alarms, control, status,
// aging and temperature.
const rtcRegisters = 0x13

// loadConfig reads the config file when one is given and applies the
// global flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if c.IsSet("adapter") {
		cfg.Bus.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	return cfg, cfg.Validate()
}

// commandContext carries the verbose flag down to the bus backends.
func commandContext(c *cli.Context) context.Context {
	return busctx.SetVerbose(c.Context, c.Bool("verbose"))
}

// openBus opens the backend named by the config. The returned close
// function is never nil.
func openBus(cfg config.Config) (deskclock.RegisterBus, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Bus.Adapter {
	case config.AdapterSim:
		bus, err := openSim(cfg)
		return bus, noop, err
	case config.AdapterPeriph:
		bus, err := i2c.NewGenericBus(cfg.Bus.Device)
		if err != nil {
			return nil, noop, err
		}
		return bus, bus.Close, nil
	case config.AdapterNanoPi:
		number := -1
		if cfg.Bus.Device != "" {
			var err error
			number, err = strconv.Atoi(cfg.Bus.Device)
			if err != nil {
				return nil, noop, fmt.Errorf("%w: nanopi bus must be a number: %q", config.ErrInvalidConfig, cfg.Bus.Device)
			}
		}
		bus, err := i2c.NewNanoPiBus(number)
		if err != nil {
			return nil, noop, err
		}
		return bus, bus.Close, nil
	case config.AdapterMCP2221:
		mcp, err := openMCP2221(cfg)
		return mcp, noop, err
	}
	return nil, noop, fmt.Errorf("%w: unknown bus adapter %q", config.ErrInvalidConfig, cfg.Bus.Adapter)
}

// openSim brings up the polled engine on the simulator with an RTC and a
// display attached at the configured addresses.
func openSim(cfg config.Config) (*twi.Bus, error) {
	sim := twi.NewSim()
	sim.Attach(deskclock.Address(cfg.RTC.Address), twi.NewRegisterFile(rtcRegisters))
	if cfg.Display.Enabled {
		sim.Attach(deskclock.Address(cfg.Display.Address), twi.NewRegisterFile(256))
	}
	return twi.Open(sim, cfg.Bus.ClockDivisor,
		twi.WithPollAttempts(cfg.Bus.PollAttempts),
		twi.WithPollTimeout(cfg.Bus.PollTimeout),
		twi.WithSettleDelay(cfg.Bus.SettleDelay),
		twi.WithMaxRead(cfg.Bus.MaxRead),
		twi.WithLogger(slog.Default().With("bus", "sim")),
	)
}

func openMCP2221(cfg config.Config) (*adapter.MCP2221, error) {
	id := 0
	if cfg.Bus.Device != "" {
		var err error
		id, err = strconv.Atoi(cfg.Bus.Device)
		if err != nil {
			return nil, fmt.Errorf("%w: mcp2221 device must be an index: %q", config.ErrInvalidConfig, cfg.Bus.Device)
		}
	}
	return adapter.NewMCP2221(adapter.WithDeviceID(id), adapter.WithLogger(slog.Default().With("bus", "mcp2221"))), nil
}

// withBus loads the config, opens the bus and runs fn with it.
func withBus(c *cli.Context, fn func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return console.Fail("configuration error", err)
	}
	bus, closeBus, err := openBus(cfg)
	if err != nil {
		return console.Fail("bus initialization error", err)
	}
	defer func() {
		if err := closeBus(); err != nil {
			slog.Warn("could not close bus", "error", err)
		}
	}()
	return fn(commandContext(c), cfg, bus)
}
