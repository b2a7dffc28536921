package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/clock"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
	"github.com/mklimuk/deskclock/config"
	"github.com/mklimuk/deskclock/display"
	"github.com/mklimuk/deskclock/rtc"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "run the clock until interrupted",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-set",
			Usage: "do not write the initial time to the rtc",
		},
		&cli.StringFlag{
			Name:  "initial-time",
			Usage: "RFC3339 time written to the rtc at startup; overrides the config file",
		},
	},
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error {
			if c.Bool("no-set") {
				cfg.RTC.Set = false
			}
			if c.IsSet("initial-time") {
				cfg.RTC.InitialTime = c.String("initial-time")
			}
			opts := []clock.Opt{
				clock.WithReadInterval(cfg.Schedule.ReadInterval),
				clock.WithMonitorInterval(cfg.Schedule.MonitorInterval),
				clock.WithLogger(slog.Default().With("component", "clock")),
			}
			if cfg.RTC.Set {
				initial, err := cfg.RTC.Initial(time.Now)
				if err != nil {
					return console.Fail("configuration error", err)
				}
				opts = append(opts, clock.WithInitialTime(initial))
			}
			if cfg.Display.Enabled {
				screen := display.NewSSD1306(bus, display.WithAddress(deskclock.Address(cfg.Display.Address)))
				opts = append(opts, clock.WithScreen(screen))
			}
			ds := rtc.NewDS3231(bus, rtc.WithAddress(deskclock.Address(cfg.RTC.Address)))
			runner := clock.NewRunner(ds, opts...)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err := runner.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return console.Fail("clock error", err)
			}
			console.Infof("reads: %d, faults: %d", runner.Reads(), runner.Faults())
			if runner.ClockLost() {
				console.PInfof(console.PictoStop, "%s", console.Red("CLOCK LOST"))
			}
			return nil
		})
	},
}
