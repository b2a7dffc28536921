package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
	"github.com/mklimuk/deskclock/config"
	"github.com/mklimuk/deskclock/rtc"
)

var rtcCmd = cli.Command{
	Name:  "rtc",
	Usage: "real-time clock operations",
	Subcommands: cli.Commands{
		&rtcReadCmd,
		&rtcSetCmd,
		&rtcStatusCmd,
		&rtcClearCmd,
		&rtcTempCmd,
	},
}

// withRTC opens the bus and the clock chip at the configured address.
func withRTC(c *cli.Context, fn func(ctx context.Context, ds *rtc.DS3231) error) error {
	return withBus(c, func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error {
		return fn(ctx, rtc.NewDS3231(bus, rtc.WithAddress(deskclock.Address(cfg.RTC.Address))))
	})
}

var rtcReadCmd = cli.Command{
	Name:  "read",
	Usage: "print the date and time kept by the rtc",
	Action: func(c *cli.Context) error {
		return withRTC(c, func(ctx context.Context, ds *rtc.DS3231) error {
			date, err := ds.ReadDate(ctx)
			if err != nil {
				return console.Fail("could not read date", err)
			}
			t, err := ds.ReadTime(ctx)
			if err != nil {
				return console.Fail("could not read time", err)
			}
			console.PInfof(console.PictoCalendar, "%s %s", console.White(date), console.Cyan(date.DayOfWeek))
			console.PInfof(console.PictoClock, "%s", console.White(t))
			return nil
		})
	},
}

var rtcSetCmd = cli.Command{
	Name:      "set",
	Usage:     "write a time to the rtc; the host clock when none is given",
	ArgsUsage: "[RFC3339 time]",
	Action: func(c *cli.Context) error {
		now := time.Now()
		if c.Args().Present() {
			var err error
			now, err = time.Parse(time.RFC3339, c.Args().First())
			if err != nil {
				return console.Exit(1, "invalid time %q: %s", c.Args().First(), console.Red(err))
			}
		}
		return withRTC(c, func(ctx context.Context, ds *rtc.DS3231) error {
			err := ds.Set(ctx, now.UTC())
			if err != nil {
				return console.Fail("could not set clock", err)
			}
			console.Infof("rtc set to %s", console.White(now.UTC().Format(time.DateTime)))
			return nil
		})
	},
}

var rtcStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the rtc status register",
	Action: func(c *cli.Context) error {
		return withRTC(c, func(ctx context.Context, ds *rtc.DS3231) error {
			status, err := ds.Status(ctx)
			if err != nil {
				return console.Fail("could not read status", err)
			}
			console.Infof("status register: %#02x", byte(status))
			if status.OscillatorStopped() {
				console.PInfof(console.PictoStop, "%s: oscillator stopped, time is not valid", console.Red("CLOCK LOST"))
				return nil
			}
			console.Infof("oscillator %s", console.Green("running"))
			return nil
		})
	},
}

var rtcClearCmd = cli.Command{
	Name:  "clear",
	Usage: "clear the oscillator-stopped flag",
	Action: func(c *cli.Context) error {
		return withRTC(c, func(ctx context.Context, ds *rtc.DS3231) error {
			err := ds.ClearOscillatorFlag(ctx)
			if err != nil {
				return console.Fail("could not clear flag", err)
			}
			console.Infof("oscillator flag cleared")
			return nil
		})
	},
}

var rtcTempCmd = cli.Command{
	Name:    "temperature",
	Aliases: []string{"temp"},
	Usage:   "print the rtc die temperature",
	Action: func(c *cli.Context) error {
		return withRTC(c, func(ctx context.Context, ds *rtc.DS3231) error {
			temp, err := ds.Temperature(ctx)
			if err != nil {
				return console.Fail("error getting temperature read", err)
			}
			console.PInfof(console.PictoThermometer, "%s", console.White(temp))
			return nil
		})
	},
}
