package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
	"github.com/mklimuk/deskclock/config"
	"github.com/mklimuk/deskclock/display"
)

var displayCmd = cli.Command{
	Name:  "display",
	Usage: "display panel operations",
	Subcommands: cli.Commands{
		&displayInitCmd,
		&displayClearCmd,
		&displayPowerCmd,
		&displayContrastCmd,
		&displayInvertCmd,
	},
}

func withDisplay(c *cli.Context, fn func(ctx context.Context, d *display.SSD1306) error) error {
	return withBus(c, func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error {
		return fn(ctx, display.NewSSD1306(bus, display.WithAddress(deskclock.Address(cfg.Display.Address))))
	})
}

var displayInitCmd = cli.Command{
	Name:  "init",
	Usage: "run the power-up sequence and blank the panel",
	Action: func(c *cli.Context) error {
		return withDisplay(c, func(ctx context.Context, d *display.SSD1306) error {
			if err := d.Init(ctx); err != nil {
				return console.Fail("could not initialize display", err)
			}
			if err := d.Clear(ctx); err != nil {
				return console.Fail("could not clear display", err)
			}
			console.PInfof(console.PictoScreen, "display ready")
			return nil
		})
	},
}

var displayClearCmd = cli.Command{
	Name:  "clear",
	Usage: "blank the panel",
	Action: func(c *cli.Context) error {
		return withDisplay(c, func(ctx context.Context, d *display.SSD1306) error {
			if err := d.Clear(ctx); err != nil {
				return console.Fail("could not clear display", err)
			}
			return nil
		})
	},
}

var displayPowerCmd = cli.Command{
	Name:  "power",
	Usage: "turn the panel on or off",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "off", Usage: "turn the panel off"},
	},
	Action: func(c *cli.Context) error {
		return withDisplay(c, func(ctx context.Context, d *display.SSD1306) error {
			if err := d.Power(ctx, !c.Bool("off")); err != nil {
				return console.Fail("could not switch display", err)
			}
			return nil
		})
	},
}

var displayContrastCmd = cli.Command{
	Name:  "contrast",
	Usage: "set the panel contrast",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "value", Value: 0x7F, Usage: "contrast level (0-255)"},
	},
	Action: func(c *cli.Context) error {
		value := c.Uint("value")
		if value > 0xFF {
			return console.Exit(1, "contrast out of range: %d", value)
		}
		return withDisplay(c, func(ctx context.Context, d *display.SSD1306) error {
			if err := d.SetContrast(ctx, byte(value)); err != nil {
				return console.Fail("could not set contrast", err)
			}
			return nil
		})
	},
}

var displayInvertCmd = cli.Command{
	Name:  "invert",
	Usage: "invert the panel",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "normal", Usage: "restore normal display"},
	},
	Action: func(c *cli.Context) error {
		return withDisplay(c, func(ctx context.Context, d *display.SSD1306) error {
			if err := d.Invert(ctx, !c.Bool("normal")); err != nil {
				return console.Fail("could not invert display", err)
			}
			return nil
		})
	},
}
