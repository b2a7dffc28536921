package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
	"github.com/mklimuk/deskclock/config"
)

// Addresses outside this range are reserved.
const (
	firstScanAddress = 0x08
	lastScanAddress  = 0x77
)

var busCmd = cli.Command{
	Name:  "bus",
	Usage: "raw bus operations",
	Subcommands: cli.Commands{
		&busScanCmd,
		&busReadCmd,
		&busWriteCmd,
	},
}

var busScanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe every address and list the ones that acknowledge",
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error {
			var found []string
			for a := deskclock.Address(firstScanAddress); a <= lastScanAddress; a++ {
				if err := bus.Transmit(ctx, a, nil); err != nil {
					continue
				}
				found = append(found, a.String())
			}
			if len(found) == 0 {
				console.PInfof(console.PictoGhost, "no devices found")
				return nil
			}
			console.PInfof(console.PictoPin, "found: %s", console.White(strings.Join(found, " ")))
			return nil
		})
	},
}

var busReadCmd = cli.Command{
	Name:  "read",
	Usage: "read bytes from a device register",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "address", Required: true, Usage: "7-bit device address"},
		&cli.UintFlag{Name: "register", Usage: "first register"},
		&cli.IntFlag{Name: "length", Value: 1, Usage: "number of bytes"},
	},
	Action: func(c *cli.Context) error {
		return withBus(c, func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error {
			address := deskclock.Address(c.Uint("address"))
			register := c.Uint("register")
			if register > 0xFF {
				return console.Exit(1, "register out of range: %#x", register)
			}
			data, err := bus.ReadRegister(ctx, address, byte(register), c.Int("length"))
			if err != nil {
				return console.Fail("read error", err)
			}
			console.Printf("% x\n", data)
			return nil
		})
	},
}

var busWriteCmd = cli.Command{
	Name:      "write",
	Usage:     "write bytes to a device",
	ArgsUsage: "<byte>...",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "address", Required: true, Usage: "7-bit device address"},
	},
	Action: func(c *cli.Context) error {
		payload, err := parseBytes(c.Args().Slice())
		if err != nil {
			return console.Exit(1, "invalid payload: %s", console.Red(err))
		}
		return withBus(c, func(ctx context.Context, cfg config.Config, bus deskclock.RegisterBus) error {
			err := bus.Transmit(ctx, deskclock.Address(c.Uint("address")), payload)
			if err != nil {
				return console.Fail("write error", err)
			}
			return nil
		})
	},
}

// parseBytes accepts decimal, 0x-prefixed hex or 0b-prefixed binary bytes.
func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, 0, len(args))
	for _, arg := range args {
		var v uint
		_, err := fmt.Sscan(arg, &v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", arg, err)
		}
		if v > 0xFF {
			return nil, fmt.Errorf("%q: out of byte range", arg)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
