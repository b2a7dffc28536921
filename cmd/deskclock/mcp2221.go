package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/deskclock/adapter"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "USB bridge maintenance",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "id", Usage: "bridge index as listed by usb ls"},
	},
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221SpeedCmd,
	},
}

func newBridge(c *cli.Context) *adapter.MCP2221 {
	return adapter.NewMCP2221(adapter.WithDeviceID(c.Int("id")))
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	err := enc.Encode(v)
	if err != nil {
		return console.Fail("encoding error", err)
	}
	return nil
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the bridge status",
	Action: func(c *cli.Context) error {
		status, err := newBridge(c).Status(commandContext(c))
		if err != nil {
			return console.Fail("adapter communication error", err)
		}
		return printYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm("cancel the transfer in progress?")
			if err != nil {
				return console.Fail("prompt error", err)
			}
			if !ok {
				return nil
			}
		}
		status, err := newBridge(c).ReleaseBus(commandContext(c))
		if err != nil {
			return console.Fail("adapter communication error", err)
		}
		return printYAML(status)
	},
}

var mcp2221SpeedCmd = cli.Command{
	Name:  "speed",
	Usage: "set the bus clock",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "hz", Value: 100_000, Usage: "bus clock in Hz"},
	},
	Action: func(c *cli.Context) error {
		err := newBridge(c).SetSpeed(commandContext(c), c.Int("hz"))
		if err != nil {
			return console.Fail("could not set speed", err)
		}
		console.Infof("bus clock set to %s", console.White(fmt.Sprintf("%d Hz", c.Int("hz"))))
		return nil
	},
}
