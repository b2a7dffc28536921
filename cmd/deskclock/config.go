package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock/cmd/deskclock/console"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "configuration helpers",
	Subcommands: cli.Commands{
		&configPrintCmd,
	},
}

var configPrintCmd = cli.Command{
	Name:  "print",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Fail("configuration error", err)
		}
		buf, err := cfg.Encode()
		if err != nil {
			return console.Fail("encoding error", err)
		}
		console.Printf("%s", buf)
		return nil
	},
}
