package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/deskclock/adapter"
	"github.com/mklimuk/deskclock/cmd/deskclock/console"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "USB bridge discovery",
	Subcommands: cli.Commands{
		&usbLsCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list attached MCP2221 bridges",
	Action: func(c *cli.Context) error {
		devices := adapter.Enumerate()
		if len(devices) == 0 {
			console.PInfof(console.PictoGhost, "no bridges found")
			return nil
		}
		w := tabwriter.NewWriter(console.Writer(), 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tPATH\tSERIAL\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", dev.ID, dev.Path, dev.Serial, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}
