package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit builds the error a command returns to end the process with code.
func Exit(code int, msg string, args ...any) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// Fail reports err with a short description of what was being done.
func Fail(doing string, err error) cli.ExitCoder {
	return Exit(1, "%s: %s", doing, Red(err))
}
