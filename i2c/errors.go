package i2c

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/mklimuk/deskclock"
)

type errnoSentinel struct {
	errno    syscall.Errno
	sentinel error
	phase    deskclock.Phase
}

// Kernel adapters report bus conditions as errno values. Host libraries
// often flatten them into the message text, so both forms are matched.
var errnoSentinels = append([]errnoSentinel{
	{syscall.ENXIO, deskclock.ErrNack, deskclock.PhaseAddress},
	{syscall.ETIMEDOUT, deskclock.ErrBusTimeout, ""},
	{syscall.EBUSY, deskclock.ErrBusBusy, deskclock.PhaseAcquire},
	{syscall.EAGAIN, deskclock.ErrBusBusy, deskclock.PhaseAcquire},
}, platformErrnos...)

// busError wraps a host driver failure, mapping the conditions the
// engine reports with sentinels to the same sentinels.
func busError(op string, phase deskclock.Phase, address deskclock.Address, err error) error {
	for _, m := range errnoSentinels {
		if errors.Is(err, m.errno) || strings.Contains(err.Error(), m.errno.Error()) {
			err = fmt.Errorf("%w: %w", m.sentinel, err)
			if m.phase != "" {
				phase = m.phase
			}
			break
		}
	}
	return &deskclock.BusError{Op: op, Phase: phase, Addr: address, Err: err}
}
