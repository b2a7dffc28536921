package i2c

import (
	"syscall"

	"github.com/mklimuk/deskclock"
)

// i2c-dev reports a missing acknowledge as EREMOTEIO on most adapters.
var platformErrnos = []errnoSentinel{
	{syscall.EREMOTEIO, deskclock.ErrNack, deskclock.PhaseAddress},
}
