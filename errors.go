package deskclock

import "fmt"

// Phase names the step of a transaction an error occurred in.
type Phase string

const (
	PhaseAcquire  Phase = "acquire"
	PhaseValidate Phase = "validate"
	PhaseAddress  Phase = "address"
	PhaseWrite    Phase = "write"
	PhaseRestart  Phase = "repeated start"
	PhaseRead     Phase = "read"
	PhaseStop     Phase = "stop"
)

// Operation names carried by BusError.
const (
	OpTransmit     = "transmit"
	OpReadRegister = "read register"
	OpTx           = "tx"
)

// BusError is returned by the bus backends when a transaction fails.
// Err carries one of the package sentinels where the backend can tell the
// condition apart (possibly combined with a stop or release failure) so
// callers can match it with errors.Is.
type BusError struct {
	Op    string
	Phase Phase
	Addr  Address
	Err   error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s %s (%s phase): %v", e.Op, e.Addr, e.Phase, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}
