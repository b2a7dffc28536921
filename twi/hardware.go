// Package twi implements a polled two-wire bus master on top of a small
// hardware capability. The protocol sequencing lives here and stays
// platform independent; each target only provides a Hardware.
package twi

// Status mirrors the controller status register. Bit positions follow the
// KL25Z I2Cx_S layout so that register backends can return it unchanged.
type Status uint8

const (
	// StatusNack is set when the receiver did not acknowledge the last byte.
	StatusNack Status = 0x01
	// StatusEvent is the transfer-complete interrupt flag. It stays set until ClearEvent.
	StatusEvent           Status = 0x02
	StatusArbitrationLost Status = 0x10
	StatusBusy            Status = 0x20
)

func (s Status) Has(flag Status) bool {
	return s&flag != 0
}

// Hardware is the register-level capability the engine drives.
//
// Receive semantics: while the controller is master and in receive mode,
// ReadData returns the byte currently latched in the data register and
// clocks the next byte in from the device. That byte is acknowledged
// according to the last SetNack call and becomes readable once StatusEvent
// is raised.
type Hardware interface {
	// Configure sets the bus clock divisor and enables the module.
	Configure(divisor uint8) error
	// ConfigurePins routes the clock and data lines to the bus function.
	ConfigurePins() error
	// SetMaster generates a start condition on a 0->1 transition and a stop on 1->0.
	SetMaster(on bool)
	SetTransmit(on bool)
	// RepeatedStart issues a start condition without releasing the bus.
	RepeatedStart()
	SetNack(on bool)
	WriteData(b byte)
	ReadData() byte
	Status() Status
	ClearEvent()
}
