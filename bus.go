package deskclock

import (
	"context"
	"errors"
	"fmt"
)

var ErrBusBusy = errors.New("bus is busy (transaction in progress)")
var ErrBusTimeout = errors.New("bus timeout (no completion within poll window)")
var ErrNack = errors.New("device did not acknowledge")
var ErrInvalidAddress = errors.New("invalid bus address")
var ErrInvalidLength = errors.New("invalid transfer length")

// MaxAddress is the highest 7-bit peripheral address.
const MaxAddress Address = 0x7F

// Address is a 7-bit peripheral address, right aligned.
type Address uint8

func (a Address) Validate() error {
	if a > MaxAddress {
		return fmt.Errorf("%w: %#x is outside 0x00-0x7f", ErrInvalidAddress, uint8(a))
	}
	return nil
}

func (a Address) String() string {
	return fmt.Sprintf("0x%02x", uint8(a))
}

type Direction uint8

const (
	Write Direction = 0
	Read  Direction = 1
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// AddressByte returns the byte sent during the address phase.
func AddressByte(a Address, d Direction) byte {
	return byte(a)<<1 | byte(d&0x01)
}

// Transmitter writes a byte sequence to a device in a single transaction.
// By convention the first byte is the register offset or control byte.
type Transmitter interface {
	Transmit(ctx context.Context, address Address, buffer []byte) error
}

// RegisterReader reads length bytes starting at the given device register.
type RegisterReader interface {
	ReadRegister(ctx context.Context, address Address, register byte, length int) ([]byte, error)
}

type RegisterBus interface {
	Transmitter
	RegisterReader
}
