package deskclock

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressByte(t *testing.T) {
	for a := Address(0); a <= MaxAddress; a++ {
		assert.Equal(t, byte(a)<<1, AddressByte(a, Write))
		assert.Equal(t, byte(a)<<1|1, AddressByte(a, Read))
	}
	assert.Equal(t, byte(0xD0), AddressByte(0x68, Write))
	assert.Equal(t, byte(0xD1), AddressByte(0x68, Read))
	assert.Equal(t, byte(0x78), AddressByte(0x3C, Write))
}

func TestAddress_Validate(t *testing.T) {
	tests := []struct {
		given Address
		valid bool
	}{
		{0x00, true},
		{0x3C, true},
		{0x7F, true},
		{0x80, false},
		{0xFF, false},
	}
	for _, test := range tests {
		t.Run(test.given.String(), func(t *testing.T) {
			err := test.given.Validate()
			if test.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestBusError_Unwrap(t *testing.T) {
	err := fmt.Errorf("rtc: read failed: %w", &BusError{
		Op:    "read register",
		Phase: PhaseAddress,
		Addr:  0x68,
		Err:   ErrBusTimeout,
	})
	assert.ErrorIs(t, err, ErrBusTimeout)
	var busErr *BusError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, PhaseAddress, busErr.Phase)
	assert.Equal(t, "rtc: read failed: read register 0x68 (address phase): bus timeout (no completion within poll window)", err.Error())
}

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "0x68", Address(0x68).String())
	assert.Equal(t, "0x3c", Address(0x3C).String())
	assert.Equal(t, "0x05", Address(0x05).String())
	assert.Equal(t, "write to 0x68", fmt.Sprintf("%s to %s", Write, Address(0x68)))
}
