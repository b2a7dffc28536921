//go:build tinygo

package twi

import (
	"runtime/volatile"
	"unsafe"
)

// KL25Z I2C0 memory map
const (
	i2c0Base = 0x40066000
	i2c0F    = i2c0Base + 0x01
	i2c0C1   = i2c0Base + 0x02
	i2c0S    = i2c0Base + 0x03
	i2c0D    = i2c0Base + 0x04

	simSCGC4 = 0x40048034
	simSCGC5 = 0x40048038

	portCBase = 0x4004B000
)

const (
	c1IICEN = 0x80
	c1MST   = 0x20
	c1TX    = 0x10
	c1TXAK  = 0x08
	c1RSTA  = 0x04

	scgc4I2C0  = 1 << 6
	scgc5PortC = 1 << 11

	pcrMuxMask = 0x700
	pcrMuxI2C  = 0x200

	pinSCL = 8
	pinSDA = 9
)

var (
	regF  = (*volatile.Register8)(unsafe.Pointer(uintptr(i2c0F)))
	regC1 = (*volatile.Register8)(unsafe.Pointer(uintptr(i2c0C1)))
	regS  = (*volatile.Register8)(unsafe.Pointer(uintptr(i2c0S)))
	regD  = (*volatile.Register8)(unsafe.Pointer(uintptr(i2c0D)))

	regSCGC4 = (*volatile.Register32)(unsafe.Pointer(uintptr(simSCGC4)))
	regSCGC5 = (*volatile.Register32)(unsafe.Pointer(uintptr(simSCGC5)))
)

func portCPCR(pin uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(portCBase + 4*pin))
}

// KL25Z drives the I2C0 module of the KL25Z with SCL on PTC8 and SDA on PTC9.
type KL25Z struct{}

func (KL25Z) Configure(divisor uint8) error {
	regSCGC4.SetBits(scgc4I2C0)
	regC1.Set(0)
	regF.Set(divisor & 0x3F)
	regC1.Set(c1IICEN)
	return nil
}

func (KL25Z) ConfigurePins() error {
	regSCGC5.SetBits(scgc5PortC)
	for _, pin := range []uintptr{pinSCL, pinSDA} {
		pcr := portCPCR(pin)
		pcr.ReplaceBits(pcrMuxI2C, pcrMuxMask, 0)
	}
	return nil
}

func (KL25Z) SetMaster(on bool) {
	if on {
		regC1.SetBits(c1MST)
		return
	}
	regC1.ClearBits(c1MST)
}

func (KL25Z) SetTransmit(on bool) {
	if on {
		regC1.SetBits(c1TX)
		return
	}
	regC1.ClearBits(c1TX)
}

func (KL25Z) RepeatedStart() {
	regC1.SetBits(c1RSTA)
}

func (KL25Z) SetNack(on bool) {
	if on {
		regC1.SetBits(c1TXAK)
		return
	}
	regC1.ClearBits(c1TXAK)
}

func (KL25Z) WriteData(b byte) {
	regD.Set(b)
}

func (KL25Z) ReadData() byte {
	return regD.Get()
}

func (KL25Z) Status() Status {
	return Status(regS.Get())
}

// ClearEvent writes one to the interrupt flag, which leaves the other
// write-one-to-clear bits untouched.
func (KL25Z) ClearEvent() {
	regS.Set(uint8(StatusEvent))
}
