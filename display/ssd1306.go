// Package display drives an SSD1306 128x64 OLED controller over a two-wire bus.
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/deskclock"
)

var ErrOutOfRange = errors.New("display: position out of range")

const DefaultAddress deskclock.Address = 0x3C

const (
	Width  = 128
	Height = 64
	Pages  = Height / 8
)

// Control bytes prefixed to every transmission.
const (
	controlCommand = 0x00
	controlData    = 0x40
)

const (
	cmdMemoryMode       = 0x20
	cmdColumnAddr       = 0x21
	cmdPageAddr         = 0x22
	cmdSetStartLine     = 0x40
	cmdSetContrast      = 0x81
	cmdChargePump       = 0x8D
	cmdSegRemap         = 0xA0
	cmdDisplayAllResume = 0xA4
	cmdNormalDisplay    = 0xA6
	cmdInvertDisplay    = 0xA7
	cmdSetMultiplex     = 0xA8
	cmdDisplayOff       = 0xAE
	cmdDisplayOn        = 0xAF
	cmdComScanDec       = 0xC8
	cmdSetDisplayClock  = 0xD5
	cmdSetPrecharge     = 0xD9
	cmdSetComPins       = 0xDA
	cmdSetVcomDetect    = 0xDB
)

const (
	multiplex128x64   = 0x3F
	comPins128x64     = 0x12
	defaultContrast   = 0x7F
	prechargePeriod   = 0xC2
	vcomDeselect      = 0x20
	clockDivideRatio  = 0x80
	chargePumpEnable  = 0x14
	horizontalAddress = 0x00
)

type Opts struct {
	Address deskclock.Address
}

type Opt func(*Opts)

func WithAddress(address deskclock.Address) Opt {
	return func(o *Opts) {
		o.Address = address
	}
}

// SSD1306 represents a Solomon Systech SSD1306 display controller wired for
// a 128x64 panel with the internal charge pump.
// See: https://cdn-shop.adafruit.com/datasheets/SSD1306.pdf
type SSD1306 struct {
	bus     deskclock.Transmitter
	address deskclock.Address
}

func NewSSD1306(bus deskclock.Transmitter, opts ...Opt) *SSD1306 {
	config := Opts{Address: DefaultAddress}
	for _, opt := range opts {
		opt(&config)
	}
	return &SSD1306{bus: bus, address: config.Address}
}

// Command sends one command with its arguments as a single transmission.
func (d *SSD1306) Command(ctx context.Context, cmd byte, args ...byte) error {
	buf := make([]byte, 0, len(args)+2)
	buf = append(buf, controlCommand, cmd)
	buf = append(buf, args...)
	err := d.bus.Transmit(ctx, d.address, buf)
	if err != nil {
		return fmt.Errorf("display: could not send command %#02x: %w", cmd, err)
	}
	return nil
}

func (d *SSD1306) data(ctx context.Context, pixels []byte) error {
	buf := make([]byte, 0, len(pixels)+1)
	buf = append(buf, controlData)
	buf = append(buf, pixels...)
	err := d.bus.Transmit(ctx, d.address, buf)
	if err != nil {
		return fmt.Errorf("display: could not send pixel data: %w", err)
	}
	return nil
}

// Init runs the power-up sequence and turns the panel on.
func (d *SSD1306) Init(ctx context.Context) error {
	sequence := []struct {
		cmd  byte
		args []byte
	}{
		{cmdDisplayOff, nil},
		{cmdSetMultiplex, []byte{multiplex128x64}},
		{cmdSetStartLine | 0x00, nil},
		{cmdSegRemap | 0x01, nil},
		{cmdComScanDec, nil},
		{cmdSetComPins, []byte{comPins128x64}},
		{cmdSetContrast, []byte{defaultContrast}},
		{cmdDisplayAllResume, nil},
		{cmdSetPrecharge, []byte{prechargePeriod}},
		{cmdSetVcomDetect, []byte{vcomDeselect}},
		{cmdNormalDisplay, nil},
		{cmdSetDisplayClock, []byte{clockDivideRatio}},
		{cmdChargePump, []byte{chargePumpEnable}},
		{cmdDisplayOn, nil},
	}
	for _, step := range sequence {
		if err := d.Command(ctx, step.cmd, step.args...); err != nil {
			return err
		}
	}
	return nil
}

// Clear switches to horizontal addressing over the whole panel and blanks
// every page.
func (d *SSD1306) Clear(ctx context.Context) error {
	if err := d.Command(ctx, cmdMemoryMode, horizontalAddress); err != nil {
		return err
	}
	if err := d.Command(ctx, cmdColumnAddr, 0, Width-1); err != nil {
		return err
	}
	if err := d.Command(ctx, cmdPageAddr, 0, Pages-1); err != nil {
		return err
	}
	for page := uint8(0); page < Pages; page++ {
		if err := d.ClearPage(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

func (d *SSD1306) ClearPage(ctx context.Context, page uint8) error {
	return d.FillPage(ctx, page, 0x00)
}

// FillPage sets every column of page to pattern, one bit per pixel row.
func (d *SSD1306) FillPage(ctx context.Context, page uint8, pattern byte) error {
	if page >= Pages {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	if err := d.SetPosition(ctx, 0, page); err != nil {
		return err
	}
	return d.data(ctx, bytes.Repeat([]byte{pattern}, Width))
}

// SetPosition moves the write window to start at column and page. A
// column or page beyond the panel falls back to 0.
func (d *SSD1306) SetPosition(ctx context.Context, column, page uint8) error {
	if column >= Width {
		column = 0
	}
	if page >= Pages {
		page = 0
	}
	if err := d.Command(ctx, cmdColumnAddr, column, Width-1); err != nil {
		return err
	}
	return d.Command(ctx, cmdPageAddr, page, Pages-1)
}

// WritePixels writes one byte per column starting at column on page. Each
// byte holds eight vertical pixels, least significant bit on top.
func (d *SSD1306) WritePixels(ctx context.Context, column, page uint8, columns []byte) error {
	if page >= Pages || int(column)+len(columns) > Width {
		return fmt.Errorf("%w: %d columns at column %d page %d", ErrOutOfRange, len(columns), column, page)
	}
	if len(columns) == 0 {
		return nil
	}
	if err := d.SetPosition(ctx, column, page); err != nil {
		return err
	}
	return d.data(ctx, columns)
}

func (d *SSD1306) SetContrast(ctx context.Context, contrast byte) error {
	return d.Command(ctx, cmdSetContrast, contrast)
}

func (d *SSD1306) Invert(ctx context.Context, invert bool) error {
	if invert {
		return d.Command(ctx, cmdInvertDisplay)
	}
	return d.Command(ctx, cmdNormalDisplay)
}

func (d *SSD1306) Power(ctx context.Context, on bool) error {
	if on {
		return d.Command(ctx, cmdDisplayOn)
	}
	return d.Command(ctx, cmdDisplayOff)
}
