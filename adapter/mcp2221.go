// Package adapter talks to USB bridges that expose a two-wire bus to the host.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"go.uber.org/multierr"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/busctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

var _ deskclock.RegisterBus = &MCP2221{}

const (
	reportSize = 64
	// chunkSize is the payload of a single write report.
	chunkSize = 60
	// MaxRead is the largest read returned by a single get-data report.
	MaxRead = 60
	// bridgeClock is the reference the speed divider is applied to.
	bridgeClock = 12_000_000
)

const (
	cmdStatus          = 0x10
	cmdGetData         = 0x40
	cmdWrite           = 0x90
	cmdReadRepeatStart = 0x93
	cmdWriteNoStop     = 0x94

	statusCancelTransfer = 0x10
	statusSetSpeed       = 0x20

	responseOK       = 0x00
	responseBusy     = 0x01
	responseReadFail = 0x41
)

// Bridge state machine values reported at stateOffset of a status response.
const (
	stateOffset = 8

	stateIdle            = 0x00
	stateStartTimeout    = 0x12
	stateRepStartTimeout = 0x17
	stateAddrTimeout     = 0x23
	stateAddrNack        = 0x25
	stateWriteTimeout    = 0x44
	stateWritingNoStop   = 0x45
	stateReadTimeout     = 0x52
	stateStopTimeout     = 0x62

	// statusPolls bounds how many status reports a write waits for.
	statusPolls = 10
)

// Device is an open HID report endpoint.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the bridge with the given enumeration index.
type Opener func(id int) (Device, error)

// OpenHID opens the id-th MCP2221 found on the USB bus.
func OpenHID(id int) (Device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if id < 0 || id >= len(devs) {
		return nil, fmt.Errorf("no device with id %d (found %d)", id, len(devs))
	}
	dev, err := devs[id].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

type Opts struct {
	DeviceID     int
	Opener       Opener
	ResponseWait time.Duration
	Logger       *slog.Logger
}

type Opt func(*Opts)

func WithDeviceID(id int) Opt {
	return func(o *Opts) {
		o.DeviceID = id
	}
}

func WithOpener(opener Opener) Opt {
	return func(o *Opts) {
		o.Opener = opener
	}
}

// WithResponseWait sets the pause between a request and reading its response.
func WithResponseWait(wait time.Duration) Opt {
	return func(o *Opts) {
		o.ResponseWait = wait
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// MCP2221 drives a Microchip MCP2221 USB-to-I2C bridge. Every bus call
// holds the adapter for the whole exchange of reports.
type MCP2221 struct {
	mx       sync.Mutex
	opts     Opts
	request  []byte
	response []byte
}

func NewMCP2221(opts ...Opt) *MCP2221 {
	config := Opts{
		Opener:       OpenHID,
		ResponseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &MCP2221{
		opts:     config,
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
}

// Transmit writes buffer to the device followed by a stop condition.
// Payloads longer than one report are sent in consecutive reports.
func (d *MCP2221) Transmit(ctx context.Context, address deskclock.Address, buffer []byte) error {
	if err := address.Validate(); err != nil {
		return &deskclock.BusError{Op: deskclock.OpTransmit, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	dev, err := d.open()
	if err != nil {
		return &deskclock.BusError{Op: deskclock.OpTransmit, Phase: deskclock.PhaseAcquire, Addr: address, Err: err}
	}
	defer d.close(dev)
	return d.write(ctx, dev, deskclock.OpTransmit, cmdWrite, address, buffer)
}

// ReadRegister writes the register without a stop, reads with a repeated
// start and collects the data from the bridge.
func (d *MCP2221) ReadRegister(ctx context.Context, address deskclock.Address, register byte, length int) ([]byte, error) {
	const op = deskclock.OpReadRegister
	if err := address.Validate(); err != nil {
		return nil, &deskclock.BusError{Op: op, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	if length <= 0 || length > MaxRead {
		err := fmt.Errorf("%w: %d (allowed 1-%d)", deskclock.ErrInvalidLength, length, MaxRead)
		return nil, &deskclock.BusError{Op: op, Phase: deskclock.PhaseValidate, Addr: address, Err: err}
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	dev, err := d.open()
	if err != nil {
		return nil, &deskclock.BusError{Op: op, Phase: deskclock.PhaseAcquire, Addr: address, Err: err}
	}
	defer d.close(dev)
	err = d.write(ctx, dev, op, cmdWriteNoStop, address, []byte{register})
	if err != nil {
		return nil, err
	}
	d.resetBuffers()
	d.request[0] = cmdReadRepeatStart
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(length))
	d.request[3] = deskclock.AddressByte(address, deskclock.Read)
	if err := d.send(ctx, dev); err != nil {
		return nil, d.abort(ctx, dev, op, deskclock.PhaseRestart, address, err)
	}
	if d.response[1] != responseOK {
		return nil, d.abort(ctx, dev, op, deskclock.PhaseRestart, address, deskclock.ErrBusBusy)
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx, dev); err != nil {
		return nil, d.abort(ctx, dev, op, deskclock.PhaseRead, address, fmt.Errorf("error getting read data from adapter: %w", err))
	}
	if d.response[1] == responseReadFail {
		return nil, d.abort(ctx, dev, op, deskclock.PhaseRead, address, deskclock.ErrNack)
	}
	if d.response[3] == 127 || int(d.response[3]) != length {
		err := fmt.Errorf("invalid data size byte; expected %d, got %d: %w", length, d.response[3], ErrCommandFailed)
		return nil, d.abort(ctx, dev, op, deskclock.PhaseRead, address, err)
	}
	out := make([]byte, length)
	copy(out, d.response[4:])
	return out, nil
}

// write sends buffer with cmd in chunks; every report carries the full
// transfer length. It returns once the bridge reports the write done.
func (d *MCP2221) write(ctx context.Context, dev Device, op string, cmd byte, address deskclock.Address, buffer []byte) error {
	offset := 0
	for {
		d.resetBuffers()
		d.request[0] = cmd
		binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
		d.request[3] = deskclock.AddressByte(address, deskclock.Write)
		end := min(offset+chunkSize, len(buffer))
		copy(d.request[4:], buffer[offset:end])
		if err := d.send(ctx, dev); err != nil {
			return d.abort(ctx, dev, op, deskclock.PhaseWrite, address, err)
		}
		if d.response[1] == responseBusy {
			d.opts.Logger.Debug("adapter busy", "addr", address)
			if offset == 0 {
				// another transfer owns the bridge; nothing of ours to release
				return &deskclock.BusError{Op: op, Phase: deskclock.PhaseAcquire, Addr: address, Err: deskclock.ErrBusBusy}
			}
			return d.abort(ctx, dev, op, deskclock.PhaseWrite, address, deskclock.ErrBusBusy)
		}
		offset = end
		if offset >= len(buffer) {
			break
		}
	}
	return d.awaitWrite(ctx, dev, op, cmd, address)
}

// awaitWrite polls the bridge state machine until the write has left the
// bridge. An address NACK or a bus timeout aborts the transfer.
func (d *MCP2221) awaitWrite(ctx context.Context, dev Device, op string, cmd byte, address deskclock.Address) error {
	for range statusPolls {
		if _, err := d.status(ctx, dev, 0, 0); err != nil {
			return d.abort(ctx, dev, op, deskclock.PhaseWrite, address, err)
		}
		state := d.response[stateOffset]
		switch {
		case state == stateIdle, cmd == cmdWriteNoStop && state == stateWritingNoStop:
			return nil
		case state == stateAddrNack:
			return d.abort(ctx, dev, op, deskclock.PhaseAddress, address, deskclock.ErrNack)
		case timeoutState(state):
			return d.abort(ctx, dev, op, deskclock.PhaseWrite, address, fmt.Errorf("%w: bridge state %#02x", deskclock.ErrBusTimeout, state))
		}
		d.opts.Logger.Debug("write in progress", "addr", address, "state", state)
	}
	return d.abort(ctx, dev, op, deskclock.PhaseWrite, address, fmt.Errorf("%w: write still in progress", deskclock.ErrBusTimeout))
}

// abort cancels the bridge transfer so the bus is released, and reports
// err for the given phase. A failed release is combined with err.
func (d *MCP2221) abort(ctx context.Context, dev Device, op string, phase deskclock.Phase, address deskclock.Address, err error) error {
	_, cancelErr := d.status(context.WithoutCancel(ctx), dev, statusCancelTransfer, 0)
	if cancelErr != nil {
		err = multierr.Append(err, fmt.Errorf("could not release bus: %w", cancelErr))
	}
	d.opts.Logger.Debug("transfer aborted", "op", op, "addr", address, "phase", phase, "error", err)
	return &deskclock.BusError{Op: op, Phase: phase, Addr: address, Err: err}
}

func timeoutState(state byte) bool {
	switch state {
	case stateStartTimeout, stateRepStartTimeout, stateStopTimeout,
		stateAddrTimeout, stateWriteTimeout, stateReadTimeout:
		return true
	}
	return false
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	return d.statusCommand(ctx, 0, 0)
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	return d.statusCommand(ctx, statusCancelTransfer, 0)
}

// SetSpeed sets the bus clock in Hz.
func (d *MCP2221) SetSpeed(ctx context.Context, hz int) error {
	if hz <= 0 {
		return fmt.Errorf("unsupported bus speed %d Hz", hz)
	}
	divider := bridgeClock/hz - 3
	if divider < 0 || divider > 0xFF {
		return fmt.Errorf("unsupported bus speed %d Hz", hz)
	}
	status, err := d.statusCommand(ctx, 0, byte(divider))
	if err != nil {
		return err
	}
	d.opts.Logger.Debug("bus speed set", "hz", hz, "divider", status.I2CSpeedDivider)
	return nil
}

func (d *MCP2221) statusCommand(ctx context.Context, cancel byte, divider byte) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	dev, err := d.open()
	if err != nil {
		return nil, err
	}
	defer d.close(dev)
	return d.status(ctx, dev, cancel, divider)
}

// status runs one status/set-parameters exchange on an open device. The
// caller holds d.mx.
func (d *MCP2221) status(ctx context.Context, dev Device, cancel byte, divider byte) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = cancel
	if divider != 0 {
		d.request[3] = statusSetSpeed
		d.request[4] = divider
	}
	err := d.send(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	if divider != 0 && d.response[3] != statusSetSpeed {
		return nil, fmt.Errorf("speed not accepted: %w", ErrCommandFailed)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) open() (Device, error) {
	dev, err := d.opts.Opener(d.opts.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("could not open adapter: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) close(dev Device) {
	if err := dev.Close(); err != nil {
		d.opts.Logger.Warn("could not close adapter", "error", err)
	}
}

func (d *MCP2221) send(ctx context.Context, dev Device) error {
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		d.opts.Logger.Debug("sending message to adapter", "data", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.opts.ResponseWait):
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#02x echoes %#02x: %w", d.request[0], d.response[0], ErrCommandFailed)
	}
	if verbose {
		d.opts.Logger.Debug("read message from adapter", "data", hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

// DeviceInfo is one enumerated bridge.
type DeviceInfo struct {
	ID           int    `yaml:"id"`
	Path         string `yaml:"path"`
	Serial       string `yaml:"serial"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
}

// Enumerate lists the bridges attached to the host.
func Enumerate() []DeviceInfo {
	devs := hid.Enumerate(VendorID, ProductID)
	out := make([]DeviceInfo, 0, len(devs))
	for i, dev := range devs {
		out = append(out, DeviceInfo{
			ID:           i,
			Path:         dev.Path,
			Serial:       dev.Serial,
			Manufacturer: dev.Manufacturer,
			Product:      dev.Product,
		})
	}
	return out
}
