// Package rtc drives the DS3231 real-time clock over a register bus.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/deskclock"
)

var (
	ErrInvalidValue   = errors.New("rtc: invalid value")
	ErrYearOutOfRange = errors.New("rtc: year out of range")
)

const DefaultAddress deskclock.Address = 0x68

const (
	regSeconds     = 0x00
	regDayOfWeek   = 0x03
	regStatus      = 0x0F
	regTemperature = 0x11
)

const (
	secondsMask = 0x7F
	minutesMask = 0x7F
	hoursMask   = 0x3F
	dowMask     = 0x07
	dayMask     = 0x3F
)

type Time struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t Time) validate() error {
	if t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
		return fmt.Errorf("%w: time %s", ErrInvalidValue, t)
	}
	return nil
}

type Date struct {
	DayOfWeek DayOfWeek
	Day       uint8
	Month     uint8
	Year      uint16
}

func (d Date) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, d.Month, d.Year)
}

func (d Date) validate() error {
	if !d.DayOfWeek.Valid() {
		return fmt.Errorf("%w: day of week %d", ErrInvalidValue, d.DayOfWeek)
	}
	if d.Day < 1 || d.Day > 31 || d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("%w: date %s", ErrInvalidValue, d)
	}
	return nil
}

// Status is the raw control/status register.
type Status byte

const (
	StatusAlarm1            Status = 0x01
	StatusAlarm2            Status = 0x02
	StatusBusy              Status = 0x04
	Status32kHz             Status = 0x08
	StatusOscillatorStopped Status = 0x80
)

// OscillatorStopped reports that the oscillator has stopped at some point
// since the flag was last cleared, so the kept time can't be trusted.
func (s Status) OscillatorStopped() bool {
	return s&StatusOscillatorStopped != 0
}

type Opts struct {
	Address  deskclock.Address
	Location *time.Location
}

type Opt func(*Opts)

func WithAddress(address deskclock.Address) Opt {
	return func(o *Opts) {
		o.Address = address
	}
}

// WithLocation sets the zone the chip's wall clock is kept in. UTC by default.
func WithLocation(loc *time.Location) Opt {
	return func(o *Opts) {
		o.Location = loc
	}
}

// DS3231 represents a Maxim DS3231 I2C real-time clock
// See: https://www.analog.com/media/en/technical-documentation/data-sheets/DS3231.pdf
//
// The chip keeps a 24-hour clock; the 12-hour mode bit is never set.
type DS3231 struct {
	bus      deskclock.RegisterBus
	address  deskclock.Address
	location *time.Location
}

func NewDS3231(bus deskclock.RegisterBus, opts ...Opt) *DS3231 {
	config := Opts{
		Address:  DefaultAddress,
		Location: time.UTC,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &DS3231{bus: bus, address: config.Address, location: config.Location}
}

// SetTime writes seconds, minutes and hours in one transaction.
func (d *DS3231) SetTime(ctx context.Context, t Time) error {
	if err := t.validate(); err != nil {
		return err
	}
	buf, err := encodeTime(t)
	if err != nil {
		return err
	}
	err = d.bus.Transmit(ctx, d.address, append([]byte{regSeconds}, buf...))
	if err != nil {
		return fmt.Errorf("rtc: could not set time: %w", err)
	}
	return nil
}

func (d *DS3231) ReadTime(ctx context.Context) (Time, error) {
	resp, err := d.bus.ReadRegister(ctx, d.address, regSeconds, 3)
	if err != nil {
		return Time{}, fmt.Errorf("rtc: could not read time: %w", err)
	}
	return decodeTime(resp), nil
}

// SetDate writes day of week, day, month with the century flag and the
// two-digit year in one transaction.
func (d *DS3231) SetDate(ctx context.Context, date Date) error {
	if err := date.validate(); err != nil {
		return err
	}
	buf, err := encodeDate(date)
	if err != nil {
		return err
	}
	err = d.bus.Transmit(ctx, d.address, append([]byte{regDayOfWeek}, buf...))
	if err != nil {
		return fmt.Errorf("rtc: could not set date: %w", err)
	}
	return nil
}

func (d *DS3231) ReadDate(ctx context.Context) (Date, error) {
	resp, err := d.bus.ReadRegister(ctx, d.address, regDayOfWeek, 4)
	if err != nil {
		return Date{}, fmt.Errorf("rtc: could not read date: %w", err)
	}
	return decodeDate(resp), nil
}

func (d *DS3231) Status(ctx context.Context) (Status, error) {
	resp, err := d.bus.ReadRegister(ctx, d.address, regStatus, 1)
	if err != nil {
		return 0, fmt.Errorf("rtc: could not read status: %w", err)
	}
	return Status(resp[0]), nil
}

// ClearOscillatorFlag resets the oscillator stop flag, leaving the other
// status bits as they are.
func (d *DS3231) ClearOscillatorFlag(ctx context.Context) error {
	status, err := d.Status(ctx)
	if err != nil {
		return err
	}
	if !status.OscillatorStopped() {
		return nil
	}
	err = d.bus.Transmit(ctx, d.address, []byte{regStatus, byte(status &^ StatusOscillatorStopped)})
	if err != nil {
		return fmt.Errorf("rtc: could not clear oscillator flag: %w", err)
	}
	return nil
}

// Temperature returns the die temperature in Celsius with 0.25 degree resolution.
func (d *DS3231) Temperature(ctx context.Context) (float32, error) {
	resp, err := d.bus.ReadRegister(ctx, d.address, regTemperature, 2)
	if err != nil {
		return 0, fmt.Errorf("rtc: could not read temperature: %w", err)
	}
	return float32(int8(resp[0])) + float32(resp[1]>>6)*0.25, nil
}

// Now reads time and date in a single transaction so the fields can't roll
// over between two reads.
func (d *DS3231) Now(ctx context.Context) (time.Time, error) {
	resp, err := d.bus.ReadRegister(ctx, d.address, regSeconds, 7)
	if err != nil {
		return time.Time{}, fmt.Errorf("rtc: could not read clock: %w", err)
	}
	t := decodeTime(resp[:3])
	date := decodeDate(resp[3:])
	return time.Date(int(date.Year), time.Month(date.Month), int(date.Day),
		int(t.Hour), int(t.Minute), int(t.Second), 0, d.location), nil
}

// Set writes the whole clock in a single transaction.
func (d *DS3231) Set(ctx context.Context, now time.Time) error {
	now = now.In(d.location)
	t := Time{Hour: uint8(now.Hour()), Minute: uint8(now.Minute()), Second: uint8(now.Second())}
	date := Date{
		DayOfWeek: FromWeekday(now.Weekday()),
		Day:       uint8(now.Day()),
		Month:     uint8(now.Month()),
		Year:      uint16(now.Year()),
	}
	if now.Year() < firstYear || now.Year() > lastYear {
		return fmt.Errorf("%w: %d (allowed %d-%d)", ErrYearOutOfRange, now.Year(), firstYear, lastYear)
	}
	timeBuf, err := encodeTime(t)
	if err != nil {
		return err
	}
	dateBuf, err := encodeDate(date)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 8)
	buf = append(buf, regSeconds)
	buf = append(buf, timeBuf...)
	buf = append(buf, dateBuf...)
	err = d.bus.Transmit(ctx, d.address, buf)
	if err != nil {
		return fmt.Errorf("rtc: could not set clock: %w", err)
	}
	return nil
}

func encodeTime(t Time) ([]byte, error) {
	buf := make([]byte, 3)
	var err error
	for i, v := range []uint8{t.Second, t.Minute, t.Hour} {
		buf[i], err = EncodeBCD(v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func decodeTime(b []byte) Time {
	return Time{
		Second: DecodeBCD(b[0] & secondsMask),
		Minute: DecodeBCD(b[1] & minutesMask),
		Hour:   DecodeBCD(b[2] & hoursMask),
	}
}

func encodeDate(d Date) ([]byte, error) {
	century, yy, err := SplitYear(d.Year)
	if err != nil {
		return nil, err
	}
	dow, err := EncodeBCD(uint8(d.DayOfWeek))
	if err != nil {
		return nil, err
	}
	day, err := EncodeBCD(d.Day)
	if err != nil {
		return nil, err
	}
	month, err := PackMonth(d.Month, century)
	if err != nil {
		return nil, err
	}
	year, err := EncodeBCD(yy)
	if err != nil {
		return nil, err
	}
	return []byte{dow, day, month, year}, nil
}

func decodeDate(b []byte) Date {
	month, century := UnpackMonth(b[2])
	return Date{
		DayOfWeek: LookupDay(b[0] & dowMask),
		Day:       DecodeBCD(b[1] & dayMask),
		Month:     month,
		Year:      JoinYear(century, DecodeBCD(b[3])),
	}
}
