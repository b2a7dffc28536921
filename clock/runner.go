// Package clock runs the desk clock application: bring-up, a one-shot set of
// the RTC, a periodic reader that refreshes the display and a monitor that
// watches the RTC oscillator.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/deskclock/rtc"
)

var ErrClockLost = errors.New("clock lost: rtc oscillator stopped")

// Clock is the part of the RTC driver the runner uses.
type Clock interface {
	SetDate(ctx context.Context, date rtc.Date) error
	SetTime(ctx context.Context, t rtc.Time) error
	ReadDate(ctx context.Context) (rtc.Date, error)
	ReadTime(ctx context.Context) (rtc.Time, error)
	Status(ctx context.Context) (rtc.Status, error)
}

// Screen is the part of the display driver the runner uses.
type Screen interface {
	Init(ctx context.Context) error
	Clear(ctx context.Context) error
	ClearPage(ctx context.Context, page uint8) error
	FillPage(ctx context.Context, page uint8, pattern byte) error
	WritePixels(ctx context.Context, column, page uint8, columns []byte) error
}

// Display layout, in pages.
const (
	TimePage  = 0
	DatePage  = 2
	DayPage   = 4
	FaultPage = 6

	readoutColumn = 30
	faultPattern  = 0x3C
)

type Reading struct {
	Date rtc.Date
	Time rtc.Time
	At   time.Time
}

type Opts struct {
	Screen          Screen
	Initial         *time.Time
	ReadInterval    time.Duration
	MonitorInterval time.Duration
	Logger          *slog.Logger
}

type Opt func(*Opts)

func WithScreen(screen Screen) Opt {
	return func(o *Opts) {
		o.Screen = screen
	}
}

// WithInitialTime makes the runner write t to the RTC once after bring-up.
func WithInitialTime(t time.Time) Opt {
	return func(o *Opts) {
		o.Initial = &t
	}
}

func WithReadInterval(interval time.Duration) Opt {
	return func(o *Opts) {
		o.ReadInterval = interval
	}
}

func WithMonitorInterval(interval time.Duration) Opt {
	return func(o *Opts) {
		o.MonitorInterval = interval
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// Runner owns the application tasks. Hardware faults are logged, shown on
// the fault page and counted; they never stop the runner.
type Runner struct {
	clock  Clock
	opts   Opts
	logger *slog.Logger

	mx         sync.Mutex
	last       Reading
	hasRead    bool
	shownDay   rtc.DayOfWeek
	dayShown   bool
	faultDrawn bool

	faults    atomic.Int64
	clockLost atomic.Bool
	reads     atomic.Int64
}

func NewRunner(clock Clock, opts ...Opt) *Runner {
	config := Opts{
		ReadInterval:    time.Second,
		MonitorInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Runner{clock: clock, opts: config, logger: config.Logger}
}

// Init brings the display up and blanks it. It must complete before any
// other task touches the bus.
func (r *Runner) Init(ctx context.Context) error {
	if r.opts.Screen == nil {
		return nil
	}
	if err := r.opts.Screen.Init(ctx); err != nil {
		return fmt.Errorf("could not initialize display: %w", err)
	}
	if err := r.opts.Screen.Clear(ctx); err != nil {
		return fmt.Errorf("could not clear display: %w", err)
	}
	return nil
}

// Run performs Init, then runs the setter, reader and monitor until ctx is
// done.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Init(ctx); err != nil {
		return err
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("could not create scheduler: %w", err)
	}
	jobs := []struct {
		name     string
		interval time.Duration
		task     func(context.Context)
	}{
		{"rtc reader", r.opts.ReadInterval, r.ReadOnce},
		{"fault monitor", r.opts.MonitorInterval, r.MonitorOnce},
	}
	for _, job := range jobs {
		task := job.task
		_, err := scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(func() { task(ctx) }),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return multierr.Combine(fmt.Errorf("could not schedule %s: %w", job.name, err), scheduler.Shutdown())
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if r.opts.Initial != nil {
			r.SetOnce(ctx, *r.opts.Initial)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		r.logger.Info("clock running", "read interval", r.opts.ReadInterval, "monitor interval", r.opts.MonitorInterval)
		<-ctx.Done()
		err := scheduler.Shutdown()
		if err != nil {
			return fmt.Errorf("could not stop scheduler: %w", err)
		}
		r.logger.Info("clock stopped")
		return nil
	})
	return g.Wait()
}

// SetOnce writes date and then time to the RTC.
func (r *Runner) SetOnce(ctx context.Context, t time.Time) {
	date := rtc.Date{
		DayOfWeek: rtc.FromWeekday(t.Weekday()),
		Day:       uint8(t.Day()),
		Month:     uint8(t.Month()),
		Year:      uint16(t.Year()),
	}
	tm := rtc.Time{Hour: uint8(t.Hour()), Minute: uint8(t.Minute()), Second: uint8(t.Second())}
	if err := r.clock.SetDate(ctx, date); err != nil {
		r.fault(ctx, "set date", err)
		return
	}
	if err := r.clock.SetTime(ctx, tm); err != nil {
		r.fault(ctx, "set time", err)
		return
	}
	r.logger.Info("rtc set", "date", date, "day", date.DayOfWeek, "time", tm)
}

// ReadOnce reads date then time and refreshes the display. Date and day
// pages are redrawn only when the day of week changes.
func (r *Runner) ReadOnce(ctx context.Context) {
	date, err := r.clock.ReadDate(ctx)
	if err != nil {
		r.fault(ctx, "read date", err)
		return
	}
	tm, err := r.clock.ReadTime(ctx)
	if err != nil {
		r.fault(ctx, "read time", err)
		return
	}
	r.reads.Inc()
	r.mx.Lock()
	r.last = Reading{Date: date, Time: tm, At: time.Now()}
	r.hasRead = true
	dayChanged := !r.dayShown || r.shownDay != date.DayOfWeek
	r.mx.Unlock()

	r.logger.Debug("rtc read", "date", date, "day", date.DayOfWeek, "time", tm)
	if r.opts.Screen == nil {
		return
	}
	if err := r.draw(ctx, TimePage, Readout(tm.Hour, tm.Minute, tm.Second)); err != nil {
		r.fault(ctx, "draw time", err)
		return
	}
	if !dayChanged {
		return
	}
	if err := r.draw(ctx, DatePage, Readout(date.Day, date.Month, uint8(date.Year/100), uint8(date.Year%100))); err != nil {
		r.fault(ctx, "draw date", err)
		return
	}
	if err := r.draw(ctx, DayPage, DayMarker(date.DayOfWeek)); err != nil {
		r.fault(ctx, "draw day", err)
		return
	}
	r.mx.Lock()
	r.shownDay = date.DayOfWeek
	r.dayShown = true
	r.mx.Unlock()
}

// MonitorOnce checks the oscillator stop flag.
func (r *Runner) MonitorOnce(ctx context.Context) {
	status, err := r.clock.Status(ctx)
	if err != nil {
		r.fault(ctx, "read status", err)
		return
	}
	if status.OscillatorStopped() {
		r.clockLost.Store(true)
		r.fault(ctx, "monitor", ErrClockLost)
	}
}

func (r *Runner) draw(ctx context.Context, page uint8, columns []byte) error {
	if err := r.opts.Screen.ClearPage(ctx, page); err != nil {
		return err
	}
	return r.opts.Screen.WritePixels(ctx, readoutColumn, page, columns)
}

func (r *Runner) fault(ctx context.Context, task string, err error) {
	r.faults.Inc()
	r.logger.Error("hardware fault", "task", task, "error", err)
	if r.opts.Screen == nil || ctx.Err() != nil {
		return
	}
	r.mx.Lock()
	drawn := r.faultDrawn
	r.faultDrawn = true
	r.mx.Unlock()
	if drawn {
		return
	}
	if err := r.opts.Screen.FillPage(ctx, FaultPage, faultPattern); err != nil {
		r.logger.Error("could not show fault", "error", err)
	}
}

// Last returns the most recent successful reading.
func (r *Runner) Last() (Reading, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.last, r.hasRead
}

func (r *Runner) Faults() int64 {
	return r.faults.Load()
}

func (r *Runner) ClockLost() bool {
	return r.clockLost.Load()
}

func (r *Runner) Reads() int64 {
	return r.reads.Load()
}
