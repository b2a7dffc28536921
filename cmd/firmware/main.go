//go:build tinygo

// Firmware for the KL25Z board: the clock runs on the on-chip I2C0
// controller with the DS3231 and the SSD1306 on the same bus.
package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/mklimuk/deskclock"
	"github.com/mklimuk/deskclock/clock"
	"github.com/mklimuk/deskclock/config"
	"github.com/mklimuk/deskclock/display"
	"github.com/mklimuk/deskclock/rtc"
	"github.com/mklimuk/deskclock/twi"
)

func main() {
	cfg := config.Default()
	bus, err := twi.Open(twi.KL25Z{}, cfg.Bus.ClockDivisor,
		twi.WithPollAttempts(cfg.Bus.PollAttempts),
		twi.WithPollTimeout(cfg.Bus.PollTimeout),
		twi.WithSettleDelay(cfg.Bus.SettleDelay),
	)
	if err != nil {
		slog.Error("bus bring-up failed", "error", err)
		halt()
	}
	initial, err := cfg.RTC.Initial(time.Now)
	if err != nil {
		slog.Error("invalid initial time", "error", err)
		halt()
	}
	runner := clock.NewRunner(
		rtc.NewDS3231(bus, rtc.WithAddress(deskclock.Address(cfg.RTC.Address))),
		clock.WithScreen(display.NewSSD1306(bus, display.WithAddress(deskclock.Address(cfg.Display.Address)))),
		clock.WithInitialTime(initial),
		clock.WithReadInterval(cfg.Schedule.ReadInterval),
		clock.WithMonitorInterval(cfg.Schedule.MonitorInterval),
	)
	err = runner.Run(context.Background())
	if err != nil {
		slog.Error("clock stopped", "error", err)
	}
	halt()
}

func halt() {
	for {
		time.Sleep(time.Hour)
	}
}
