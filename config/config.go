// Package config loads the deskclock configuration file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/a8m/envsubst"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Bus adapters.
const (
	AdapterSim     = "sim"
	AdapterPeriph  = "periph"
	AdapterNanoPi  = "nanopi"
	AdapterMCP2221 = "mcp2221"
)

type Config struct {
	Bus      Bus      `yaml:"bus"`
	RTC      RTC      `yaml:"rtc"`
	Display  Display  `yaml:"display"`
	Schedule Schedule `yaml:"schedule"`
}

type Bus struct {
	Adapter string `yaml:"adapter"`
	// Device names the host bus: a periph bus name such as "/dev/i2c-1",
	// or the bus number for nanopi.
	Device       string        `yaml:"device"`
	ClockDivisor uint8         `yaml:"clock_divisor"`
	PollAttempts int           `yaml:"poll_attempts"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	MaxRead      int           `yaml:"max_read"`
}

type RTC struct {
	Address uint8 `yaml:"address"`
	// Set writes InitialTime to the chip once at startup.
	Set         bool   `yaml:"set"`
	InitialTime string `yaml:"initial_time"`
}

// Initial parses InitialTime. An empty value means the host clock.
func (r RTC) Initial(now func() time.Time) (time.Time, error) {
	if r.InitialTime == "" {
		return now(), nil
	}
	t, err := time.Parse(time.RFC3339, r.InitialTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: rtc.initial_time: %w", ErrInvalidConfig, err)
	}
	return t, nil
}

type Display struct {
	Enabled bool  `yaml:"enabled"`
	Address uint8 `yaml:"address"`
}

type Schedule struct {
	ReadInterval    time.Duration `yaml:"read_interval"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

func Default() Config {
	return Config{
		Bus: Bus{
			Adapter:      AdapterSim,
			Device:       "",
			ClockDivisor: 0x1E,
			PollAttempts: 10_000,
			PollTimeout:  50 * time.Millisecond,
			SettleDelay:  50 * time.Microsecond,
			MaxRead:      255,
		},
		RTC: RTC{
			Address:     0x68,
			Set:         true,
			InitialTime: "2023-12-13T23:10:20Z",
		},
		Display: Display{
			Enabled: true,
			Address: 0x3C,
		},
		Schedule: Schedule{
			ReadInterval:    time.Second,
			MonitorInterval: 5 * time.Second,
		},
	}
}

// Load reads path, expands ${VAR} references from the environment and
// decodes the result over the defaults.
func Load(path string) (Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config file %s: %w", path, err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (Config, error) {
	cfg := Default()
	err := yaml.Unmarshal(buf, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Bus.Adapter {
	case AdapterSim, AdapterPeriph, AdapterNanoPi, AdapterMCP2221:
	default:
		return fmt.Errorf("%w: unknown bus adapter %q", ErrInvalidConfig, c.Bus.Adapter)
	}
	if c.RTC.Address > 0x7F || c.Display.Address > 0x7F {
		return fmt.Errorf("%w: device address above 0x7f", ErrInvalidConfig)
	}
	if c.Bus.PollAttempts <= 0 {
		return fmt.Errorf("%w: bus.poll_attempts must be positive", ErrInvalidConfig)
	}
	if c.Bus.MaxRead <= 0 || c.Bus.MaxRead > 255 {
		return fmt.Errorf("%w: bus.max_read must be within 1-255", ErrInvalidConfig)
	}
	if c.Schedule.ReadInterval <= 0 || c.Schedule.MonitorInterval <= 0 {
		return fmt.Errorf("%w: schedule intervals must be positive", ErrInvalidConfig)
	}
	return nil
}

// Encode renders c as YAML, as printed by the config command.
func (c Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}
