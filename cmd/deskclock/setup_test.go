package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/deskclock/config"
	"github.com/mklimuk/deskclock/display"
	"github.com/mklimuk/deskclock/rtc"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []byte
		wantErr bool
	}{
		{"decimal", []string{"0", "175"}, []byte{0x00, 0xAF}, false},
		{"hex", []string{"0x40", "0xff"}, []byte{0x40, 0xFF}, false},
		{"binary", []string{"0b1010"}, []byte{0x0A}, false},
		{"empty", nil, []byte{}, false},
		{"overflow", []string{"256"}, nil, true},
		{"garbage", []string{"zz"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBytes(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenBus_Sim(t *testing.T) {
	cfg := config.Default()
	bus, closeBus, err := openBus(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeBus()) }()
	ctx := context.Background()

	require.NoError(t, display.NewSSD1306(bus).Init(ctx))

	ds := rtc.NewDS3231(bus)
	set := time.Date(2023, time.December, 13, 23, 10, 20, 0, time.UTC)
	require.NoError(t, ds.Set(ctx, set))
	got, err := ds.Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestOpenBus_InvalidDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Adapter = config.AdapterMCP2221
	cfg.Bus.Device = "first"
	_, closeBus, err := openBus(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.NoError(t, closeBus())
}
