package rtc

import (
	"context"
	"sync"
)

// ReadBehaviorFunc produces the date and time a mock clock reports.
type ReadBehaviorFunc func(ctx context.Context) (Date, Time, error)

// StatusBehaviorFunc produces the status register a mock clock reports.
type StatusBehaviorFunc func(ctx context.Context) (Status, error)

// MockDS3231 is a clock that uses behavior functions to produce readings
// without any hardware. Values written with SetDate and SetTime are kept
// and returned by Written.
//
// Example usage:
//
//	clock := NewMockDS3231(func(ctx context.Context) (Date, Time, error) {
//		return Date{Wednesday, 13, 12, 2023}, Time{23, 10, 20}, nil
//	}, nil)
type MockDS3231 struct {
	mx       sync.Mutex
	read     ReadBehaviorFunc
	status   StatusBehaviorFunc
	setErr   error
	date     Date
	time     Time
	setCalls int
}

// NewMockDS3231 creates a mock clock. A nil status behavior reports a
// healthy oscillator.
func NewMockDS3231(read ReadBehaviorFunc, status StatusBehaviorFunc) *MockDS3231 {
	if status == nil {
		status = func(ctx context.Context) (Status, error) { return 0, nil }
	}
	return &MockDS3231{read: read, status: status}
}

// FailSets makes every following SetDate and SetTime return err.
func (m *MockDS3231) FailSets(err error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.setErr = err
}

func (m *MockDS3231) SetDate(ctx context.Context, date Date) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.date = date
	return nil
}

func (m *MockDS3231) SetTime(ctx context.Context, t Time) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.time = t
	return nil
}

func (m *MockDS3231) ReadDate(ctx context.Context) (Date, error) {
	date, _, err := m.read(ctx)
	return date, err
}

func (m *MockDS3231) ReadTime(ctx context.Context) (Time, error) {
	_, t, err := m.read(ctx)
	return t, err
}

func (m *MockDS3231) Status(ctx context.Context) (Status, error) {
	return m.status(ctx)
}

// Written returns the last values set and the number of set calls.
func (m *MockDS3231) Written() (Date, Time, int) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.date, m.time, m.setCalls
}
