package i2c

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/deskclock"
)

// MockConnector is a mock implementation of the gobot i2c.Connector using testify/mock
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) GetI2cConnection(address int, busNr int) (gobot.Connection, error) {
	args := m.Called(address, busNr)
	conn, _ := args.Get(0).(gobot.Connection)
	return conn, args.Error(1)
}

func (m *MockConnector) DefaultI2cBus() int {
	return 2
}

// MockConnection overrides the calls the bus makes; the embedded interface
// panics on anything else.
type MockConnection struct {
	gobot.Connection
	mock.Mock
}

func (m *MockConnection) Write(b []byte) (int, error) {
	args := m.Called(b)
	return args.Int(0), args.Error(1)
}

func (m *MockConnection) ReadBlockData(reg uint8, b []byte) error {
	args := m.Called(reg, b)
	if data, ok := args.Get(0).([]byte); ok {
		copy(b, data)
	}
	return args.Error(1)
}

func (m *MockConnection) Close() error {
	return m.Called().Error(0)
}

func TestGobotBus_Transmit(t *testing.T) {
	connector := new(MockConnector)
	conn := new(MockConnection)
	connector.On("GetI2cConnection", 0x3C, 2).Return(conn, nil).Once()
	conn.On("Write", []byte{0x00, 0xAF}).Return(2, nil).Twice()

	bus := NewGobotBus(connector)
	ctx := context.Background()
	require.NoError(t, bus.Transmit(ctx, 0x3C, []byte{0x00, 0xAF}))
	require.NoError(t, bus.Transmit(ctx, 0x3C, []byte{0x00, 0xAF}), "connection is reused")

	connector.AssertExpectations(t)
	conn.AssertExpectations(t)
}

func TestGobotBus_ShortWrite(t *testing.T) {
	connector := new(MockConnector)
	conn := new(MockConnection)
	connector.On("GetI2cConnection", 0x3C, 1).Return(conn, nil)
	conn.On("Write", mock.Anything).Return(1, nil)

	err := NewGobotBus(connector, WithBusNumber(1)).Transmit(context.Background(), 0x3C, []byte{0x00, 0xAF})
	assert.ErrorContains(t, err, "short write")
}

func TestGobotBus_ReadRegister(t *testing.T) {
	connector := new(MockConnector)
	conn := new(MockConnection)
	connector.On("GetI2cConnection", 0x68, 2).Return(conn, nil)
	conn.On("ReadBlockData", uint8(0x0F), mock.Anything).Return([]byte{0x88}, nil)

	got, err := NewGobotBus(connector).ReadRegister(context.Background(), 0x68, 0x0F, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x88}, got)
}

func TestGobotBus_Errors(t *testing.T) {
	connector := new(MockConnector)
	connector.On("GetI2cConnection", 0x50, 2).Return(nil, errors.New("no such device"))
	bus := NewGobotBus(connector)
	ctx := context.Background()

	assert.ErrorContains(t, bus.Transmit(ctx, 0x50, []byte{0x00}), "no such device")
	assert.ErrorIs(t, bus.Transmit(ctx, 0xFF, nil), deskclock.ErrInvalidAddress)
	_, err := bus.ReadRegister(ctx, 0x50, 0x00, -1)
	assert.ErrorIs(t, err, deskclock.ErrInvalidLength)
}

func TestGobotBus_Close(t *testing.T) {
	connector := new(MockConnector)
	conn := new(MockConnection)
	connector.On("GetI2cConnection", 0x68, 2).Return(conn, nil)
	conn.On("Write", mock.Anything).Return(1, nil)
	conn.On("Close").Return(errors.New("ebusy"))
	finalized := false

	bus := NewGobotBus(connector, WithFinalize(func() error {
		finalized = true
		return nil
	}))
	require.NoError(t, bus.Transmit(context.Background(), 0x68, []byte{0x0F}))

	err := bus.Close()
	assert.ErrorContains(t, err, "ebusy")
	assert.True(t, finalized)
	assert.NoError(t, bus.Close(), "connections are dropped after close")
}

func TestGobotBus_ErrorMapping(t *testing.T) {
	connector := new(MockConnector)
	conn := new(MockConnection)
	connector.On("GetI2cConnection", 0x3C, 2).Return(conn, nil)
	conn.On("Write", mock.Anything).Return(0, fmt.Errorf("write error: %v", syscall.ENXIO)).Once()
	conn.On("Write", mock.Anything).Return(0, syscall.ETIMEDOUT).Once()
	bus := NewGobotBus(connector)
	ctx := context.Background()

	err := bus.Transmit(ctx, 0x3C, []byte{0x00, 0xAF})
	assert.ErrorIs(t, err, deskclock.ErrNack)
	var busErr *deskclock.BusError
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, deskclock.PhaseAddress, busErr.Phase)

	err = bus.Transmit(ctx, 0x3C, []byte{0x00, 0xAF})
	assert.ErrorIs(t, err, deskclock.ErrBusTimeout)
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, deskclock.PhaseWrite, busErr.Phase)
}
