package weather_station

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestCRC8(t *testing.T) {
	assert.Equal(t, byte(0x79), crc8([]byte{0xDC}))
	assert.Equal(t, byte(0x7C), crc8([]byte{0x68, 0x3A}))
	assert.Equal(t, byte(0x6B), crc8([]byte{0x4E, 0x85}))
}

func TestCalibration(t *testing.T) {
	// 0x683A -> 24.7 C and 0x4E85 -> 32.3 %RH are the datasheet examples
	assert.Equal(t, 24.7, SHT21Calibration(Temperature).Apply(0x683A))
	assert.Equal(t, 32.3, SHT21Calibration(Humidity).Apply(0x4E85))
	// status bits are ignored
	assert.Equal(t, SHT21Calibration(Temperature).Apply(0x6838), SHT21Calibration(Temperature).Apply(0x683B))
	assert.Equal(t, -46.9, SHT21Calibration(Temperature).Apply(0))
}

func TestSHT21Sense(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: SHT21Address, W: []byte{cmdSoftReset}},
		{Addr: SHT21Address, W: []byte{cmdTempHold}, R: []byte{0x68, 0x3A, 0x7C}},
		{Addr: SHT21Address, W: []byte{cmdHumidHold}, R: []byte{0x4E, 0x85, 0x6B}},
	}}
	dev := NewSHT21(bus, SHT21Address)
	require.NoError(t, ResetDevice(dev, 0))

	s := &RegisterSensor{Device: dev}
	m, err := s.Sense(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Measurement{Temperature: 24.7, Humidity: 32.3}, m)
	require.NoError(t, s.Halt())
	require.NoError(t, bus.Close())
}

func TestSHT21ChecksumMismatch(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: SHT21Address, W: []byte{cmdTempHold}, R: []byte{0x68, 0x3A, 0x00}},
	}}
	_, err := NewSHT21(bus, SHT21Address).Read(Temperature)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBus))
}

func TestSHT21BusFailure(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	s := &RegisterSensor{Device: NewSHT21(bus, SHT21Address)}
	_, err := s.Sense(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBus))
}

func TestReadingCSV(t *testing.T) {
	assert.Equal(t, "1700000000,21.5,44.0\n", Reading{Timestamp: 1700000000, Temperature: 21.5, Humidity: 44}.CSV())
	assert.Equal(t, "1,-0.5,100.0\n", Reading{Timestamp: 1, Temperature: -0.46, Humidity: 99.96}.CSV())
}

func TestEnvMeasurement(t *testing.T) {
	env := physic.Env{
		Temperature: physic.ZeroCelsius + 21*physic.Kelvin + 500*physic.MilliKelvin,
		Humidity:    44 * physic.PercentRH,
	}
	assert.Equal(t, Measurement{Temperature: 21.5, Humidity: 44}, EnvMeasurement(env))
}
