package weather_station

import (
	"context"
	"errors"
	"math"
	"strconv"
)

// ErrBus marks a failed transaction with the sensor.
var ErrBus = errors.New("sensor bus error")

// Reading is one timestamped sample. It is never modified after creation.
type Reading struct {
	Timestamp   int64
	Temperature float64
	Humidity    float64
}

// CSV encodes the reading as a single log line, newline included.
func (r Reading) CSV() string {
	b := make([]byte, 0, 24)
	b = strconv.AppendInt(b, r.Timestamp, 10)
	b = append(b, ',')
	b = strconv.AppendFloat(b, Round1(r.Temperature), 'f', 1, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, Round1(r.Humidity), 'f', 1, 64)
	b = append(b, '\n')
	return string(b)
}

// Round1 rounds to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Quantity is a physical quantity the sensor can measure.
type Quantity int

const (
	Temperature Quantity = iota
	Humidity
)

func (q Quantity) String() string {
	switch q {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	}
	return "quantity(" + strconv.Itoa(int(q)) + ")"
}

// Device is a register-level sensor.
type Device interface {
	// Reset restarts the sensor. Callers wait for it to settle afterwards.
	Reset() error
	// Read returns the raw measurement word for q.
	Read(q Quantity) (uint16, error)
}

// Measurement is a calibrated sensor result in degrees Celsius and %RH.
type Measurement struct {
	Temperature float64
	Humidity    float64
}

// Sensor produces calibrated measurements.
type Sensor interface {
	Sense(ctx context.Context) (Measurement, error)
	Halt() error
}

// WeatherStation samples the sensor into the log files until cancelled.
type WeatherStation interface {
	Name() string
	Run(ctx context.Context) error
	Sample(ctx context.Context) (Reading, error)
}
