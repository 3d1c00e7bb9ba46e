package weather_station

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// BME280Address is the default address of the Bosch sensor.
const BME280Address = 0x76

// BME280 adapts a periph bmxx80 device to Sensor.
type BME280 struct {
	dev *bmxx80.Dev
}

// NewBME280 opens a bme280 with one-shot oversampling suitable for slow
// periodic sampling.
func NewBME280(bus i2c.Bus, addr uint16) (*BME280, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.Opts{
		Temperature: bmxx80.O2x,
		Pressure:    bmxx80.O1x,
		Humidity:    bmxx80.O1x,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bme280 init: %v", ErrBus, err)
	}
	return &BME280{dev: dev}, nil
}

func (b *BME280) Sense(_ context.Context) (Measurement, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Measurement{}, fmt.Errorf("%w: bme280 sense: %v", ErrBus, err)
	}
	return EnvMeasurement(env), nil
}

func (b *BME280) Halt() error {
	return b.dev.Halt()
}

// EnvMeasurement converts periph units to Celsius and %RH, rounded to 0.1.
func EnvMeasurement(env physic.Env) Measurement {
	return Measurement{
		Temperature: Round1(float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Kelvin)),
		Humidity:    Round1(float64(env.Humidity) / float64(physic.PercentRH)),
	}
}
