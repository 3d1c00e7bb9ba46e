package weather_station

import (
	"fmt"
	"time"

	"github.com/evkuzin/weatherlogger/config"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// OpenBus loads the host drivers and opens the named I2C bus ("" for the
// first one available).
func OpenBus(logger *logrus.Logger, name string) (i2c.BusCloser, error) {
	// Make sure peripheral is initialized.
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	for _, driver := range state.Loaded {
		logger.Debugf("loaded driver %s", driver)
	}
	for _, failure := range state.Skipped {
		logger.Debugf("skipped driver %s: %s", failure.D, failure.Err)
	}
	// Having drivers failing to load may not require process termination. It
	// is possible to continue to run in partial failure mode.
	for _, failure := range state.Failed {
		logger.Warnf("driver %s failed to load: %v", failure.D, failure.Err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("cannot open i2c bus %q: %w", name, err)
	}
	logger.Debugf("I2C bus open call successful. Got: %v", bus.String())
	return bus, nil
}

// OpenSensor builds the configured driver on bus. The SHT21 is soft reset
// and given time to settle before it is returned.
func OpenSensor(logger *logrus.Logger, conf config.Sensor, bus i2c.Bus) (Sensor, error) {
	switch conf.Driver {
	case "bme280":
		addr := conf.Address
		if addr == 0 || addr == SHT21Address {
			addr = BME280Address
		}
		logger.Infof("using bme280 at 0x%02x", addr)
		return NewBME280(bus, addr)
	case "sht21", "":
		addr := conf.Address
		if addr == 0 {
			addr = SHT21Address
		}
		dev := NewSHT21(bus, addr)
		if err := ResetDevice(dev, SettleDelay); err != nil {
			return nil, err
		}
		logger.Infof("using sht21 at 0x%02x", addr)
		return &RegisterSensor{Device: dev}, nil
	}
	return nil, fmt.Errorf("unknown sensor driver %q", conf.Driver)
}

// ResetDevice resets dev and blocks for settle.
func ResetDevice(dev Device, settle time.Duration) error {
	if err := dev.Reset(); err != nil {
		return err
	}
	time.Sleep(settle)
	return nil
}
