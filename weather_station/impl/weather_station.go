package impl

import (
	"context"
	"fmt"

	"github.com/evkuzin/weatherlogger/clock"
	"github.com/evkuzin/weatherlogger/config"
	"github.com/evkuzin/weatherlogger/metrics"
	"github.com/evkuzin/weatherlogger/scheduler"
	"github.com/evkuzin/weatherlogger/storage"
	"github.com/evkuzin/weatherlogger/weather_station"
	"github.com/sirupsen/logrus"
)

// Appender is the log the station writes every reading to.
type Appender interface {
	Append(r weather_station.Reading) error
}

// weatherStationImpl reads the sensor once per interval and appends the
// reading to the log files.
type weatherStationImpl struct {
	sensor  weather_station.Sensor
	clock   clock.Source
	log     Appender
	Storage storage.Adapter
	sample  config.Sample
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewWeatherStation wires a station. archive may be nil.
func NewWeatherStation(
	sensor weather_station.Sensor,
	source clock.Source,
	log Appender,
	archive storage.Adapter,
	sample config.Sample,
	logger *logrus.Logger,
	m *metrics.Metrics,
) weather_station.WeatherStation {
	return &weatherStationImpl{
		sensor:  sensor,
		clock:   source,
		log:     log,
		Storage: archive,
		sample:  sample,
		logger:  logger,
		metrics: m,
	}
}

func (ws *weatherStationImpl) Name() string {
	return "sampler"
}

// Run is the main daemon loop. A sensor or log failure ends it; nothing
// useful can be logged past that point.
func (ws *weatherStationImpl) Run(ctx context.Context) error {
	ws.logger.WithField("task", ws.Name()).Infof("Weather station sampling every %s", ws.sample.Interval)
	defer func() {
		if err := ws.sensor.Halt(); err != nil {
			ws.logger.Errorf("error halting sensor: %s", err.Error())
		}
	}()
	for {
		if _, err := ws.Sample(ctx); err != nil {
			return err
		}
		if err := scheduler.Sleep(ctx, ws.sample.Interval); err != nil {
			return err
		}
	}
}

// Sample takes one reading and appends it.
func (ws *weatherStationImpl) Sample(ctx context.Context) (weather_station.Reading, error) {
	ts := clock.UnixSeconds(ws.clock)
	m, err := ws.sensor.Sense(ctx)
	if err != nil {
		return weather_station.Reading{}, fmt.Errorf("read sensor: %w", err)
	}
	r := weather_station.Reading{
		Timestamp:   ts,
		Temperature: m.Temperature,
		Humidity:    m.Humidity,
	}
	if err := ws.log.Append(r); err != nil {
		return r, fmt.Errorf("append reading: %w", err)
	}
	ws.metrics.Sample(r.Temperature, r.Humidity)
	ws.logger.WithFields(logrus.Fields{
		"task":        ws.Name(),
		"time":        r.Timestamp,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
	}).Debug("sampled")

	if ws.Storage != nil {
		if err := ws.Storage.Put(r); err != nil {
			ws.logger.Warnf("cannot write to storage: %s", err.Error())
		}
	}
	return r, nil
}
