package storage

import (
	"time"

	"github.com/evkuzin/weatherlogger/weather_station"
)

// Adapter mirrors readings into a secondary store. Failures are not fatal
// to sampling.
type Adapter interface {
	Put(reading weather_station.Reading) error
	GetEvents(t time.Duration) ([]weather_station.Reading, error)
	Close() error
}
