package impl

import "github.com/evkuzin/weatherlogger/weather_station"

// average of the readings taken at or after since. ok is false when there
// are none.
func average(readings []weather_station.Reading, since int64) (avg weather_station.Measurement, ok bool) {
	var n int
	for _, r := range readings {
		if r.Timestamp < since {
			continue
		}
		avg.Temperature += r.Temperature
		avg.Humidity += r.Humidity
		n++
	}
	if n == 0 {
		return avg, false
	}
	avg.Temperature = weather_station.Round1(avg.Temperature / float64(n))
	avg.Humidity = weather_station.Round1(avg.Humidity / float64(n))
	return avg, true
}

func latest(readings []weather_station.Reading) (weather_station.Reading, bool) {
	if len(readings) == 0 {
		return weather_station.Reading{}, false
	}
	return readings[len(readings)-1], true
}
