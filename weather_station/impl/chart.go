package impl

import (
	"bytes"
	"time"

	"github.com/evkuzin/weatherlogger/weather_station"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/sirupsen/logrus"
)

// ReadingSource returns every reading still held in the log files.
type ReadingSource interface {
	Readings() ([]weather_station.Reading, error)
}

// Chart renders the logged readings as an HTML line chart.
type Chart struct {
	source ReadingSource
	logger *logrus.Logger
}

func NewChart(source ReadingSource, logger *logrus.Logger) *Chart {
	return &Chart{source: source, logger: logger}
}

// Render returns a complete HTML page.
func (c *Chart) Render() ([]byte, error) {
	samples, err := c.source.Readings()
	if err != nil {
		return nil, err
	}
	line := createBaseGraph(samples)
	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	c.logger.Debugf("build graph based on %d readings", len(samples))
	return buf.Bytes(), nil
}

func createBaseGraph(samples []weather_station.Reading) *charts.Line {
	line := charts.NewLine()
	xTime := make([]string, len(samples))
	yTemperature := make([]opts.LineData, len(samples))
	yHumidity := make([]opts.LineData, len(samples))
	for i, sample := range samples {
		xTime[i] = time.Unix(sample.Timestamp, 0).UTC().Format("2006-01-02 15:04")
		yTemperature[i] = opts.LineData{Value: sample.Temperature}
		yHumidity[i] = opts.LineData{Value: sample.Humidity}
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Weather logger",
			Theme:     types.ThemeWesteros,
		}),
		charts.WithDataZoomOpts(opts.DataZoom{}),
		charts.WithTitleOpts(opts.Title{Title: "Temperature and humidity"}),
		charts.WithLegendOpts(opts.Legend{Show: true}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      true,
			Trigger:   "axis",
			TriggerOn: "mousemove",
			AxisPointer: &opts.AxisPointer{
				Type: "cross",
				Snap: true,
			},
		}))
	line.SetXAxis(xTime).
		AddSeries("Temperature", yTemperature).
		AddSeries("Humidity", yHumidity)
	return line
}
