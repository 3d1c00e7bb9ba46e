// Package metrics exposes the logger's counters in the Prometheus text format.
package metrics

import (
	"bytes"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ContentType of the rendered exposition.
const ContentType = "text/plain; version=0.0.4"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	samples       prometheus.Counter
	temperature   prometheus.Gauge
	humidity      prometheus.Gauge
	drift         prometheus.Gauge
	syncFailures  prometheus.Counter
	rotations     prometheus.Counter
	httpResponses *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weatherlogger_samples_total",
			Help: "Readings appended to the log files.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weatherlogger_temperature_celsius",
			Help: "Last sampled temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weatherlogger_humidity_percent",
			Help: "Last sampled relative humidity.",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weatherlogger_clock_drift_seconds",
			Help: "Clock change observed across the last remote refresh.",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weatherlogger_clock_sync_failures_total",
			Help: "Remote clock refreshes that failed.",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weatherlogger_log_rotations_total",
			Help: "Log files truncated to become the next append target.",
		}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherlogger_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"code"}),
	}
	m.registry.MustRegister(
		m.samples,
		m.temperature,
		m.humidity,
		m.drift,
		m.syncFailures,
		m.rotations,
		m.httpResponses,
	)
	return m
}

func (m *Metrics) Sample(temperature, humidity float64) {
	if m == nil {
		return
	}
	m.samples.Inc()
	m.temperature.Set(temperature)
	m.humidity.Set(humidity)
}

func (m *Metrics) Drift(seconds float64) {
	if m == nil {
		return
	}
	m.drift.Set(seconds)
}

func (m *Metrics) SyncFailure() {
	if m == nil {
		return
	}
	m.syncFailures.Inc()
}

func (m *Metrics) Rotation(string) {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *Metrics) Response(code int) {
	if m == nil {
		return
	}
	m.httpResponses.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Render writes every metric family in the text exposition format.
func (m *Metrics) Render() ([]byte, error) {
	mfs, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
