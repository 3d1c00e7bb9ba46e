package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evkuzin/weatherlogger/clock"
	"github.com/evkuzin/weatherlogger/config"
	"github.com/evkuzin/weatherlogger/storage"
	"github.com/evkuzin/weatherlogger/weather_station"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constSensor struct{}

func (constSensor) Sense(context.Context) (weather_station.Measurement, error) {
	return weather_station.Measurement{Temperature: 21.5, Humidity: 44}, nil
}
func (constSensor) Halt() error { return nil }

// offlineClock never reaches its server.
type offlineClock struct {
	mu       sync.Mutex
	attempts int
}

func (c *offlineClock) Now() int64       { return time.Now().Unix() }
func (c *offlineClock) Epoch() time.Time { return time.Unix(0, 0) }
func (c *offlineClock) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return clock.ErrUnreachable
}

func (c *offlineClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	conf := config.Default()
	conf.Sample.Interval = 2 * time.Millisecond
	conf.Storage.Dir = dir
	conf.Storage.Threshold = 1 << 20
	conf.Clock.SyncInterval = 2 * time.Millisecond
	conf.HTTP.Addr = "127.0.0.1:0"
	conf.HTTP.Root = dir
	conf.HTTP.PollTimeout = 10 * time.Millisecond
	conf.HTTP.ConnTimeout = 5 * time.Second
	return conf
}

func startStation(t *testing.T, conf *config.Config, source clock.Source) (*station, context.CancelFunc, <-chan error) {
	t.Helper()
	logger := logrus.New()
	logger.Out = io.Discard
	st, err := newStation(conf, constSensor{}, source, logger)
	require.NoError(t, err)
	require.NoError(t, st.server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.scheduler.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		st.Close()
	})
	return st, cancel, done
}

func countLines(t *testing.T, path string) int {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(b), "\n")
}

func TestClockFailureDoesNotStopSamplingOrServing(t *testing.T) {
	conf := testConfig(t)
	source := &offlineClock{}
	st, _, done := startStation(t, conf, source)
	values1 := filepath.Join(conf.Storage.Dir, "values1.dat")

	require.Eventually(t, func() bool {
		return source.count() >= 3 && countLines(t, values1) >= 3
	}, 2*time.Second, time.Millisecond)
	before := countLines(t, values1)
	require.Eventually(t, func() bool { return countLines(t, values1) > before }, time.Second, time.Millisecond)

	resp, err := http.Get("http://" + st.server.ListenAddr().String() + "/values1.dat")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, "0", resp.Header.Get("X-sampleTime"), "2ms rounds down to 0 minutes")
	assert.True(t, strings.HasSuffix(string(body), ",21.5,44.0\n"))

	resp, err = http.Get("http://" + st.server.ListenAddr().String() + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "weatherlogger_clock_sync_failures_total")

	resp, err = http.Get("http://" + st.server.ListenAddr().String() + "/chart.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-done:
		t.Fatalf("scheduler stopped: %v", err)
	default:
	}
}

// A slow download runs while the sampler keeps appending; neither the served
// body nor the files may contain a partial line.
func TestSlowTransferDoesNotInterleaveWithAppends(t *testing.T) {
	conf := testConfig(t)
	values1 := filepath.Join(conf.Storage.Dir, "values1.dat")
	var seed strings.Builder
	for i := 0; i < 3000; i++ {
		seed.WriteString(weather_station.Reading{Timestamp: 1600000000 + int64(i), Temperature: 19.5, Humidity: 50}.CSV())
	}
	require.NoError(t, os.WriteFile(values1, []byte(seed.String()), 0o644))

	st, _, _ := startStation(t, conf, &offlineClock{})

	conn, err := net.Dial("tcp", st.server.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET /values1.dat HTTP/1.1\r\n\r\n")
	require.NoError(t, err)

	r := bufio.NewReaderSize(conn, 16)
	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	var body strings.Builder
	chunk := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(chunk)
		body.WriteString(string(chunk[:n]))
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, resp.ContentLength, int64(body.Len()))
	lines := strings.SplitAfter(body.String(), "\n")
	require.Equal(t, "", lines[len(lines)-1], "body ends on a line boundary")
	for _, line := range lines[:len(lines)-1] {
		_, err := storage.ParseReading(line)
		require.NoError(t, err, line)
	}

	b, err := os.ReadFile(values1)
	require.NoError(t, err)
	assert.Greater(t, len(b), seed.Len(), "sampling continued during the transfer")
	for _, line := range strings.SplitAfter(string(b), "\n") {
		if line == "" {
			continue
		}
		require.True(t, strings.HasSuffix(line, "\n"), "partial line %q", line)
		_, err := storage.ParseReading(line)
		require.NoError(t, err, line)
	}
}

// truncatingConn empties path on the first write of the response, after the
// headers have been prepared from the file size.
type truncatingConn struct {
	t         *testing.T
	req       io.Reader
	out       bytes.Buffer
	path      string
	truncated bool
}

func (c *truncatingConn) Read(p []byte) (int, error) { return c.req.Read(p) }

func (c *truncatingConn) Write(p []byte) (int, error) {
	if !c.truncated {
		c.truncated = true
		require.NoError(c.t, os.Truncate(c.path, 0))
	}
	return c.out.Write(p)
}

func TestRotationDuringTransferKeepsContentLength(t *testing.T) {
	conf := testConfig(t)
	values2 := filepath.Join(conf.Storage.Dir, "values2.dat")
	var seed strings.Builder
	for i := 0; seed.Len() < 3000; i++ {
		seed.WriteString(weather_station.Reading{Timestamp: 1600000000 + int64(i), Temperature: 19.5, Humidity: 50}.CSV())
	}
	require.NoError(t, os.WriteFile(values2, []byte(seed.String()), 0o644))

	logger := logrus.New()
	logger.Out = io.Discard
	st, err := newStation(conf, constSensor{}, &offlineClock{}, logger)
	require.NoError(t, err)
	defer st.Close()

	conn := &truncatingConn{t: t, req: strings.NewReader("GET /values2.dat HTTP/1.1\r\n\r\n"), path: values2}
	assert.Equal(t, 200, st.server.Handler.Serve(conn, logrus.NewEntry(logger)))
	require.True(t, conn.truncated)

	resp, err := http.ReadResponse(bufio.NewReader(&conn.out), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(seed.Len()), resp.ContentLength)
	assert.Equal(t, seed.String(), string(body))

	info, err := os.Stat(values2)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestServedName(t *testing.T) {
	name, ok := servedName("/var/lib/weatherlogger", "/var/lib/weatherlogger/values1.dat")
	assert.True(t, ok)
	assert.Equal(t, "values1.dat", name)

	_, ok = servedName("/srv/www", "/var/lib/weatherlogger/values1.dat")
	assert.False(t, ok)
}
