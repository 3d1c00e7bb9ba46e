package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/evkuzin/weatherlogger/clock"
	"github.com/evkuzin/weatherlogger/config"
	"github.com/evkuzin/weatherlogger/httpd"
	"github.com/evkuzin/weatherlogger/metrics"
	"github.com/evkuzin/weatherlogger/scheduler"
	"github.com/evkuzin/weatherlogger/storage"
	"github.com/evkuzin/weatherlogger/weather_station"
	"github.com/evkuzin/weatherlogger/weather_station/impl"
	"github.com/sirupsen/logrus"
)

// station holds everything the scheduler runs plus what has to be released
// on exit.
type station struct {
	scheduler *scheduler.Scheduler
	server    *httpd.Server
	closers   []io.Closer
}

func (s *station) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}

// newStation wires the time sync, sampler and HTTP tasks around one log
// store. The sensor and clock are supplied by the caller.
func newStation(
	conf *config.Config,
	sensor weather_station.Sensor,
	source clock.Source,
	logger *logrus.Logger,
) (*station, error) {
	m := metrics.New()
	st := &station{}

	store := storage.NewLogStore(conf.Storage.Dir, conf.Storage.Files, conf.Storage.Threshold, logger)
	store.OnRotate(m.Rotation)

	var archive storage.Adapter
	if conf.Database != nil {
		db, err := storage.NewStorage(conf.Database)
		if err != nil {
			return nil, fmt.Errorf("cannot init storage: %w", err)
		}
		st.closers = append(st.closers, db)
		archive = db
	}

	handler := &httpd.Handler{
		Root:            conf.HTTP.Root,
		DefaultDocument: conf.HTTP.DefaultDocument,
		Sample:          conf.Sample,
		Metrics:         m,
		Documents: map[string]httpd.Document{
			"metrics": {ContentType: metrics.ContentType, Render: m.Render},
			"chart.html": {
				ContentType: httpd.ContentHTML,
				Render:      impl.NewChart(store, logger).Render,
			},
		},
	}
	for i, p := range store.Files() {
		name, ok := servedName(conf.HTTP.Root, p)
		if !ok {
			continue
		}
		i := i
		handler.Documents[name] = httpd.Document{
			ContentType: httpd.ContentType(name),
			Render:      func() ([]byte, error) { return store.Snapshot(i) },
		}
	}
	server := httpd.NewServer(conf.HTTP.Addr, handler, logger)
	if conf.HTTP.PollTimeout > 0 {
		server.PollTimeout = conf.HTTP.PollTimeout
	}
	if conf.HTTP.ConnTimeout > 0 {
		server.ConnTimeout = conf.HTTP.ConnTimeout
	}
	st.server = server

	st.scheduler = scheduler.New(logger,
		clock.NewSyncTask(source, conf.Clock.SyncInterval, logger, m),
		impl.NewWeatherStation(sensor, source, store, archive, conf.Sample, logger, m),
		server,
	)

	if conf.Telegram.Enable {
		bot, err := impl.NewTelegram(conf.Telegram.Key, conf.Telegram.Debug, store, archive, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("cannot init telegram: %w", err)
		}
		st.scheduler.Add(bot)
	}
	return st, nil
}

// servedName is the request path under root that maps to file, if any.
func servedName(root, file string) (string, bool) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	if file, err = filepath.Abs(file); err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
