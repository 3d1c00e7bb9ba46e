package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/evkuzin/weatherlogger/clock"
	"github.com/evkuzin/weatherlogger/config"
	"github.com/evkuzin/weatherlogger/weather_station"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (defaults are used when empty)")
	flag.Parse()

	logger := &logrus.Logger{
		Out:          os.Stdout,
		Formatter:    &logrus.TextFormatter{},
		Hooks:        make(logrus.LevelHooks),
		Level:        logrus.InfoLevel,
		ReportCaller: true,
	}

	conf, err := config.NewConfig(*configPath)
	if err != nil {
		logger.Errorf("cannot load config: %s", err.Error())
		os.Exit(1)
	}
	if level, err := logrus.ParseLevel(conf.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using %s", conf.LogLevel, logger.GetLevel())
	}

	bus, err := weather_station.OpenBus(logger, conf.Sensor.Bus)
	if err != nil {
		logger.Errorf("cannot init periph: %s", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warnf("Error during shutdown bus: %v", err.Error())
		}
	}()
	sensor, err := weather_station.OpenSensor(logger, conf.Sensor, bus)
	if err != nil {
		logger.Errorf("cannot init sensor: %s", err.Error())
		os.Exit(1)
	}

	source := clock.NewNTPSource(conf.Clock.Server, conf.Clock.Epoch)
	source.Timeout = conf.Clock.Timeout
	source.SetSystemClock = conf.Clock.SetSystemClock

	st, err := newStation(conf, sensor, source, logger)
	if err != nil {
		logger.Errorf("%s", err.Error())
		os.Exit(1)
	}
	defer st.Close()
	if err := st.server.Listen(); err != nil {
		logger.Errorf("cannot start http server: %s", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.scheduler.Run(ctx); err != nil {
		logger.Errorf("stopping: %s", err.Error())
		st.Close()
		bus.Close()
		os.Exit(1)
	}
	logger.Info("all tasks stopped, shutdown...")
}
