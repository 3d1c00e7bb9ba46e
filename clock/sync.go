package clock

import (
	"context"
	"time"

	"github.com/evkuzin/weatherlogger/metrics"
	"github.com/evkuzin/weatherlogger/scheduler"
	"github.com/sirupsen/logrus"
)

// DefaultSyncInterval is short because cheap board RTCs gain seconds every
// few minutes.
const DefaultSyncInterval = time.Minute

// SyncTask refreshes a Source forever and reports the drift observed across
// each refresh. Failed refreshes are logged and otherwise ignored.
type SyncTask struct {
	source   Source
	interval time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

func NewSyncTask(source Source, interval time.Duration, logger *logrus.Logger, m *metrics.Metrics) *SyncTask {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &SyncTask{source: source, interval: interval, logger: logger, metrics: m}
}

func (t *SyncTask) Name() string {
	return "timesync"
}

func (t *SyncTask) Run(ctx context.Context) error {
	for {
		t.Sync(ctx)
		if err := scheduler.Sleep(ctx, t.interval); err != nil {
			return err
		}
	}
}

// Sync performs one refresh and returns the drift in seconds.
func (t *SyncTask) Sync(ctx context.Context) int64 {
	before := t.source.Now()
	err := t.source.Refresh(ctx)
	drift := t.source.Now() - before
	t.metrics.Drift(float64(drift))
	if err != nil {
		t.metrics.SyncFailure()
		t.logger.WithFields(logrus.Fields{
			"task":  t.Name(),
			"drift": drift,
		}).Warnf("clock refresh failed: %s", err)
		return drift
	}
	t.logger.WithFields(logrus.Fields{
		"task":  t.Name(),
		"time":  time.Unix(UnixSeconds(t.source), 0).UTC().Format(time.RFC3339),
		"drift": drift,
	}).Info("clock synced")
	return drift
}
