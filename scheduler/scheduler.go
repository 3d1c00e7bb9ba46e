// Package scheduler runs the logger's long-lived tasks side by side. Tasks
// never finish on their own: one that returns takes every other task down
// with it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrTaskExited is returned when a task stops without an error before the
// scheduler was cancelled.
var ErrTaskExited = errors.New("task exited")

// Task is a loop that runs until ctx is cancelled. Recoverable errors must be
// handled inside Run; any returned error is fatal.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler struct {
	tasks  []Task
	logger *logrus.Logger
}

func New(logger *logrus.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks, logger: logger}
}

// Add registers t. It has no effect once Run has started.
func (s *Scheduler) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Run starts every task and blocks until ctx is cancelled or one task fails.
// It returns nil after a cancellation and the first failure otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			return s.run(gctx, t)
		})
	}
	err := g.Wait()
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

func (s *Scheduler) run(ctx context.Context, t Task) (err error) {
	log := s.logger.WithField("task", t.Name())
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("task %s panicked: %v", t.Name(), r)
		}
	}()

	log.Info("starting")
	err = t.Run(ctx)
	if ctx.Err() != nil {
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("stopped: %s", err)
		} else {
			log.Info("stopped")
		}
		return ctx.Err()
	}
	if err == nil {
		err = ErrTaskExited
	}
	log.Errorf("failed: %s", err)
	return fmt.Errorf("task %s: %w", t.Name(), err)
}

// Sleep suspends the caller for d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
