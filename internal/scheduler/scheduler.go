package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker after a shared startup delay.
// A failed run is logged and retried on the next tick.
type Scheduler struct {
	logger       *zap.Logger
	startupDelay time.Duration
	jobs         []Job
}

func New(logger *zap.Logger, startupDelay time.Duration) *Scheduler {
	return &Scheduler{logger: logger, startupDelay: startupDelay}
}

func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.startupDelay > 0 {
		timer := time.NewTimer(s.startupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		if job.Interval <= 0 {
			s.logger.Warn("job disabled", zap.String("job", job.Name))
			continue
		}
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("job", job.Name), zap.String("run_id", runID))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r))
		}
	}()

	err := job.Run(ctx)
	duration := time.Since(started)
	switch {
	case err == nil:
		logger.Debug("job finished", zap.Duration("duration", duration))
	case errors.Is(err, context.Canceled):
		logger.Info("job cancelled", zap.Duration("duration", duration))
	default:
		logger.Warn("job failed", zap.Error(err), zap.Duration("duration", duration))
	}
}
