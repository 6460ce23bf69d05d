// Package jobs runs the periodic maintenance work of the exchange core:
// deposit reconciliation, candle closing and purging of closed orders.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until the context ends.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger.Named("jobs")}
}

// Add registers a job. Jobs with a non-positive interval are skipped.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 {
		s.logger.Warn("Job disabled", zap.String("job", job.Name))
		return
	}
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	l := s.logger.With(zap.String("job", job.Name))
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	l.Info("Starting job loop", zap.Duration("interval", job.Interval))
	for {
		select {
		case <-ctx.Done():
			l.Info("Stopping job loop")
			return
		case <-ticker.C:
			s.runOnce(ctx, l, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, l *zap.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			l.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		l.Error("Job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	l.Debug("Job finished", zap.Duration("elapsed", time.Since(start)))
}
