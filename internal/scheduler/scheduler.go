package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elonfeng/popradar/internal/pipeline"
)

// Runner runs one aggregation pass.
type Runner interface {
	RunOnce(ctx context.Context) (*pipeline.Report, error)
}

// Scheduler triggers passes once a day at a fixed wall-clock time, or at a
// fixed interval when no time of day is set.
type Scheduler struct {
	runner     Runner
	at         string
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger

	now func() time.Time
}

// New creates a scheduler. at is "HH:MM" local time; an empty at falls back
// to interval.
func New(runner Runner, at string, interval time.Duration, runOnStart bool, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		runner:     runner,
		at:         at,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
		now:        time.Now,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.runOnStart {
		s.logger.Info("scheduler: initial pass")
		s.runPass(ctx)
	}

	for {
		next := s.nextRun(s.now())
		wait := next.Sub(s.now())
		s.logger.Info("scheduler: next pass", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	rep, err := s.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, pipeline.ErrPassInProgress):
		s.logger.Warn("scheduler: pass skipped, another pass is running")
	case err != nil:
		s.logger.Error("scheduler: pass failed", "error", err)
	default:
		s.logger.Info("scheduler: pass done", "run_id", rep.RunID, "records", rep.Records, "written", rep.Written)
	}
}

// nextRun returns the first trigger strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	if s.at == "" {
		return now.Add(s.interval)
	}
	hm, err := time.Parse("15:04", s.at)
	if err != nil {
		return now.Add(s.interval)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
