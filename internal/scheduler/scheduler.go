package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/maltedev/price-updater/internal/batch"
)

type Runner interface {
	Run(ctx context.Context) (batch.Summary, error)
}

// Scheduler triggers batch runs on a cron schedule (six fields, seconds first).
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger
}

func New(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		runner: runner,
		logger: logger.With("component", "scheduler"),
	}
}

// Start registers spec and starts the cron loop. Runs use ctx, so cancelling
// it interrupts a run in flight.
func (s *Scheduler) Start(ctx context.Context, spec string, runOnStart bool) error {
	if _, err := s.cron.AddFunc(spec, func() { s.trigger(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	if runOnStart {
		go s.trigger(ctx)
	}

	s.cron.Start()
	s.logger.Info("batch runs scheduled", "schedule", spec, "run_on_start", runOnStart)
	return nil
}

// Stop halts scheduling and returns a context that is done once a run
// started by the scheduler has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := s.runner.Run(ctx); err != nil {
		if errors.Is(err, batch.ErrRunInProgress) {
			s.logger.Warn("skipping scheduled run, previous run still in progress")
			return
		}
		s.logger.Error("scheduled run failed", "error", err)
	}
}
