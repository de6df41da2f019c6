package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/price-updater/internal/ratelimit"
)

// RandomSource yields values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// SimulateHumanPresence scrolls a little, moves the pointer and scrolls to the
// middle of the document. Failures are logged at debug level and swallowed.
func SimulateHumanPresence(ctx context.Context, page Page, delayer ratelimit.Delayer, rng RandomSource, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	steps := []struct {
		name  string
		run   func() error
		pause time.Duration
	}{
		{
			name: "scroll",
			run: func() error {
				_, err := page.Evaluate("y => window.scrollTo(0, y)", rng.Float64()*100)
				return err
			},
			pause: time.Second,
		},
		{
			name: "pointer",
			run: func() error {
				return page.MoveMouse(100+rng.Float64()*100, 100+rng.Float64()*100)
			},
			pause: 500 * time.Millisecond,
		},
		{
			name: "scroll-middle",
			run: func() error {
				_, err := page.Evaluate("() => window.scrollTo(0, document.body.scrollHeight / 2)", nil)
				return err
			},
			pause: time.Second,
		},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			logger.Debug("presence step failed", "step", step.name, "error", err)
		}
		if err := delayer.Wait(ctx, step.pause); err != nil {
			logger.Debug("presence interrupted", "step", step.name, "error", err)
			return
		}
	}
}
