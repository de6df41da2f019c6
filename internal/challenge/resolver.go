package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-updater/internal/browser"
	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

type State string

const (
	StateNoChallenge State = "NO_CHALLENGE"
	StateDetected    State = "DETECTED"
	StateSolving     State = "SOLVING"
	StateSolved      State = "SOLVED"
	StateGiveUp      State = "GIVE_UP"
)

var ErrChallengePersists = errors.New("challenge still present after solving budget")

type Outcome struct {
	State  State
	Cycles int
	Err    error
}

func (o Outcome) Resolved() bool {
	return o.State == StateNoChallenge || o.State == StateSolved
}

// Page is what the resolver needs from a loaded tab.
type Page interface {
	browser.DocumentView
	Evaluator
}

type ResolverConfig struct {
	MaxCycles          int
	MaxDetectionPasses int
	SettleInterval     time.Duration
	RetryDelay         time.Duration
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		MaxCycles:          3,
		MaxDetectionPasses: 3,
		SettleInterval:     3 * time.Second,
		RetryDelay:         2 * time.Second,
	}
}

func ResolverConfigFromConfig(cfg config.ChallengeConfig) ResolverConfig {
	return ResolverConfig{
		MaxCycles:          cfg.MaxCycles,
		MaxDetectionPasses: cfg.MaxDetectionPasses,
		SettleInterval:     cfg.SettleInterval,
		RetryDelay:         cfg.RetryDelay,
	}
}

type Resolver struct {
	detector *Detector
	solver   Solver
	injector Injector
	cfg      ResolverConfig
	delayer  ratelimit.Delayer
	logger   *slog.Logger
}

func NewResolver(detector *Detector, solver Solver, cfg ResolverConfig, delayer ratelimit.Delayer, logger *slog.Logger) *Resolver {
	if cfg.MaxCycles < 1 {
		cfg.MaxCycles = 1
	}
	if cfg.MaxDetectionPasses < 1 {
		cfg.MaxDetectionPasses = 1
	}
	if delayer == nil {
		delayer = ratelimit.Sleeper{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		detector: detector,
		solver:   solver,
		cfg:      cfg,
		delayer:  delayer,
		logger:   logger.With("component", "challenge"),
	}
}

// Resolve drives detect, locate, solve and inject until the page is clear or
// a budget runs out. It never navigates; the caller decides what to do with
// GIVE_UP.
func (r *Resolver) Resolve(ctx context.Context, page Page) Outcome {
	var (
		cycles  int
		passes  int
		lastErr error
	)

	giveUp := func(err error) Outcome {
		if err == nil {
			err = lastErr
		}
		if err == nil {
			err = ErrChallengePersists
		}
		r.logger.Warn("giving up on challenge", "cycles", cycles, "detection_passes", passes, "error", err)
		return Outcome{State: StateGiveUp, Cycles: cycles, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return giveUp(err)
		}

		present, err := r.detector.IsPresent(page)
		if err != nil {
			passes++
			lastErr = err
			r.logger.Debug("challenge presence check failed", "pass", passes, "error", err)
			if passes >= r.cfg.MaxDetectionPasses {
				return giveUp(fmt.Errorf("challenge presence unknown: %w", err))
			}
			if err := r.delayer.Wait(ctx, r.cfg.SettleInterval); err != nil {
				return giveUp(err)
			}
			continue
		}
		if !present {
			if cycles == 0 {
				return Outcome{State: StateNoChallenge}
			}
			r.logger.Info("challenge solved", "cycles", cycles)
			return Outcome{State: StateSolved, Cycles: cycles}
		}

		// DETECTED
		c, ok := r.detector.Locate(page)
		if !ok {
			passes++
			r.logger.Debug("challenge detected but not locatable", "pass", passes)
			if passes >= r.cfg.MaxDetectionPasses {
				return giveUp(errors.New("challenge could not be located"))
			}
			if err := r.delayer.Wait(ctx, r.cfg.SettleInterval); err != nil {
				return giveUp(err)
			}
			continue
		}

		if cycles >= r.cfg.MaxCycles {
			return giveUp(nil)
		}
		cycles++

		// SOLVING
		r.logger.Info("solving challenge", "cycle", cycles, "frame", c.FrameIndex, "page_url", c.PageURL)
		token, err := r.solver.Solve(ctx, c)
		if err != nil {
			lastErr = err
			if Unsolvable(err) {
				return giveUp(err)
			}
			r.logger.Warn("challenge solver failed, retrying", "cycle", cycles, "error", err)
			if err := r.delayer.Wait(ctx, r.cfg.RetryDelay); err != nil {
				return giveUp(err)
			}
			continue
		}

		if err := r.injector.Inject(page, token); err != nil {
			lastErr = err
			r.logger.Warn("token injection failed, re-detecting", "cycle", cycles, "error", err)
			if err := r.delayer.Wait(ctx, r.cfg.RetryDelay); err != nil {
				return giveUp(err)
			}
			continue
		}

		if err := r.delayer.Wait(ctx, r.cfg.SettleInterval); err != nil {
			return giveUp(err)
		}
	}
}
