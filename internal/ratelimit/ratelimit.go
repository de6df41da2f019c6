package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Delayer pauses for a given duration. All waits in the acquisition path go
// through it so tests can run without sleeping.
type Delayer interface {
	Wait(ctx context.Context, d time.Duration) error
}

type Sleeper struct{}

func (Sleeper) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter returns values in [0, max).
type Jitter interface {
	Int63n(n int64) int64
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedSource) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Int63n(n)
}

func NewJitter(seed int64) Jitter {
	return &lockedSource{rng: rand.New(rand.NewSource(seed))}
}

type Pacer interface {
	Wait(ctx context.Context) error
	SetDelay(base, jitter time.Duration)
}

// SimplePacer spaces consecutive actions by base plus a random share of jitter,
// measured from the end of the previous Wait.
type SimplePacer struct {
	delayer    Delayer
	jitter     Jitter
	base       time.Duration
	spread     time.Duration
	lastAction time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewSimplePacer(delayer Delayer, jitter Jitter, base, spread time.Duration) *SimplePacer {
	if delayer == nil {
		delayer = Sleeper{}
	}
	if jitter == nil {
		jitter = NewJitter(time.Now().UnixNano())
	}
	return &SimplePacer{
		delayer: delayer,
		jitter:  jitter,
		base:    base,
		spread:  spread,
		now:     time.Now,
	}
}

func (p *SimplePacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.calculateDelay()
	if !p.lastAction.IsZero() {
		delay -= p.now().Sub(p.lastAction)
	}

	if delay > 0 {
		if err := p.delayer.Wait(ctx, delay); err != nil {
			return err
		}
	}

	p.lastAction = p.now()
	return nil
}

func (p *SimplePacer) SetDelay(base, spread time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = base
	p.spread = spread
}

func (p *SimplePacer) calculateDelay() time.Duration {
	if p.spread <= 0 {
		return p.base
	}
	return p.base + time.Duration(p.jitter.Int63n(int64(p.spread)))
}

// AdaptivePacer stretches the base delay after repeated failures and relaxes
// it again after a streak of successes, never below the configured floor.
type AdaptivePacer struct {
	*SimplePacer
	floor         time.Duration
	ceiling       time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptivePacer(delayer Delayer, jitter Jitter, base, spread time.Duration) *AdaptivePacer {
	return &AdaptivePacer{
		SimplePacer:   NewSimplePacer(delayer, jitter, base, spread),
		floor:         base,
		ceiling:       base * 8,
		maxErrorCount: 3,
		backoffFactor: 1.5,
	}
}

func (a *AdaptivePacer) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		next := time.Duration(float64(a.base) * 0.9)
		if next < a.floor {
			next = a.floor
		}
		a.base = next
		a.successCount = 0
	}
}

func (a *AdaptivePacer) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		next := time.Duration(float64(a.base) * a.backoffFactor)
		if next > a.ceiling {
			next = a.ceiling
		}
		a.base = next
		a.errorCount = 0
	}
}

func (a *AdaptivePacer) CurrentDelay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.base
}
