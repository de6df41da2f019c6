package pipeline

import (
	"time"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonTimeout             Reason = "timeout"
	ReasonChallengeUnresolved Reason = "challenge-unresolved"
	ReasonSelectorMiss        Reason = "selector-miss"
	ReasonTransportError      Reason = "transport-error"
)

// Result is either a price or a failure reason, never both. Build one with
// Priced or Failed.
type Result struct {
	price  decimal.Decimal
	reason Reason
	err    error
	ok     bool

	// Diagnostics only.
	ChallengeCycles int
	Duration        time.Duration
}

func Priced(price decimal.Decimal) Result {
	return Result{price: price, ok: true}
}

func Failed(reason Reason, err error) Result {
	return Result{reason: reason, err: err}
}

func (r Result) OK() bool {
	return r.ok
}

// Price is zero unless OK.
func (r Result) Price() decimal.Decimal {
	return r.price
}

// Reason is empty when OK.
func (r Result) Reason() Reason {
	return r.reason
}

func (r Result) Err() error {
	return r.err
}

func (r Result) withCycles(n int) Result {
	r.ChallengeCycles = n
	return r
}

// Retryable reports whether a fresh attempt at the same product may succeed.
// Unresolved challenges are not retried: the site is actively refusing us.
func (r Result) Retryable() bool {
	switch r.reason {
	case ReasonTimeout, ReasonTransportError, ReasonSelectorMiss:
		return true
	default:
		return false
	}
}
