// Package backoff provides poll delay strategies for the worker pool.
//
// A worker that finds no ready job, or whose reservation fails, waits
// Delay(n) before polling again, where n counts consecutive idle polls
// starting at 1. A successful reservation resets n. All strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the wait before the next poll.
type Strategy interface {
	// Delay returns how long to wait after the n-th consecutive idle poll.
	Delay(n int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant poll strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the wait by Initial per idle poll.
// Delay = min(Initial * n, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear poll strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * n, capped at Max.
func (l *Linear) Delay(n int) time.Duration {
	d := l.Initial * time.Duration(max(n, 1))
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the wait per idle poll.
// Delay = min(Initial * 2^(n-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential poll strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(n-1), capped at Max.
func (e *Exponential) Delay(n int) time.Duration {
	d := float64(e.Initial) * math.Pow(2, float64(max(n, 1)-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter spreads another strategy's delay by up to Fraction in either
// direction, so idle workers started together drift apart.
// Delay = base * (1 + Fraction * u), u uniform in [-1, 1).
type Jitter struct {
	Base     Strategy
	Fraction float64
}

// NewJitter wraps base with the given jitter fraction, clamped to [0, 1].
func NewJitter(base Strategy, fraction float64) *Jitter {
	return &Jitter{Base: base, Fraction: min(max(fraction, 0), 1)}
}

// Delay returns the base delay with jitter applied.
func (j *Jitter) Delay(n int) time.Duration {
	d := float64(j.Base.Delay(n))
	u := rand.Float64()*2 - 1 //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(d * (1 + j.Fraction*u))
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the poll strategy used by the worker pool:
// Exponential from 50ms to 2s with 20% jitter.
func DefaultStrategy() Strategy {
	return NewJitter(NewExponential(50*time.Millisecond, 2*time.Second), 0.2)
}
