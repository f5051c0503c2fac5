package probe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by RunGuarded when the breaker has tripped
// and is not yet due for its half-open retry.
var ErrBreakerOpen = errors.New("probe: circuit breaker is open")

// breaker states, adapted from the closed/half-open/open circuit pattern.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// BreakerConfig tunes when a misbehaving probe gets cut off.
type BreakerConfig struct {
	MaxFailures  int64
	ResetTimeout time.Duration
}

// DefaultBreakerConfig trips after three consecutive timeouts/failures
// and waits 30s before trying the probe again.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second}
}

// Breaker stops calling a probe that keeps timing out instead of paying
// its wall-clock cap on every tick. One Breaker guards one probe Spec.
type Breaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         string
	failures      int64
	nextRetryTime time.Time
}

// NewBreaker returns a closed Breaker using cfg (DefaultBreakerConfig if
// the zero value is passed).
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call should be attempted. When open and the
// reset timeout has elapsed it transitions to half-open and allows
// exactly one trial call through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		return false
	}
	if b.state != StateOpen {
		return true
	}
	if time.Now().Before(b.nextRetryTime) {
		return false
	}
	b.state = StateHalfOpen
	return true
}

// RecordResult feeds back whether the call Allow just admitted
// succeeded. A failed trial while half-open reopens the breaker; a
// success while half-open (or closed) resets the failure count.
func (b *Breaker) RecordResult(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ok {
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.nextRetryTime = time.Now().Add(b.cfg.ResetTimeout)
		}
		return
	}

	b.failures = 0
	b.state = StateClosed
}

// State returns the breaker's current state for diagnostics.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RunGuarded runs spec through runner only if the breaker currently
// allows it, feeding the outcome (success unless timed out or erroring)
// back into the breaker. Returns ErrBreakerOpen without touching runner
// when the breaker has tripped.
func (r *Runner) RunGuarded(ctx context.Context, spec Spec, b *Breaker) (Result, error) {
	if !b.Allow() {
		return Result{}, ErrBreakerOpen
	}
	result, err := r.Run(ctx, spec)
	b.RecordResult(err == nil && !result.TimedOut)
	return result, err
}
