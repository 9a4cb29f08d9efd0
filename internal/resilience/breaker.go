// Package resilience provides automatic failover between provider backends.
//
// A [Breaker] is a three-state circuit breaker (closed, open, half-open)
// guarding a single backend. [Group] chains several backends of the same
// provider kind behind per-backend breakers so a failing primary is skipped
// in favour of a healthy fallback. The [LLM], [STT] and [TTS] wrappers adapt
// a Group to the corresponding provider interface.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrOpen] until the reset timeout
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through to decide
	// whether the backend has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields fall back to defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is the consecutive-failure count that trips the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is how many probe calls must succeed before the breaker
	// closes again. Default 3.
	HalfOpenProbes int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 3
	}
	return c
}

// Breaker is a circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probes   int
	probeOKs int
}

// NewBreaker returns a closed [Breaker] with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:    cfg.withDefaults(),
		logger: slog.Default().With("breaker", cfg.Name),
	}
}

// Do runs fn unless the breaker is rejecting calls, and folds fn's outcome
// into the breaker state. In the open state it returns [ErrOpen] without
// calling fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeOKs = 0
		b.logger.Info("circuit half-open, probing backend")
	case BreakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		// One failed probe re-opens immediately.
		b.state = BreakerOpen
		b.failures = b.cfg.MaxFailures
		b.logger.Warn("circuit re-opened after failed probe")
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.cfg.MaxFailures {
		b.state = BreakerOpen
		b.logger.Warn("circuit opened", "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probeOKs++
		if b.probeOKs >= b.cfg.HalfOpenProbes {
			b.state = BreakerClosed
			b.failures = 0
			b.logger.Info("circuit closed after successful probes")
		}
		return
	}
	b.failures = 0
}

// State reports the breaker state. An open breaker whose reset timeout has
// elapsed reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probes = 0
	b.probeOKs = 0
}
