// Package resilience shields the detection pipeline from failing model
// backends. [CircuitBreaker] is a three-state breaker (closed, open,
// half-open) that stops hammering a backend after repeated failures;
// [FallbackGroup] chains several backends, each behind its own breaker, so a
// dead primary is skipped in favour of the next healthy one.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. Enough successes
	// close the breaker; a single failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the protected backend in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls admitted in the half-open state.
	// Default: 3.
	HalfOpenMax int
}

// CircuitBreaker tracks consecutive failures of one backend and refuses
// calls while the backend is considered down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-valued config fields
// take the documented defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker refuses the call. The open-to-half-open
// transition happens here once the reset timeout has elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(probing)
	} else {
		cb.onSuccess(probing)
	}
	return err
}

// allow decides whether a call may proceed and reports whether it counts as
// a half-open probe.
func (cb *CircuitBreaker) allow() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("breaker probing backend", "backend", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// onFailure updates failure accounting. Caller holds cb.mu.
func (cb *CircuitBreaker) onFailure(probing bool) {
	cb.lastFailure = time.Now()

	if probing {
		cb.probeFails++
		// One failed probe is enough evidence the backend is still down.
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("breaker re-opened", "backend", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("breaker opened",
			"backend", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// onSuccess updates success accounting. Caller holds cb.mu.
func (cb *CircuitBreaker) onSuccess(probing bool) {
	if !probing {
		cb.failures = 0
		return
	}

	if cb.probes-cb.probeFails >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failures = 0
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("breaker closed, backend recovered", "backend", cb.name)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored transition still happens on the
// next [Execute] call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("breaker manually reset", "backend", cb.name)
}
