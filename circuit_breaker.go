package ledgerline

import (
	"context"
	"sync/atomic"
	"time"
)

// CircuitState is the breaker's position.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the conventional lowercase state name.
func (s CircuitState) String() string {
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

// CircuitBreakerConfig tunes the breaker. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open. Default 5.
	FailureThreshold int
	// RecoveryTimeout is the cool-down after which the next call probes
	// the dependency in half-open state. Default 60s.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of half-open successes that close
	// the breaker again. Default 1: the first successful probe closes it.
	SuccessThreshold int
}

// CircuitBreaker is a closed/open/half-open state machine that stops calling
// a failing dependency for a cool-down period. It is independent of the
// retry engine; the two compose without depending on each other's internals.
// All state transitions are lock-free atomics, safe for concurrent use.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	successes   int64
	lastFailure int64
	probing     int64
}

// NewCircuitBreaker creates a breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// Allow reports whether a call may proceed, transitioning open → half-open
// once the recovery timeout has elapsed since the last failure. While
// half-open, only one probe call is admitted at a time; the slot is released
// when its outcome is recorded, or by cancelProbe when the call aborts before
// reaching the dependency.
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
			}
			if CircuitState(atomic.LoadInt64(&cb.state)) == StateHalfOpen {
				return atomic.CompareAndSwapInt64(&cb.probing, 0, 1)
			}
		}
		return false
	case StateHalfOpen:
		return atomic.CompareAndSwapInt64(&cb.probing, 0, 1)
	default:
		return false
	}
}

// cancelProbe releases the half-open probe slot without recording an
// outcome, for calls that were admitted but never reached the dependency.
func (cb *CircuitBreaker) cancelProbe() {
	if CircuitState(atomic.LoadInt64(&cb.state)) == StateHalfOpen {
		atomic.StoreInt64(&cb.probing, 0)
	}
}

// RecordFailure notes a failed call. In closed state it counts toward the
// failure threshold; in half-open state it reopens the circuit and resets
// the failure timestamp.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		if atomic.AddInt64(&cb.failures, 1) >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateOpen:
		// Already open; only the timestamp moves.
	case StateHalfOpen:
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
		atomic.StoreInt64(&cb.probing, 0)
	}
}

// RecordSuccess notes a successful call. In closed state it clears the
// consecutive-failure count; in half-open state enough successes close the
// circuit and zero both counters.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateOpen:
		// Success cannot be observed while open; nothing to do.
	case StateHalfOpen:
		if atomic.AddInt64(&cb.successes, 1) >= int64(cb.config.SuccessThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateClosed))
			atomic.StoreInt64(&cb.failures, 0)
			atomic.StoreInt64(&cb.successes, 0)
		}
		atomic.StoreInt64(&cb.probing, 0)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Failures returns the consecutive-failure count.
func (cb *CircuitBreaker) Failures() int64 {
	return atomic.LoadInt64(&cb.failures)
}

// Execute runs op through the breaker. When the circuit is open and the
// cool-down has not elapsed it returns ErrCircuitOpen without invoking op;
// otherwise it invokes op and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := op(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
