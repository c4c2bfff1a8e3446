// Package circuitbreaker implements the circuit-breaker pattern for calls to
// the upstream graph API. When the upstream keeps failing, the gateway stops
// calling it for a while and answers from the neutral fallback instead.
//
// State transitions:
//
//	Closed → Open        when consecutive failures ≥ FailureThreshold
//	Open   → HalfOpen   after Timeout elapses
//	HalfOpen → Closed   when consecutive successes ≥ SuccessThreshold
//	HalfOpen → Open     on any failure
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the circuit breaker's current state.
type State int

const (
	// StateClosed is normal operation; requests pass through.
	StateClosed State = iota
	// StateOpen rejects requests immediately while the upstream is failing.
	StateOpen
	// StateHalfOpen lets requests through to test recovery.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Options configures a CircuitBreaker. Zero values take the defaults
// FailureThreshold=5, SuccessThreshold=1, Timeout=30s and the real clock.
type Options struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Clock            clockwork.Clock
	// OnStateChange is called with the new state after every transition,
	// with the breaker's lock held. It must not call back into the breaker.
	OnStateChange func(State)
	// IsFailure decides whether a non-nil error passed to Record counts
	// against the upstream. Errors it rejects leave the counters untouched.
	// Nil means every error is a failure.
	IsFailure func(error) bool
}

// CircuitBreaker guards a single upstream.
type CircuitBreaker struct {
	mu               sync.Mutex
	clock            clockwork.Clock
	onChange         func(State)
	isFailure        func(error) bool
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openUntil        time.Time
}

// New creates a CircuitBreaker.
func New(opts Options) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(error) bool { return true }
	}
	return &CircuitBreaker{
		clock:            opts.Clock,
		onChange:         opts.OnStateChange,
		isFailure:        opts.IsFailure,
		state:            StateClosed,
		failureThreshold: opts.FailureThreshold,
		successThreshold: opts.SuccessThreshold,
		timeout:          opts.Timeout,
	}
}

// State returns the current state, transitioning Open→HalfOpen if the timeout
// has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveState()
}

// Allow returns nil if the call should proceed and ErrCircuitOpen otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.resolveState() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Record reports the outcome of a call that Allow let through. Errors that
// IsFailure rejects are neutral: neither a success nor a failure.
func (cb *CircuitBreaker) Record(err error) {
	switch {
	case err == nil:
		cb.RecordSuccess()
	case cb.isFailure(err):
		cb.RecordFailure()
	}
}

// RecordSuccess notifies the breaker that a call succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure notifies the breaker that a call failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.openUntil = cb.clock.Now().Add(cb.timeout)
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.successCount = 0
		cb.openUntil = cb.clock.Now().Add(cb.timeout)
		cb.transition(StateOpen)
	}
}

// resolveState must be called with cb.mu held.
func (cb *CircuitBreaker) resolveState() State {
	if cb.state == StateOpen && !cb.clock.Now().Before(cb.openUntil) {
		cb.successCount = 0
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(to)
	}
}
