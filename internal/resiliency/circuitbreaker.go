// Package resiliency implements the circuit breaker and bulkhead patterns
// shared by the Lifecycle Manager and Inference Executor. Neither pattern
// is present in the filtered original_source/ snapshot (only referenced by
// its call sites in core/lifecycle.py and core/inference.py), so the
// state machines here are built directly from spec.md §4.3/§4.4/§8 rather
// than ported from Python source.
package resiliency

import (
	"sync"
	"time"

	"github.com/docker/model-ops-coordinator/internal/errs"
)

// BreakerState mirrors the three states in spec.md §4.3, numbered to match
// the Telemetry gauge convention (0=closed, 1=open, 2=half-open).
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker is a per-operation breaker (the Lifecycle Manager
// constructs one named "load" and one named "unload", per spec.md §4.3).
type CircuitBreaker struct {
	mu sync.Mutex

	Operation        string
	FailureThreshold int
	ResetTimeout      time.Duration

	state                BreakerState
	consecutiveFailures  int
	openedAt             time.Time
	halfOpenTrialRunning bool

	onStateChange func(op string, state BreakerState)
}

// NewCircuitBreaker builds a breaker starting closed.
func NewCircuitBreaker(operation string, failureThreshold int, resetTimeout time.Duration, onStateChange func(op string, state BreakerState)) *CircuitBreaker {
	return &CircuitBreaker{
		Operation:        operation,
		FailureThreshold: failureThreshold,
		ResetTimeout:     resetTimeout,
		state:            StateClosed,
		onStateChange:    onStateChange,
	}
}

// Allow reports whether a call may proceed. When the breaker is open but
// the reset timeout has elapsed, exactly one caller is admitted as the
// half-open trial; concurrent callers during that trial are rejected.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := cb.ResetTimeout - time.Since(cb.openedAt)
		if remaining <= 0 {
			cb.setState(StateHalfOpen)
			cb.halfOpenTrialRunning = true
			return nil
		}
		return &errs.CircuitOpen{Operation: cb.Operation, FailureCount: cb.consecutiveFailures, RetryAfterSec: retryAfterSeconds(remaining)}
	case StateHalfOpen:
		if cb.halfOpenTrialRunning {
			return &errs.CircuitOpen{Operation: cb.Operation, FailureCount: cb.consecutiveFailures, RetryAfterSec: retryAfterSeconds(cb.ResetTimeout)}
		}
		cb.halfOpenTrialRunning = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker (from closed or half-open).
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.halfOpenTrialRunning = false
	if cb.state != StateClosed {
		cb.setState(StateClosed)
	}
}

// RecordFailure counts a failure, tripping the breaker open once the
// threshold is reached (or immediately, if the failure was the half-open
// trial call).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures++
	if cb.state == StateHalfOpen {
		cb.halfOpenTrialRunning = false
		cb.openedAt = time.Now()
		cb.setState(StateOpen)
		return
	}
	if cb.consecutiveFailures >= cb.FailureThreshold {
		cb.openedAt = time.Now()
		cb.setState(StateOpen)
	}
}

// State returns the current breaker state (for Telemetry gauges).
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	if cb.onStateChange != nil {
		cb.onStateChange(cb.Operation, s)
	}
}

// retryAfterSeconds rounds d up to a whole second so a zero-but-positive
// remaining duration still yields a usable Retry-After hint.
func retryAfterSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	if secs <= 0 {
		secs = 1
	}
	return secs
}
