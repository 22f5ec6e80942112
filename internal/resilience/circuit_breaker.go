package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether upstream recovered
)

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

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name string, from, to CircuitState)

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithHalfOpenMax sets how many trial requests run in half-open state and how
// many must succeed before the circuit closes again.
func WithHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenMax = n
		}
	}
}

// WithStateChange registers a transition hook. It runs with the breaker lock held
// and must not call back into the breaker.
func WithStateChange(fn StateChangeFunc) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// WithFailurePredicate decides which errors count against the breaker. Errors
// for which it returns false are passed through without being recorded.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// CircuitBreaker guards calls to an upstream that may be unavailable
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	onStateChange StateChangeFunc
	isFailure     func(error) bool

	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	successCount     int
	halfOpenInFlight int
	openedAt         time.Time
	requestTotal     int64
	failureTotal     int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's service name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn with circuit breaker protection
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if err != nil && !cb.counts(err) {
		cb.release()
		return err
	}
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) counts(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.isFailure != nil {
		return cb.isFailure(err)
	}
	return true
}

// allowRequest reports whether a request may proceed, moving an expired open
// circuit to half-open.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return true

	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.halfOpenMax {
			cb.halfOpenInFlight++
			return true
		}
		return false
	}

	return false
}

// release frees a half-open slot taken by a call whose error was not counted.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// RecordResult records the result of a request
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestTotal++
	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureTotal++

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.transition(StateOpen)
		}

	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenInFlight = 0
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state = cb.state
	requestCount = cb.requestTotal
	failureCount = cb.failureTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}

	return
}

