package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/resilience"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
)

// NewUpstreamBreaker creates the circuit breaker guarding synthesis calls.
// Client errors from the provider (bad voice, invalid key) do not count.
func NewUpstreamBreaker(name string, maxFailures int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	logger := observability.WithComponent("circuit_breaker")

	return resilience.NewCircuitBreaker(name, maxFailures, resetTimeout,
		resilience.WithFailurePredicate(func(err error) bool {
			if !isUpstreamFault(err) {
				return false
			}
			observability.IncrementCircuitBreakerFailures(name)
			return true
		}),
		resilience.WithStateChange(func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			logger.Warn().
				Str("service", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("Circuit breaker state changed")
		}),
	)
}

func isUpstreamFault(err error) bool {
	var apiErr *tts.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// BreakerCheck exposes the breaker as a readiness dependency. An open circuit
// makes the service not ready until a trial request succeeds.
func BreakerCheck(cb *resilience.CircuitBreaker) observability.DependencyCheck {
	return observability.DependencyCheck{
		Name: cb.Name() + "_circuit",
		Check: func(context.Context) (bool, error) {
			if cb.GetState() != resilience.StateOpen {
				return true, nil
			}
			_, requests, failures, rate := cb.GetStats()
			return false, fmt.Errorf("circuit open: %d of %d requests failed (%.1f%%)", failures, requests, rate)
		},
	}
}
