package resilience

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts including the first
	InitialBackoff    time.Duration // Wait before the second attempt
	MaxBackoff        time.Duration // Upper bound for any single wait
	BackoffMultiplier float64       // Growth factor between waits
	Jitter            bool          // Add up to 25% random jitter
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. Waits between attempts are interrupted by ctx.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		wait := CalculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		if config.Jitter && wait > 0 {
			wait += time.Duration(rand.Int63n(int64(wait)/4 + 1))
			if config.MaxBackoff > 0 && wait > config.MaxBackoff {
				wait = config.MaxBackoff
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// IsRetryableNetworkError reports whether err is a transport failure worth
// another attempt. Cancellation never is.
func IsRetryableNetworkError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
