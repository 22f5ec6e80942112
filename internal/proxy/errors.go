package proxy

import (
	"errors"
	"fmt"

	"github.com/rustingibbsfight/hume-document-reader/internal/resilience"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
)

// ErrInvalidInput is returned for requests without usable text or with a
// malformed field.
var ErrInvalidInput = errors.New("missing or invalid text")

// ErrInvalidProvider is returned when voiceProvider names no known catalog.
var ErrInvalidProvider = errors.New("invalid voice provider")

// ErrUpstreamIdle is returned when the provider stops sending frames for
// longer than the idle timeout.
var ErrUpstreamIdle = errors.New("upstream stream idle timeout")

// ChunkIndexOutOfRangeError means the client's chunk plan does not match the
// server's.
type ChunkIndexOutOfRangeError struct {
	Index       int
	TotalChunks int
}

func (e *ChunkIndexOutOfRangeError) Error() string {
	return fmt.Sprintf("chunk index %d out of range (total chunks %d)", e.Index, e.TotalChunks)
}

// UpstreamError means the provider rejected or failed to start synthesis.
type UpstreamError struct {
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string {
	return "upstream synthesis failed: " + e.Detail
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func newUpstreamError(err error) *UpstreamError {
	detail := err.Error()

	var apiErr *tts.APIError
	switch {
	case errors.As(err, &apiErr):
		detail = apiErr.Detail
	case errors.Is(err, resilience.ErrCircuitOpen):
		detail = "upstream temporarily unavailable (circuit breaker open)"
	}

	return &UpstreamError{Detail: detail, Err: err}
}
