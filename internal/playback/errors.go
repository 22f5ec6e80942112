package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned by Pause and Resume outside the state they
	// apply to.
	ErrInvalidState = errors.New("invalid playback state")

	// ErrNoAudio is returned when a session finished without any audio.
	ErrNoAudio = errors.New("no audio received")

	// ErrNoText is returned by Speak for blank input.
	ErrNoText = errors.New("no text to speak")

	// ErrRateUnsupported is returned when the active sink cannot change its
	// playback rate.
	ErrRateUnsupported = errors.New("sink does not support playback rate changes")
)

// RequestError is a non-success reply from the reader server.
type RequestError struct {
	StatusCode  int
	Message     string
	TotalChunks *int
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}
