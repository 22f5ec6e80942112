package playback

import "context"

// AudioSink plays decoded audio. Done is closed once playback reached the end
// of the media or the sink failed; Err then reports the failure, if any.
type AudioSink interface {
	Pause() error
	Resume() error
	Close() error
	Done() <-chan struct{}
	Err() error
}

// StreamingSink accepts audio incrementally while it plays.
type StreamingSink interface {
	AudioSink

	// Append hands p to the sink and calls done once p has been consumed.
	// Callers keep at most one Append outstanding. done may run on any
	// goroutine, including the caller's.
	Append(p []byte, done func(error)) error

	// EndOfStream marks the media complete; Done closes after the appended
	// audio finished playing.
	EndOfStream() error
}

// BufferedSink plays one complete buffer.
type BufferedSink interface {
	AudioSink

	// Load starts playback of p.
	Load(p []byte) error
}

// RateSetter is implemented by sinks that can change speed while playing.
type RateSetter interface {
	SetRate(rate float64) error
}

// SinkFactory creates sinks. SupportsStreaming reports the capability; the
// engine calls it once per session and keeps the answer.
type SinkFactory interface {
	SupportsStreaming() bool
	NewStreamingSink(ctx context.Context) (StreamingSink, error)
	NewBufferedSink(ctx context.Context) (BufferedSink, error)
}
