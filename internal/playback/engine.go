// Package playback requests a document chunk by chunk from the reader server
// and plays the audio while later chunks are still being synthesized.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rustingibbsfight/hume-document-reader/internal/audio"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

// State is the engine's playback state
type State int

const (
	Idle State = iota
	Loading
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Selection is the voice and speed used for one Speak call. It is copied at
// call time; later changes by the caller do not affect a running session.
type Selection struct {
	VoiceName     string
	VoiceProvider string
	Speed         float64
	// TrailingSilence in seconds between chunks; nil uses the server default.
	TrailingSilence *float64
	Instant         bool
}

// Status is a snapshot of the engine
type Status struct {
	State        State
	CurrentChunk int // 1-based; 0 before the first metadata record
	TotalChunks  int
	// Progress is advisory, in percent.
	Progress       float64
	Error          string
	Speed          float64
	Streaming      bool
	SkippedRecords int
}

// Option configures an Engine
type Option func(*Engine)

// WithStatusHook registers fn to receive every status change.
func WithStatusHook(fn func(Status)) Option {
	return func(e *Engine) {
		e.hook = fn
	}
}

// WithLogger replaces the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine plays text through the reader server. One session is live at a time.
type Engine struct {
	client *Client
	sinks  SinkFactory
	hook   func(Status)
	logger zerolog.Logger

	mu      sync.Mutex
	status  Status
	gen     uint64
	session *session
}

// NewEngine creates an idle engine
func NewEngine(client *Client, sinks SinkFactory, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		sinks:  sinks,
		logger: observability.WithComponent("playback"),
		status: Status{State: Idle, Speed: 1.0},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Speak stops any current session and starts reading text with sel.
func (e *Engine) Speak(text string, sel Selection) error {
	e.Stop()

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoText
	}
	if sel.Speed <= 0 {
		sel.Speed = 1.0
	}

	streaming := e.sinks.SupportsStreaming()

	ctx, cancel := context.WithCancel(context.Background())
	id := observability.NewCorrelationID()

	e.mu.Lock()
	e.gen++
	s := &session{
		id:        id,
		gen:       e.gen,
		engine:    e,
		text:      text,
		sel:       sel,
		streaming: streaming,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		queue:     audio.NewFrameQueue(64),
		logger:    e.logger.With().Str("session_id", id).Logger(),
	}
	e.session = s
	e.status = Status{
		State:     Loading,
		Speed:     sel.Speed,
		Streaming: streaming,
	}
	st := e.status
	e.mu.Unlock()

	e.notify(st)

	s.logger.Info().
		Bool("streaming", streaming).
		Int("chars", len(text)).
		Str("voice", sel.VoiceName).
		Float64("speed", sel.Speed).
		Msg("Playback session started")

	go s.run()
	return nil
}

// Pause suspends playback; only valid while playing.
func (e *Engine) Pause() error {
	return e.toggle(Playing, Paused, AudioSink.Pause)
}

// Resume continues a paused session on the same sink.
func (e *Engine) Resume() error {
	return e.toggle(Paused, Playing, AudioSink.Resume)
}

func (e *Engine) toggle(from, to State, apply func(AudioSink) error) error {
	e.mu.Lock()
	if e.status.State != from || e.session == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, e.status.State)
	}

	sink := e.session.currentSink()
	if sink == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no active sink", ErrInvalidState)
	}
	if err := apply(sink); err != nil {
		e.mu.Unlock()
		return err
	}

	e.status.State = to
	st := e.status
	e.mu.Unlock()

	e.notify(st)
	return nil
}

// Stop cancels the in-flight request, detaches the sink and returns to idle.
// It never records an error.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.gen++
	changed := e.status.State != Idle
	e.status.State = Idle
	st := e.status
	e.mu.Unlock()

	if s != nil {
		s.cancel()
		s.teardown()
		s.logger.Debug().Msg("Playback session stopped")
	}
	if changed {
		e.notify(st)
	}
}

// SetPlaybackRate changes the speed of the active sink.
func (e *Engine) SetPlaybackRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		if sink := e.session.currentSink(); sink != nil {
			rs, ok := sink.(RateSetter)
			if !ok {
				return ErrRateUnsupported
			}
			if err := rs.SetRate(rate); err != nil {
				return err
			}
		}
	}

	e.status.Speed = rate
	return nil
}

// Status returns a snapshot of the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Done returns a channel closed when the current session ends. With no
// session the channel is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.session.done
}

// Wait blocks until the current session ends or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update applies fn if gen is still the current session.
func (e *Engine) update(gen uint64, fn func(*Status)) bool {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return false
	}
	fn(&e.status)
	st := e.status
	e.mu.Unlock()

	e.notify(st)
	return true
}

func (e *Engine) notify(st Status) {
	if e.hook != nil {
		e.hook(st)
	}
}

// session is one Speak call. It owns its sink, queue and cancel function.
type session struct {
	id        string
	gen       uint64
	engine    *Engine
	text      string
	sel       Selection
	streaming bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	queue     *audio.FrameQueue
	logger    zerolog.Logger

	mu       sync.Mutex
	sink     AudioSink
	closed   bool
	skipped  int
	tearOnce sync.Once
}

func (s *session) run() {
	defer close(s.done)

	var err error
	if s.streaming {
		err = s.runStreaming()
	} else {
		err = s.runBuffered()
	}

	s.teardown()
	s.finish(err)
}

func (s *session) runStreaming() error {
	sink, err := s.engine.sinks.NewStreamingSink(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to open audio sink: %w", err)
	}
	if err := s.attach(sink); err != nil {
		return err
	}

	app := newAppender(sink, s.queue, func() {
		s.engine.update(s.gen, func(st *Status) {
			if st.State == Loading {
				st.State = Playing
			}
		})
	})

	if err := s.fetchAll(app.push); err != nil {
		return err
	}
	if err := app.drain(s.ctx); err != nil {
		return fmt.Errorf("audio sink failed: %w", err)
	}
	if app.count() == 0 {
		return ErrNoAudio
	}

	if err := sink.EndOfStream(); err != nil {
		return fmt.Errorf("audio sink failed: %w", err)
	}
	return s.waitSink(sink)
}

func (s *session) runBuffered() error {
	err := s.fetchAll(func(frame []byte) error {
		s.queue.Push(frame)
		return nil
	})
	if err != nil {
		return err
	}
	if s.queue.IsEmpty() {
		return ErrNoAudio
	}

	sink, err := s.engine.sinks.NewBufferedSink(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to open audio sink: %w", err)
	}
	if err := s.attach(sink); err != nil {
		return err
	}

	if err := sink.Load(s.queue.Drain()); err != nil {
		return fmt.Errorf("audio sink failed: %w", err)
	}

	s.engine.update(s.gen, func(st *Status) {
		if st.State == Loading {
			st.State = Playing
		}
	})

	return s.waitSink(sink)
}

// fetchAll requests chunk 0 and then every following chunk while the server
// reports more, strictly one request at a time.
func (s *session) fetchAll(onAudio func([]byte) error) error {
	for index := 0; ; index++ {
		hasMore, err := s.fetch(index, onAudio)
		if err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

func (s *session) fetch(index int, onAudio func([]byte) error) (bool, error) {
	instant := s.sel.Instant
	req := wire.SynthesisRequest{
		Text:            s.text,
		VoiceProvider:   s.sel.VoiceProvider,
		Instant:         &instant,
		ChunkIndex:      index,
		Speed:           &s.sel.Speed,
		TrailingSilence: s.sel.TrailingSilence,
	}
	if s.sel.VoiceName != "" {
		name := s.sel.VoiceName
		req.VoiceName = &name
	}

	stream, err := s.engine.client.Synthesize(s.ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	var meta *wire.Metadata
	malformed := 0

	defer func() {
		s.addSkipped(stream.Skipped() + malformed)
	}()

	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}

		switch rec.Type {
		case wire.TypeMetadata:
			m, err := rec.Metadata()
			if err != nil {
				malformed++
				continue
			}
			meta = &m
			s.engine.update(s.gen, func(st *Status) {
				st.CurrentChunk = m.ChunkIndex + 1
				st.TotalChunks = m.TotalChunks
				if m.TotalChunks > 0 {
					st.Progress = float64(m.ChunkIndex) / float64(m.TotalChunks) * 100
				}
			})

		case wire.TypeAudio:
			data, err := rec.Audio()
			if err != nil {
				malformed++
				s.logger.Warn().Err(err).Int("chunk_index", index).Msg("Skipping malformed audio record")
				continue
			}
			if err := onAudio(data); err != nil {
				return false, fmt.Errorf("audio sink failed: %w", err)
			}

		case wire.TypeError:
			e, err := rec.AsError()
			if err != nil {
				return false, fmt.Errorf("chunk %d failed", index)
			}
			msg := e.Details
			if msg == "" {
				msg = e.Error
			}
			return false, &RequestError{StatusCode: e.Status, Message: msg, TotalChunks: e.TotalChunks}
		}
	}

	if meta == nil {
		return false, fmt.Errorf("chunk %d stream ended without metadata", index)
	}
	return meta.HasMore, nil
}

func (s *session) waitSink(sink AudioSink) error {
	select {
	case <-sink.Done():
		return sink.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// attach records sink as the session's sink, or closes it if the session
// was already torn down.
func (s *session) attach(sink AudioSink) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sink.Close()
		return context.Canceled
	}
	s.sink = sink
	s.mu.Unlock()
	return nil
}

func (s *session) currentSink() AudioSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

func (s *session) addSkipped(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.skipped += n
	total := s.skipped
	s.mu.Unlock()

	s.engine.update(s.gen, func(st *Status) {
		st.SkippedRecords = total
	})
}

// teardown closes the sink and drops queued frames. Safe to call twice.
func (s *session) teardown() {
	s.tearOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sink := s.sink
		s.mu.Unlock()

		if sink != nil {
			if err := sink.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Closing audio sink")
			}
		}
		s.queue.Clear()
	})
}

func (s *session) finish(err error) {
	s.cancel()

	s.engine.update(s.gen, func(st *Status) {
		st.State = Idle
		switch {
		case err == nil:
			st.Progress = 100
		case errors.Is(err, context.Canceled):
		default:
			st.Error = err.Error()
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("Playback session failed")
		return
	}
	s.logger.Info().Msg("Playback session finished")
}
