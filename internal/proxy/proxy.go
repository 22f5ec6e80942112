// Package proxy turns one chunk of a synthesis request into a stream of wire
// records backed by a single upstream provider call.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rustingibbsfight/hume-document-reader/internal/chunker"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/resilience"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

// Options tunes a Proxy
type Options struct {
	// MaxChunkSize bounds each upstream utterance; zero uses the chunker default.
	MaxChunkSize int
	// IdleTimeout aborts a stream when no frame arrives for this long; zero disables.
	IdleTimeout time.Duration
}

// Proxy opens upstream synthesis calls for individual chunks
type Proxy struct {
	synth       tts.Synthesizer
	breaker     *resilience.CircuitBreaker
	maxChunk    int
	idleTimeout time.Duration
	tracer      trace.Tracer
}

// New creates a proxy. breaker may be nil.
func New(synth tts.Synthesizer, breaker *resilience.CircuitBreaker, opts Options) *Proxy {
	maxChunk := opts.MaxChunkSize
	if maxChunk <= 0 {
		maxChunk = chunker.DefaultMaxSize
	}
	return &Proxy{
		synth:       synth,
		breaker:     breaker,
		maxChunk:    maxChunk,
		idleTimeout: opts.IdleTimeout,
		tracer:      observability.Tracer(),
	}
}

// Open validates req, resolves its chunk and starts the upstream call. No
// bytes have been sent to the client when Open fails. The upstream call is
// bound to ctx; callers must Stream or Close the returned session.
func (p *Proxy) Open(ctx context.Context, req wire.SynthesisRequest) (*Session, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrInvalidInput
	}

	provider, err := tts.ParseProvider(req.VoiceProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}

	speed := wire.ClampSpeed(req.Speed)
	silence := wire.ClampTrailingSilence(req.TrailingSilence)

	chunks := chunker.Chunk(text, p.maxChunk)
	if req.ChunkIndex < 0 || req.ChunkIndex >= len(chunks) {
		return nil, &ChunkIndexOutOfRangeError{Index: req.ChunkIndex, TotalChunks: len(chunks)}
	}

	var voiceName *string
	if req.VoiceName != nil {
		if v := strings.TrimSpace(*req.VoiceName); v != "" {
			voiceName = &v
		}
	}

	upstreamReq := tts.Request{
		Text:            chunks[req.ChunkIndex],
		VoiceProvider:   provider,
		Speed:           speed,
		TrailingSilence: silence,
		Instant:         req.InstantRequested() && voiceName != nil,
	}
	if voiceName != nil {
		upstreamReq.VoiceName = *voiceName
	}

	logger := observability.FromContext(ctx).With().
		Int("chunk_index", req.ChunkIndex).
		Int("total_chunks", len(chunks)).
		Logger()

	ctx, span := p.tracer.Start(ctx, "proxy.synthesize", trace.WithAttributes(
		attribute.Int("chunk.index", req.ChunkIndex),
		attribute.Int("chunk.total", len(chunks)),
		attribute.Int("chunk.chars", len(upstreamReq.Text)),
		attribute.Bool("voice.set", voiceName != nil),
		attribute.Bool("instant", upstreamReq.Instant),
		attribute.Float64("speed", speed),
	))

	metrics := observability.NewStreamMetrics()
	metrics.RecordUpstreamStart()

	stream, err := p.openUpstream(ctx, upstreamReq)
	if err != nil {
		defer span.End()
		if errors.Is(err, context.Canceled) {
			metrics.RecordStreamEnd(observability.OutcomeCancelled)
			return nil, err
		}

		metrics.RecordStreamEnd(observability.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream initiation failed")
		observability.RecordError("upstream_init", "proxy")
		logger.Error().Err(err).Msg("Upstream synthesis call failed")
		return nil, newUpstreamError(err)
	}
	metrics.RecordUpstreamOpened()

	logger.Debug().
		Bool("instant", upstreamReq.Instant).
		Float64("speed", speed).
		Msg("Upstream synthesis stream opened")

	s := &Session{
		Metadata:    wire.NewMetadata(req.ChunkIndex, len(chunks), voiceName, speed),
		stream:      stream,
		idleTimeout: p.idleTimeout,
		metrics:     metrics,
		span:        span,
		logger:      logger,
	}
	s.abort = sync.OnceFunc(func() {
		if err := stream.Close(); err != nil {
			logger.Debug().Err(err).Msg("Closing upstream stream")
		}
	})
	return s, nil
}

func (p *Proxy) openUpstream(ctx context.Context, req tts.Request) (tts.Stream, error) {
	var stream tts.Stream
	open := func(ctx context.Context) error {
		s, err := p.synth.SynthesizeStream(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Call(ctx, open)
	} else {
		err = open(ctx)
	}
	return stream, err
}

// Session is one opened upstream call waiting to be streamed
type Session struct {
	// Metadata is the first record written by Stream.
	Metadata wire.Metadata

	stream      tts.Stream
	abort       func()
	idleTimeout time.Duration
	metrics     *observability.StreamMetrics
	span        trace.Span
	logger      zerolog.Logger

	frames     int
	finishOnce sync.Once
}

// Stream writes the metadata record and then every upstream frame, tagged as
// audio, in the order received. Cancelling ctx or a failed write aborts the
// upstream call. A nil return means the provider finished normally.
func (s *Session) Stream(ctx context.Context, w wire.RecordWriter) (err error) {
	stop := context.AfterFunc(ctx, s.abort)
	defer stop()

	s.metrics.RecordStreamStart()

	outcome := observability.OutcomeFailed
	defer func() {
		s.abort()
		s.finish(outcome, err)
	}()

	var idle atomic.Bool
	var timer *time.Timer
	if s.idleTimeout > 0 {
		timer = time.AfterFunc(s.idleTimeout, func() {
			idle.Store(true)
			s.abort()
		})
		defer timer.Stop()
	}

	if err := w.WriteRecord(s.Metadata); err != nil {
		outcome = observability.OutcomeCancelled
		observability.RecordError("client_disconnect", "proxy")
		return fmt.Errorf("failed to write metadata record: %w", err)
	}

	for {
		frame, err := s.stream.Next()
		if errors.Is(err, io.EOF) {
			outcome = observability.OutcomeCompleted
			return nil
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
				outcome = observability.OutcomeCancelled
				return ctx.Err()
			case idle.Load():
				return ErrUpstreamIdle
			default:
				return fmt.Errorf("upstream stream failed: %w", err)
			}
		}
		if timer != nil {
			timer.Reset(s.idleTimeout)
		}

		record, err := wire.TagAudio(frame.Raw)
		if err != nil {
			observability.RecordMalformedRecord()
			s.logger.Warn().Err(err).Msg("Skipping malformed upstream frame")
			continue
		}

		if err := w.WriteRecord(record); err != nil {
			outcome = observability.OutcomeCancelled
			observability.RecordError("client_disconnect", "proxy")
			return fmt.Errorf("failed to write audio record: %w", err)
		}
		s.frames++
		s.metrics.RecordFrame(wire.PayloadSize(frame.Raw))
	}
}

// Close aborts the upstream call if Stream has not run to completion.
func (s *Session) Close() {
	s.abort()
	s.finish(observability.OutcomeCancelled, nil)
}

func (s *Session) finish(outcome string, err error) {
	s.finishOnce.Do(func() {
		s.metrics.RecordStreamEnd(outcome)
		s.span.SetAttributes(attribute.Int("frames", s.frames), attribute.String("outcome", outcome))
		if outcome == observability.OutcomeFailed && err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, "stream failed")
		}
		s.span.End()

		event := s.logger.Info()
		if outcome == observability.OutcomeFailed {
			event = s.logger.Error().Err(err)
		}
		event.Str("outcome", outcome).Int("frames", s.frames).Msg("Synthesis stream finished")
	})
}
