package player

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
)

// StreamSink pipes appended audio into a player reading from stdin. When the
// command carries FilterToken the sink keeps every appended byte so SetRate
// can restart the player at the current position.
type StreamSink struct {
	ctx     context.Context
	command []string
	logger  zerolog.Logger

	mu      sync.Mutex
	proc    *process
	stdin   *pipe
	gen     uint64
	data    []byte
	keep    bool
	playing bool
	ended   bool
	closed  bool

	clock     *clock
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// pipe serializes writes to one player's stdin.
type pipe struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (p *pipe) write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	_, err := p.w.Write(b)
	return err
}

func (p *pipe) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.w.Close()
}

// NewStreamSink starts command with its stdin connected to the sink.
func NewStreamSink(ctx context.Context, command []string) (*StreamSink, error) {
	s := &StreamSink{
		ctx:     ctx,
		command: command,
		logger:  observability.WithComponent("player"),
		keep:    supportsRate(command),
		clock:   newClock(),
		done:    make(chan struct{}),
	}

	proc, stdin, err := s.start(0, 1)
	if err != nil {
		return nil, err
	}
	s.proc, s.stdin = proc, stdin
	s.watch(proc)

	return s, nil
}

func (s *StreamSink) start(offset time.Duration, rate float64) (*process, *pipe, error) {
	command := expand(s.command, offset, rate)
	cmd := exec.CommandContext(s.ctx, command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open player stdin: %w", err)
	}

	proc, err := startProcess(cmd, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return proc, &pipe{w: stdin}, nil
}

// watch closes Done when proc exits while it is still the current player.
func (s *StreamSink) watch(proc *process) {
	go func() {
		<-proc.done

		s.mu.Lock()
		current := s.proc == proc
		s.mu.Unlock()

		if current {
			s.doneOnce.Do(func() { close(s.done) })
		}
	}()
}

// Append writes p on its own goroutine; a paused player blocks the write
// until it resumes and drains its pipe.
func (s *StreamSink) Append(p []byte, done func(error)) error {
	s.mu.Lock()
	proc, stdin, gen := s.proc, s.stdin, s.gen

	select {
	case <-proc.done:
		s.mu.Unlock()
		if err := proc.exitErr(); err != nil {
			return err
		}
		return io.ErrClosedPipe
	default:
	}

	if s.keep {
		s.data = append(s.data, p...)
	}
	if !s.playing {
		s.playing = true
		s.clock.start(0, s.clock.currentRate())
	}
	s.mu.Unlock()

	go func() {
		err := stdin.write(p)
		if err != nil && s.replaced(gen) {
			// the restarted player replays these bytes
			err = nil
		}
		done(err)
	}()
	return nil
}

func (s *StreamSink) replaced(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen && !s.closed
}

// SetRate restarts the player at the current position with the new rate and
// replays the audio appended so far into it.
func (s *StreamSink) SetRate(rate float64) error {
	if !s.keep {
		return playback.ErrRateUnsupported
	}
	if err := validateRate(rate); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}

	old := s.proc
	select {
	case <-old.done:
		s.mu.Unlock()
		return nil
	default:
	}

	offset := s.clock.position()

	proc, stdin, err := s.start(offset, rate)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.clock.isPaused() {
		if err := proc.pause(); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to pause restarted player")
		}
	}

	// held until the replay is written so later appends queue behind it
	stdin.mu.Lock()

	s.proc, s.stdin = proc, stdin
	s.gen++
	replay, ended := s.data, s.ended
	if s.playing {
		s.clock.start(offset, rate)
	} else {
		s.clock.start(0, rate)
	}
	s.mu.Unlock()

	s.watch(proc)
	old.kill()

	s.logger.Debug().
		Dur("offset", offset).
		Float64("rate", rate).
		Int("replay_bytes", len(replay)).
		Msg("Player restarted")

	go func() {
		defer stdin.mu.Unlock()

		_, err := stdin.w.Write(replay)
		if err == nil && ended {
			stdin.closed = true
			err = stdin.w.Close()
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("Replay to restarted player ended early")
		}
	}()

	return nil
}

// EndOfStream closes the player's stdin so it exits after the buffered audio.
func (s *StreamSink) EndOfStream() error {
	s.mu.Lock()
	s.ended = true
	stdin := s.stdin
	s.mu.Unlock()

	return stdin.close()
}

func (s *StreamSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.proc.pause(); err != nil {
		return err
	}
	s.clock.pause()
	return nil
}

func (s *StreamSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.proc.resume(); err != nil {
		return err
	}
	s.clock.resume()
	return nil
}

func (s *StreamSink) Done() <-chan struct{} { return s.done }

func (s *StreamSink) Err() error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	return proc.exitErr()
}

// Close stops the player immediately.
func (s *StreamSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		proc, stdin := s.proc, s.stdin
		s.data = nil
		s.mu.Unlock()

		proc.kill()
		stdin.close()
	})
	return nil
}
