package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
)

var errNotLoaded = errors.New("player not loaded")

// FileSink writes the complete audio to a temporary file and plays it.
type FileSink struct {
	ctx     context.Context
	command []string

	mu     sync.Mutex
	proc   *process
	path   string
	rate   float64
	closed bool

	clock    *clock
	done     chan struct{}
	doneOnce sync.Once
}

// NewFileSink creates a sink that runs command with the file path appended.
func NewFileSink(ctx context.Context, command []string) *FileSink {
	return &FileSink{
		ctx:     ctx,
		command: command,
		rate:    1,
		clock:   newClock(),
		done:    make(chan struct{}),
	}
}

// Load writes p to disk and starts the player.
func (s *FileSink) Load(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}
	if s.proc != nil {
		return errors.New("player already loaded")
	}

	f, err := os.CreateTemp("", "reader-*.audio")
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	s.path = f.Name()

	if _, err := f.Write(p); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	proc, err := s.start(0, s.rate)
	if err != nil {
		return err
	}
	s.proc = proc
	s.clock.start(0, s.rate)
	s.watch(proc)

	return nil
}

func (s *FileSink) start(offset time.Duration, rate float64) (*process, error) {
	command := expand(s.command, offset, rate)
	args := append(command[1:len(command):len(command)], s.path)
	cmd := exec.CommandContext(s.ctx, command[0], args...)

	return startProcess(cmd, observability.WithComponent("player"))
}

// watch closes Done when proc exits while it is still the current player.
func (s *FileSink) watch(proc *process) {
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

// SetRate restarts the player at the current position with the new rate.
// Before Load it only sets the starting rate.
func (s *FileSink) SetRate(rate float64) error {
	if !supportsRate(s.command) {
		return playback.ErrRateUnsupported
	}
	if err := validateRate(rate); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return os.ErrClosed
	}

	old := s.proc
	s.rate = rate
	if old == nil {
		s.mu.Unlock()
		return nil
	}

	select {
	case <-old.done:
		s.mu.Unlock()
		return nil
	default:
	}

	offset := s.clock.position()

	proc, err := s.start(offset, rate)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.clock.isPaused() {
		if err := proc.pause(); err != nil {
			proc.logger.Debug().Err(err).Msg("Failed to pause restarted player")
		}
	}

	s.proc = proc
	s.clock.start(offset, rate)
	s.mu.Unlock()

	s.watch(proc)
	old.kill()

	return nil
}

func (s *FileSink) running() (*process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil, errNotLoaded
	}
	return s.proc, nil
}

func (s *FileSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return errNotLoaded
	}
	if err := s.proc.pause(); err != nil {
		return err
	}
	s.clock.pause()
	return nil
}

func (s *FileSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return errNotLoaded
	}
	if err := s.proc.resume(); err != nil {
		return err
	}
	s.clock.resume()
	return nil
}

// Done closes when the player exits. It never closes before Load.
func (s *FileSink) Done() <-chan struct{} { return s.done }

func (s *FileSink) Err() error {
	proc, err := s.running()
	if err != nil {
		return nil
	}
	return proc.exitErr()
}

// Close stops the player and removes the temporary file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	proc, path := s.proc, s.path
	s.mu.Unlock()

	if proc != nil {
		proc.kill()
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
