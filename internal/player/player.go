// Package player plays audio through an external player process such as
// ffplay.
package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
)

// Default player commands. The file command gets the audio path appended.
// Commands without FilterToken play at normal speed only.
const (
	DefaultStreamCommand = "ffplay -nodisp -autoexit -loglevel quiet -af " + FilterToken + " -i -"
	DefaultFileCommand   = "ffplay -nodisp -autoexit -loglevel quiet -af " + FilterToken
)

var (
	_ playback.StreamingSink = (*StreamSink)(nil)
	_ playback.BufferedSink  = (*FileSink)(nil)
	_ playback.RateSetter    = (*StreamSink)(nil)
	_ playback.RateSetter    = (*FileSink)(nil)
)

// ErrNoPlayer is returned when no player command is configured.
var ErrNoPlayer = errors.New("no player command configured")

// Factory creates player-backed sinks
type Factory struct {
	StreamCommand []string
	FileCommand   []string

	lookPath func(string) (string, error)
	logger   zerolog.Logger
}

// NewFactory parses the given commands; empty strings select the defaults.
func NewFactory(streamCommand, fileCommand string) *Factory {
	if strings.TrimSpace(streamCommand) == "" {
		streamCommand = DefaultStreamCommand
	}
	if strings.TrimSpace(fileCommand) == "" {
		fileCommand = DefaultFileCommand
	}

	return &Factory{
		StreamCommand: strings.Fields(streamCommand),
		FileCommand:   strings.Fields(fileCommand),
		lookPath:      exec.LookPath,
		logger:        observability.WithComponent("player"),
	}
}

// SupportsStreaming reports whether the streaming player is installed.
func (f *Factory) SupportsStreaming() bool {
	if len(f.StreamCommand) == 0 {
		return false
	}

	_, err := f.lookPath(f.StreamCommand[0])
	if err != nil {
		f.logger.Debug().Err(err).Str("player", f.StreamCommand[0]).Msg("Streaming player not available")
	}
	return err == nil
}

// NewStreamingSink starts the streaming player.
func (f *Factory) NewStreamingSink(ctx context.Context) (playback.StreamingSink, error) {
	if len(f.StreamCommand) == 0 {
		return nil, ErrNoPlayer
	}
	return NewStreamSink(ctx, f.StreamCommand)
}

// NewBufferedSink prepares the file player; it starts on Load.
func (f *Factory) NewBufferedSink(ctx context.Context) (playback.BufferedSink, error) {
	if len(f.FileCommand) == 0 {
		return nil, ErrNoPlayer
	}
	return NewFileSink(ctx, f.FileCommand), nil
}

// process tracks one running player.
type process struct {
	cmd    *exec.Cmd
	logger zerolog.Logger

	done   chan struct{}
	mu     sync.Mutex
	err    error
	killed bool
}

func startProcess(cmd *exec.Cmd, logger zerolog.Logger) (*process, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player %s: %w", cmd.Path, err)
	}

	p := &process{
		cmd:    cmd,
		logger: logger.With().Int("pid", cmd.Process.Pid).Logger(),
		done:   make(chan struct{}),
	}
	p.logger.Debug().Str("command", cmd.String()).Msg("Player started")

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		if err != nil && !p.killed {
			p.err = fmt.Errorf("player exited: %w", err)
		}
		p.mu.Unlock()

		p.logger.Debug().Err(err).Msg("Player exited")
		close(p.done)
	}()

	return p, nil
}

func (p *process) pause() error {
	return stopProcess(p.cmd.Process)
}

func (p *process) resume() error {
	return continueProcess(p.cmd.Process)
}

// kill ends the player and waits for it to exit.
func (p *process) kill() {
	select {
	case <-p.done:
		return
	default:
	}

	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()

	p.cmd.Process.Kill()
	<-p.done
}

func (p *process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
