//go:build unix

package player

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("player did not exit")
	}
}

func appendSync(t *testing.T, s *StreamSink, p []byte) {
	t.Helper()

	errc := make(chan error, 1)
	require.NoError(t, s.Append(p, func(err error) { errc <- err }))

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("append did not complete")
	}
}

func TestNewFactory_Defaults(t *testing.T) {
	f := NewFactory("", " ")

	assert.Equal(t, "ffplay", f.StreamCommand[0])
	assert.Equal(t, "-", f.StreamCommand[len(f.StreamCommand)-1])
	assert.True(t, supportsRate(f.StreamCommand))
	assert.Equal(t, "ffplay", f.FileCommand[0])
	assert.True(t, supportsRate(f.FileCommand))

	f = NewFactory("mpv --no-video -", "afplay")
	assert.Equal(t, []string{"mpv", "--no-video", "-"}, f.StreamCommand)
	assert.Equal(t, []string{"afplay"}, f.FileCommand)
}

func TestFactory_SupportsStreaming(t *testing.T) {
	f := NewFactory("reader-test-missing-player -", "")
	assert.False(t, f.SupportsStreaming())

	f.lookPath = func(string) (string, error) { return "/usr/bin/true", nil }
	assert.True(t, f.SupportsStreaming())

	f.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assert.False(t, f.SupportsStreaming())
}

func TestStreamSink_WritesInOrder(t *testing.T) {
	requireShell(t)

	out := filepath.Join(t.TempDir(), "out.raw")
	s, err := NewStreamSink(context.Background(), []string{"sh", "-c", "cat > " + out})
	require.NoError(t, err)
	defer s.Close()

	appendSync(t, s, []byte("first-"))
	appendSync(t, s, []byte("second-"))
	appendSync(t, s, []byte("third"))

	require.NoError(t, s.EndOfStream())
	waitClosed(t, s.Done())
	assert.NoError(t, s.Err())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "first-second-third", string(data))
}

func TestStreamSink_PauseResume(t *testing.T) {
	requireShell(t)

	out := filepath.Join(t.TempDir(), "out.raw")
	s, err := NewStreamSink(context.Background(), []string{"sh", "-c", "cat > " + out})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())

	appendSync(t, s, []byte("audio"))
	require.NoError(t, s.EndOfStream())
	waitClosed(t, s.Done())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
}

func TestStreamSink_CloseKillsPlayer(t *testing.T) {
	requireShell(t)

	s, err := NewStreamSink(context.Background(), []string{"sh", "-c", "exec sleep 30"})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	waitClosed(t, s.Done())
	assert.NoError(t, s.Err())

	assert.Error(t, s.Append([]byte("late"), func(error) {}))
}

func TestStreamSink_ReportsPlayerFailure(t *testing.T) {
	requireShell(t)

	s, err := NewStreamSink(context.Background(), []string{"sh", "-c", "exit 3"})
	require.NoError(t, err)
	defer s.Close()

	waitClosed(t, s.Done())
	assert.Error(t, s.Err())
}

func TestFileSink_PlaysCompleteBuffer(t *testing.T) {
	requireShell(t)

	out := filepath.Join(t.TempDir(), "copy.raw")
	s := NewFileSink(context.Background(), []string{"sh", "-c", `cp "$0" ` + out})

	assert.ErrorIs(t, s.Pause(), errNotLoaded)

	require.NoError(t, s.Load([]byte("whole buffer")))
	waitClosed(t, s.Done())
	assert.NoError(t, s.Err())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "whole buffer", string(data))

	path := s.path
	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.Load([]byte("again")), os.ErrClosed)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestAudioFilter(t *testing.T) {
	tests := []struct {
		offset time.Duration
		rate   float64
		want   string
	}{
		{0, 1, "anull"},
		{0, 1.5, "atempo=1.5"},
		{0, 0.25, "atempo=0.5,atempo=0.5"},
		{2500 * time.Millisecond, 1, "atrim=start=2.500,asetpts=PTS-STARTPTS"},
		{time.Second, 2, "atrim=start=1.000,asetpts=PTS-STARTPTS,atempo=2"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, audioFilter(tt.offset, tt.rate))
	}

	assert.Equal(t,
		[]string{"ffplay", "-af", "atempo=2", "-i", "-"},
		expand([]string{"ffplay", "-af", FilterToken, "-i", "-"}, 0, 2))
}

func TestClock_Position(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newClock()
	c.now = func() time.Time { return now }

	assert.Zero(t, c.position())

	c.start(0, 1)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 2*time.Second, c.position())

	c.pause()
	now = now.Add(10 * time.Second)
	assert.Equal(t, 2*time.Second, c.position())

	c.resume()
	now = now.Add(time.Second)
	assert.Equal(t, 3*time.Second, c.position())

	c.start(3*time.Second, 2)
	now = now.Add(time.Second)
	assert.Equal(t, 5*time.Second, c.position())
}

func TestSetRate_Unsupported(t *testing.T) {
	requireShell(t)

	s, err := NewStreamSink(context.Background(), []string{"sh", "-c", "exec sleep 30"})
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.SetRate(1.5), playback.ErrRateUnsupported)

	f := NewFileSink(context.Background(), []string{"sh", "-c", "exit 0"})
	assert.ErrorIs(t, f.SetRate(1.5), playback.ErrRateUnsupported)
}

func TestSetRate_OutOfRange(t *testing.T) {
	f := NewFileSink(context.Background(), []string{"sh", "-c", "exit 0", FilterToken})

	assert.ErrorIs(t, f.SetRate(0.1), playback.ErrRateUnsupported)
	assert.ErrorIs(t, f.SetRate(10), playback.ErrRateUnsupported)
	assert.NoError(t, f.SetRate(2))
}

func TestStreamSink_SetRateReplaysAudio(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	args := filepath.Join(dir, "args")
	script := `echo "$$ $0" >> ` + args + `; exec cat > ` + dir + `/out.$$`

	s, err := NewStreamSink(context.Background(), []string{"sh", "-c", script, FilterToken})
	require.NoError(t, err)
	defer s.Close()

	appendSync(t, s, []byte("first-"))
	require.NoError(t, s.SetRate(2))
	appendSync(t, s, []byte("second"))

	require.NoError(t, s.EndOfStream())
	waitClosed(t, s.Done())
	assert.NoError(t, s.Err())

	lines := readLines(t, args)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " anull"), lines[0])
	assert.Contains(t, lines[1], "atempo=2")

	pid, _, _ := strings.Cut(lines[1], " ")
	data, err := os.ReadFile(filepath.Join(dir, "out."+pid))
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(data))
}

func TestFileSink_SetRateRestartsAtPosition(t *testing.T) {
	requireShell(t)

	args := filepath.Join(t.TempDir(), "args")
	s := NewFileSink(context.Background(), []string{"sh", "-c", `echo "$0" >> ` + args + `; exec sleep 30`, FilterToken})
	defer s.Close()

	now := time.Unix(1000, 0)
	s.clock.now = func() time.Time { return now }

	require.NoError(t, s.SetRate(1.5))
	require.NoError(t, s.Load([]byte("audio")))
	require.Eventually(t, func() bool { return len(readLines(t, args)) == 1 }, 5*time.Second, 10*time.Millisecond)

	now = now.Add(2 * time.Second)
	require.NoError(t, s.SetRate(2))
	require.Eventually(t, func() bool { return len(readLines(t, args)) == 2 }, 5*time.Second, 10*time.Millisecond)

	lines := readLines(t, args)
	assert.Equal(t, "atempo=1.5", lines[0])
	assert.Equal(t, "atrim=start=3.000,asetpts=PTS-STARTPTS,atempo=2", lines[1])

	select {
	case <-s.Done():
		t.Fatal("restart must not end playback")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, s.Close())
	waitClosed(t, s.Done())
	assert.NoError(t, s.Err())
}
