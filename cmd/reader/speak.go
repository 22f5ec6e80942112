package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rustingibbsfight/hume-document-reader/internal/extract"
	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
	"github.com/rustingibbsfight/hume-document-reader/internal/player"
)

var (
	speakText      string
	speakVoice     string
	speakProvider  string
	speakSpeed     float64
	speakSilence   float64
	speakBuffered  bool
	speakNoInstant bool

	speakCmd = &cobra.Command{
		Use:   "speak [FILE|-]",
		Short: "Read a document or stdin aloud",
		Long: `Read a document aloud. Plain text files are read locally; other
formats are extracted by the server first. With no FILE, or with -,
text is read from stdin.

While playing, type p to pause, r to resume, s to stop, or
rate <n> to change the playback rate.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSpeak,
	}
)

func init() {
	f := speakCmd.Flags()
	f.StringVarP(&speakText, "text", "t", "", "text to read instead of a file")
	f.StringVar(&speakVoice, "voice", "", "voice name (default $READER_VOICE)")
	f.StringVarP(&speakProvider, "provider", "p", "", "voice catalog (default $READER_VOICE_PROVIDER)")
	f.Float64VarP(&speakSpeed, "speed", "s", 0, "speech speed, 0.25 to 3 (default $READER_SPEED)")
	f.Float64Var(&speakSilence, "silence", 0, "trailing silence between chunks in seconds")
	f.BoolVar(&speakBuffered, "buffered", false, "download all audio before playing")
	f.BoolVar(&speakNoInstant, "no-instant", false, "disable instant mode")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	text, fromStdin, err := readSource(ctx, args)
	if err != nil {
		return err
	}

	sel := selection(cmd)

	var sinks playback.SinkFactory = player.NewFactory(cfg.StreamPlayer, cfg.FilePlayer)
	if speakBuffered {
		sinks = bufferedOnly{sinks}
	}

	engine := playback.NewEngine(newClient(), sinks, playback.WithStatusHook(statusPrinter()))
	if err := engine.Speak(text, sel); err != nil {
		return err
	}
	done := engine.Done()

	// stdin is the text source when piped, so commands are only read from a terminal
	if !fromStdin {
		go readCommands(engine)
	}

	select {
	case <-done:
	case <-ctx.Done():
		engine.Stop()
		printErr("stopped")
		return nil
	}

	st := engine.Status()
	if st.Error != "" {
		return errors.New(st.Error)
	}
	if st.SkippedRecords > 0 {
		printErr("%d malformed records skipped", st.SkippedRecords)
	}
	return nil
}

func selection(cmd *cobra.Command) playback.Selection {
	sel := playback.Selection{
		VoiceName:     cfg.Voice,
		VoiceProvider: cfg.VoiceProvider,
		Speed:         cfg.Speed,
		Instant:       !speakNoInstant,
	}

	flags := cmd.Flags()
	if flags.Changed("voice") {
		sel.VoiceName = speakVoice
	}
	if flags.Changed("provider") {
		sel.VoiceProvider = speakProvider
	}
	if flags.Changed("speed") {
		sel.Speed = speakSpeed
	}
	if flags.Changed("silence") {
		silence := speakSilence
		sel.TrailingSilence = &silence
	}

	return sel
}

// readSource returns the text to read and whether it came from stdin.
func readSource(ctx context.Context, args []string) (string, bool, error) {
	if speakText != "" {
		if len(args) > 0 {
			return "", false, errors.New("--text and FILE are mutually exclusive")
		}
		return speakText, false, nil
	}

	if len(args) == 0 || args[0] == "-" {
		if !stdinIsPipe() {
			return "", false, errors.New("no input: pass a FILE, --text, or pipe text on stdin")
		}
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", false, fmt.Errorf("unable to read stdin: %w", err)
		}
		return extract.Clean(string(b)), true, nil
	}

	path := args[0]
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", false, err
		}
		printErr("%s: %s", filepath.Base(path), humanize.Bytes(uint64(len(b))))
		return extract.Clean(string(b)), false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close() //nolint:errcheck

	doc, err := newClient().Parse(ctx, filepath.Base(path), f)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	printErr("%s: %s words", doc.FileName, humanize.Comma(int64(doc.WordCount)))

	return doc.Text, false, nil
}

func stdinIsPipe() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

// statusPrinter reports chunk and state changes on stderr.
func statusPrinter() func(playback.Status) {
	var (
		mu    sync.Mutex
		state playback.State
		chunk int
	)

	return func(st playback.Status) {
		mu.Lock()
		defer mu.Unlock()

		if st.State == state && st.CurrentChunk == chunk {
			return
		}
		state, chunk = st.State, st.CurrentChunk

		if st.TotalChunks == 0 {
			printErr("[%s]", st.State)
			return
		}
		printErr("[%s] chunk %d/%d (%.0f%%)", st.State, st.CurrentChunk, st.TotalChunks, st.Progress)
	}
}

func readCommands(engine *playback.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "p", "pause":
			err = engine.Pause()
		case "r", "resume":
			err = engine.Resume()
		case "s", "stop", "q":
			engine.Stop()
			return
		case "rate":
			if len(fields) != 2 {
				err = errors.New("usage: rate <n>")
				break
			}
			var rate float64
			if rate, err = strconv.ParseFloat(fields[1], 64); err == nil {
				err = engine.SetPlaybackRate(rate)
			}
		default:
			err = fmt.Errorf("unknown command %q", fields[0])
		}

		if err != nil {
			printErr("%v", err)
		}
	}
}

// bufferedOnly hides streaming support so the engine downloads first.
type bufferedOnly struct {
	playback.SinkFactory
}

func (bufferedOnly) SupportsStreaming() bool { return false }
