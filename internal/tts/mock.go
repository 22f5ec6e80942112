package tts

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("stream closed")

const (
	mockSampleRate   = 16000
	mockFrameSamples = mockSampleRate / 10 // 100ms per frame
	mockMsPerRune    = 60
	mockMaxFrames    = 600
)

// Mock synthesizes a sine tone whose length follows the text length. It
// emits WAV audio in the same record shape as the Hume stream and is used
// when no API key is configured.
type Mock struct {
	// FrameCount overrides the text-derived number of frames when positive.
	FrameCount int
	// Delay is the pause before each frame.
	Delay time.Duration
	// OpenErr, if set, is returned by SynthesizeStream.
	OpenErr error

	mu       sync.Mutex
	requests []Request
	closes   int
}

// NewMock creates a mock synthesizer pacing frames at roughly real time.
func NewMock() *Mock {
	return &Mock{Delay: 50 * time.Millisecond}
}

// SynthesizeStream implements Synthesizer.
func (m *Mock) SynthesizeStream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	openErr := m.OpenErr
	m.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}

	frames := m.FrameCount
	if frames <= 0 {
		frames = utf8.RuneCountInString(req.Text) * mockMsPerRune / 100
		frames = max(1, min(frames, mockMaxFrames))
	}

	return &mockStream{
		owner:  m,
		ctx:    ctx,
		text:   req.Text,
		total:  frames,
		delay:  m.Delay,
		genID:  uuid.NewString(),
		closed: make(chan struct{}),
	}, nil
}

// ListVoices implements VoiceLister with a fixed catalog.
func (m *Mock) ListVoices(ctx context.Context, provider Provider) ([]Voice, error) {
	if provider == CustomCatalog {
		return []Voice{}, nil
	}
	return []Voice{
		{ID: "mock-voice-1", Name: "Mock Narrator", Provider: provider.Upstream()},
		{ID: "mock-voice-2", Name: "Mock Reader", Provider: provider.Upstream()},
	}, nil
}

// Requests returns every request received so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Closes returns how many streams were closed.
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type mockStream struct {
	owner *Mock
	ctx   context.Context
	text  string
	total int
	delay time.Duration
	genID string

	next      int
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *mockStream) Next() (Frame, error) {
	if s.next >= s.total {
		return Frame{}, io.EOF
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return Frame{}, s.ctx.Err()
		case <-s.closed:
			return Frame{}, ErrStreamClosed
		case <-timer.C:
		}
	} else {
		select {
		case <-s.ctx.Done():
			return Frame{}, s.ctx.Err()
		case <-s.closed:
			return Frame{}, ErrStreamClosed
		default:
		}
	}

	pcm := toneFrame(s.next)
	if s.next == 0 {
		pcm = append(wavHeader(), pcm...)
	}

	record := map[string]any{
		"type":            "audio",
		"audio":           base64.StdEncoding.EncodeToString(pcm),
		"audio_format":    "wav",
		"chunk_index":     s.next,
		"generation_id":   s.genID,
		"is_last_chunk":   s.next == s.total-1,
		"utterance_index": 0,
		"text":            s.text,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return Frame{}, err
	}

	s.next++
	return Frame{Raw: raw}, nil
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.owner.mu.Lock()
		s.owner.closes++
		s.owner.mu.Unlock()
	})
	return nil
}

// toneFrame renders 100ms of a 440Hz tone as 16-bit little-endian PCM.
func toneFrame(index int) []byte {
	out := make([]byte, mockFrameSamples*2)
	for i := 0; i < mockFrameSamples; i++ {
		n := index*mockFrameSamples + i
		v := int16(math.Sin(2*math.Pi*440*float64(n)/mockSampleRate) * 8000)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// wavHeader describes an open-ended mono 16-bit stream.
func wavHeader() []byte {
	const unknownSize = 0xFFFFFFFF

	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], unknownSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], 1) // mono
	binary.LittleEndian.PutUint32(h[24:], mockSampleRate)
	binary.LittleEndian.PutUint32(h[28:], mockSampleRate*2)
	binary.LittleEndian.PutUint16(h[32:], 2)
	binary.LittleEndian.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], unknownSize)
	return h
}
