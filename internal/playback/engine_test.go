package playback

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

const waitFor = 5 * time.Second

// fakeServer serves a fixed chunk plan in the reader wire format.
type fakeServer struct {
	chunks [][]string

	// failStatus, when set, is returned instead of a stream.
	failStatus int
	failBody   string

	// extraLines are written after the metadata record of every chunk.
	extraLines []string

	// blockText makes the handler hold the first chunk of that text open
	// after its frames until the client goes away.
	blockText string
	cancelled chan struct{}

	mu       sync.Mutex
	requests []wire.SynthesisRequest
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req wire.SynthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Missing or invalid text"}`, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.failStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.failStatus)
		w.Write([]byte(f.failBody))
		return
	}

	if req.ChunkIndex >= len(f.chunks) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":"Chunk index out of range","totalChunks":%d}`, len(f.chunks))
		return
	}

	wire.SetStreamHeaders(w.Header())
	rw := wire.NewNDJSONWriter(w)

	rw.WriteRecord(wire.NewMetadata(req.ChunkIndex, len(f.chunks), req.VoiceName, 1))
	for _, line := range f.extraLines {
		w.Write([]byte(line + "\n"))
	}
	for _, frame := range f.chunks[req.ChunkIndex] {
		rw.WriteRecord(map[string]any{
			"type":  wire.TypeAudio,
			"audio": base64.StdEncoding.EncodeToString([]byte(frame)),
		})
	}

	if f.blockText != "" && req.Text == f.blockText && req.ChunkIndex == 0 {
		<-r.Context().Done()
		close(f.cancelled)
	}
}

func (f *fakeServer) requestLog() []wire.SynthesisRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.SynthesisRequest(nil), f.requests...)
}

func (f *fakeServer) all() string {
	var b bytes.Buffer
	for _, chunk := range f.chunks {
		for _, frame := range chunk {
			b.WriteString(frame)
		}
	}
	return b.String()
}

type fakeSink struct {
	hold  bool
	async bool

	mu             sync.Mutex
	data           bytes.Buffer
	appends        int
	loads          int
	outstanding    int
	maxOutstanding int
	paused         bool
	pauses         int
	resumes        int
	ended          bool
	closed         bool
	rate           float64

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeSink(hold, async bool) *fakeSink {
	return &fakeSink{hold: hold, async: async, done: make(chan struct{})}
}

func (s *fakeSink) Append(p []byte, done func(error)) error {
	s.mu.Lock()
	s.outstanding++
	s.maxOutstanding = max(s.maxOutstanding, s.outstanding)
	s.data.Write(p)
	s.appends++
	s.mu.Unlock()

	complete := func() {
		s.mu.Lock()
		s.outstanding--
		s.mu.Unlock()
		done(nil)
	}
	if s.async {
		go func() {
			time.Sleep(time.Millisecond)
			complete()
		}()
	} else {
		complete()
	}
	return nil
}

func (s *fakeSink) EndOfStream() error {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	if !s.hold {
		s.finish()
	}
	return nil
}

func (s *fakeSink) Load(p []byte) error {
	s.mu.Lock()
	s.data.Write(p)
	s.loads++
	s.ended = true
	s.mu.Unlock()
	if !s.hold {
		s.finish()
	}
	return nil
}

func (s *fakeSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.pauses++
	return nil
}

func (s *fakeSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.resumes++
	return nil
}

func (s *fakeSink) SetRate(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *fakeSink) finish()               { s.doneOnce.Do(func() { close(s.done) }) }
func (s *fakeSink) Done() <-chan struct{} { return s.done }
func (s *fakeSink) Err() error            { return nil }

func (s *fakeSink) snapshot() (data string, ended, closed bool, maxOutstanding int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String(), s.ended, s.closed, s.maxOutstanding
}

type fakeFactory struct {
	streaming bool
	hold      bool
	async     bool

	mu              sync.Mutex
	streamingChecks int
	sinks           []*fakeSink
}

func (f *fakeFactory) SupportsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamingChecks++
	return f.streaming
}

func (f *fakeFactory) newSink() *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSink(f.hold, f.async)
	f.sinks = append(f.sinks, s)
	return s
}

func (f *fakeFactory) NewStreamingSink(context.Context) (StreamingSink, error) {
	return f.newSink(), nil
}

func (f *fakeFactory) NewBufferedSink(context.Context) (BufferedSink, error) {
	return f.newSink(), nil
}

func (f *fakeFactory) sink(i int) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sinks) {
		return nil
	}
	return f.sinks[i]
}

func newTestEngine(t *testing.T, srv *fakeServer, factory *fakeFactory) *Engine {
	t.Helper()

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return NewEngine(NewClient(ts.URL, time.Second), factory)
}

func waitDone(t *testing.T, e *Engine) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

func threeChunks() *fakeServer {
	return &fakeServer{chunks: [][]string{
		{"aa", "bb"},
		{"cc"},
		{"dd", "ee", "ff"},
	}}
}

func TestEngine_StreamingPlaysEveryChunkInOrder(t *testing.T) {
	srv := threeChunks()
	factory := &fakeFactory{streaming: true}
	e := newTestEngine(t, srv, factory)

	require.NoError(t, e.Speak("Some text.", Selection{Speed: 1}))
	waitDone(t, e)

	st := e.Status()
	assert.Equal(t, Idle, st.State)
	assert.Empty(t, st.Error)
	assert.Equal(t, 100.0, st.Progress)
	assert.Equal(t, 3, st.CurrentChunk)
	assert.Equal(t, 3, st.TotalChunks)
	assert.True(t, st.Streaming)

	data, ended, closed, maxOut := factory.sink(0).snapshot()
	assert.Equal(t, srv.all(), data)
	assert.True(t, ended)
	assert.True(t, closed)
	assert.Equal(t, 1, maxOut)

	reqs := srv.requestLog()
	require.Len(t, reqs, 3)
	for i, req := range reqs {
		assert.Equal(t, i, req.ChunkIndex)
		assert.Equal(t, "Some text.", req.Text)
	}

	assert.Equal(t, 1, factory.streamingChecks)
}

func TestEngine_AsyncAppendsKeepOrder(t *testing.T) {
	frames := make([]string, 40)
	for i := range frames {
		frames[i] = fmt.Sprintf("[%02d]", i)
	}
	srv := &fakeServer{chunks: [][]string{frames[:25], frames[25:]}}
	factory := &fakeFactory{streaming: true, async: true}
	e := newTestEngine(t, srv, factory)

	require.NoError(t, e.Speak("Text.", Selection{}))
	waitDone(t, e)

	data, _, _, maxOut := factory.sink(0).snapshot()
	assert.Equal(t, srv.all(), data)
	assert.Equal(t, 1, maxOut)
	assert.Equal(t, Idle, e.Status().State)
	assert.Empty(t, e.Status().Error)
}

func TestEngine_BufferedFallback(t *testing.T) {
	srv := threeChunks()
	factory := &fakeFactory{streaming: false}

	var mu sync.Mutex
	var states []State

	ts := httptest.NewServer(srv)
	defer ts.Close()

	e := NewEngine(NewClient(ts.URL, 0), factory, WithStatusHook(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	}))

	require.NoError(t, e.Speak("Text.", Selection{}))
	waitDone(t, e)

	sink := factory.sink(0)
	require.NotNil(t, sink)
	data, _, _, _ := sink.snapshot()
	assert.Equal(t, srv.all(), data)
	assert.Equal(t, 1, sink.loads)
	assert.Zero(t, sink.appends)

	st := e.Status()
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.Streaming)
	assert.Equal(t, 100.0, st.Progress)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, Loading)
	assert.Contains(t, states, Playing)
}

func TestEngine_PauseResumeUsesSameSink(t *testing.T) {
	srv := threeChunks()
	factory := &fakeFactory{streaming: true, hold: true}
	e := newTestEngine(t, srv, factory)

	assert.ErrorIs(t, e.Pause(), ErrInvalidState)

	require.NoError(t, e.Speak("Text.", Selection{}))

	require.Eventually(t, func() bool {
		sink := factory.sink(0)
		if sink == nil {
			return false
		}
		_, ended, _, _ := sink.snapshot()
		return ended && e.Status().State == Playing
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, e.Pause())
	assert.Equal(t, Paused, e.Status().State)
	assert.ErrorIs(t, e.Pause(), ErrInvalidState)

	require.NoError(t, e.Resume())
	assert.Equal(t, Playing, e.Status().State)
	assert.ErrorIs(t, e.Resume(), ErrInvalidState)

	sink := factory.sink(0)
	assert.Equal(t, 1, sink.pauses)
	assert.Equal(t, 1, sink.resumes)
	assert.Len(t, srv.requestLog(), 3)
	assert.Nil(t, factory.sink(1))

	sink.finish()
	waitDone(t, e)

	data, _, _, _ := sink.snapshot()
	assert.Equal(t, srv.all(), data)
	assert.Len(t, srv.requestLog(), 3)
	assert.Equal(t, Idle, e.Status().State)
	assert.Equal(t, 100.0, e.Status().Progress)
}

func TestEngine_SetPlaybackRate(t *testing.T) {
	srv := threeChunks()
	factory := &fakeFactory{streaming: true, hold: true}
	e := newTestEngine(t, srv, factory)

	require.NoError(t, e.Speak("Text.", Selection{}))
	require.Eventually(t, func() bool { return e.Status().State == Playing }, waitFor, 5*time.Millisecond)

	require.NoError(t, e.SetPlaybackRate(1.5))
	assert.Equal(t, 1.5, e.Status().Speed)

	sink := factory.sink(0)
	sink.mu.Lock()
	assert.Equal(t, 1.5, sink.rate)
	sink.mu.Unlock()

	e.Stop()
}

func TestEngine_ServerErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		status int
		body   string
		want   string
	}{
		"details preferred": {http.StatusBadGateway, `{"error":"Hume API Error","details":"Invalid API key"}`, "Invalid API key"},
		"error fallback":    {http.StatusBadRequest, `{"error":"Missing or invalid text"}`, "Missing or invalid text"},
		"bare status":       {http.StatusInternalServerError, `oops`, "HTTP 500"},
	} {
		t.Run(name, func(t *testing.T) {
			srv := &fakeServer{failStatus: tc.status, failBody: tc.body}
			factory := &fakeFactory{streaming: true}
			e := newTestEngine(t, srv, factory)

			require.NoError(t, e.Speak("Text.", Selection{}))
			waitDone(t, e)

			st := e.Status()
			assert.Equal(t, Idle, st.State)
			assert.Equal(t, tc.want, st.Error)
			assert.Len(t, srv.requestLog(), 1)
		})
	}
}

func TestEngine_StopCancelsRequest(t *testing.T) {
	srv := threeChunks()
	srv.blockText = "Text."
	srv.cancelled = make(chan struct{})

	factory := &fakeFactory{streaming: true}
	e := newTestEngine(t, srv, factory)

	require.NoError(t, e.Speak("Text.", Selection{}))
	require.Eventually(t, func() bool { return e.Status().State == Playing }, waitFor, 5*time.Millisecond)

	e.Stop()

	select {
	case <-srv.cancelled:
	case <-time.After(waitFor):
		t.Fatal("request was not cancelled")
	}

	waitDone(t, e)

	st := e.Status()
	assert.Equal(t, Idle, st.State)
	assert.Empty(t, st.Error)

	_, _, closed, _ := factory.sink(0).snapshot()
	assert.True(t, closed)
	assert.Len(t, srv.requestLog(), 1)
}

func TestEngine_SpeakReplacesSession(t *testing.T) {
	first := threeChunks()
	first.blockText = "First."
	first.cancelled = make(chan struct{})

	factory := &fakeFactory{streaming: true}
	e := newTestEngine(t, first, factory)

	require.NoError(t, e.Speak("First.", Selection{}))
	require.Eventually(t, func() bool { return e.Status().State == Playing }, waitFor, 5*time.Millisecond)

	require.NoError(t, e.Speak("Second.", Selection{}))
	waitDone(t, e)

	_, _, closed, _ := factory.sink(0).snapshot()
	assert.True(t, closed)

	reqs := first.requestLog()
	assert.Equal(t, "Second.", reqs[len(reqs)-1].Text)
	assert.Equal(t, 100.0, e.Status().Progress)
	assert.Empty(t, e.Status().Error)
}

func TestEngine_SelectionCapturedAtSpeak(t *testing.T) {
	srv := threeChunks()
	factory := &fakeFactory{streaming: true, hold: true}
	e := newTestEngine(t, srv, factory)

	silence := 0.5
	sel := Selection{VoiceName: "Ito", VoiceProvider: "CUSTOM_CATALOG", Speed: 1.25, TrailingSilence: &silence, Instant: true}
	require.NoError(t, e.Speak("Text.", sel))

	sel.VoiceName = "Other"
	sel.Speed = 2.5

	require.Eventually(t, func() bool { return len(srv.requestLog()) == 3 }, waitFor, 5*time.Millisecond)
	e.Stop()

	for _, req := range srv.requestLog() {
		require.NotNil(t, req.VoiceName)
		assert.Equal(t, "Ito", *req.VoiceName)
		assert.Equal(t, "CUSTOM_CATALOG", req.VoiceProvider)
		require.NotNil(t, req.Speed)
		assert.Equal(t, 1.25, *req.Speed)
		require.NotNil(t, req.TrailingSilence)
		assert.Equal(t, 0.5, *req.TrailingSilence)
		require.NotNil(t, req.Instant)
		assert.True(t, *req.Instant)
	}
}

func TestEngine_SkipsMalformedRecords(t *testing.T) {
	srv := &fakeServer{
		chunks:     [][]string{{"xy"}},
		extraLines: []string{"not json", `{"type":"audio","audio":"!!!"}`},
	}
	factory := &fakeFactory{streaming: true}
	e := newTestEngine(t, srv, factory)

	require.NoError(t, e.Speak("Text.", Selection{}))
	waitDone(t, e)

	st := e.Status()
	assert.Empty(t, st.Error)
	assert.Equal(t, 2, st.SkippedRecords)

	data, _, _, _ := factory.sink(0).snapshot()
	assert.Equal(t, "xy", data)
}

func TestEngine_NoAudio(t *testing.T) {
	srv := &fakeServer{chunks: [][]string{{}}}
	factory := &fakeFactory{streaming: false}
	e := newTestEngine(t, srv, factory)

	require.NoError(t, e.Speak("Text.", Selection{}))
	waitDone(t, e)

	assert.Equal(t, ErrNoAudio.Error(), e.Status().Error)
	assert.Nil(t, factory.sink(0))
}

func TestEngine_BlankText(t *testing.T) {
	e := NewEngine(NewClient("http://127.0.0.1:0", 0), &fakeFactory{})

	assert.ErrorIs(t, e.Speak("  \n", Selection{}), ErrNoText)
	assert.Equal(t, Idle, e.Status().State)
	assert.ErrorIs(t, e.Resume(), ErrInvalidState)
}
