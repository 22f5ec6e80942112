package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_EmitsFramesInOrder(t *testing.T) {
	m := &Mock{FrameCount: 4}

	stream, err := m.SynthesizeStream(context.Background(), Request{Text: "Hello.", Speed: 1})
	require.NoError(t, err)
	defer stream.Close()

	for i := 0; i < 4; i++ {
		frame, err := stream.Next()
		require.NoError(t, err)

		var body struct {
			Type        string `json:"type"`
			Audio       string `json:"audio"`
			ChunkIndex  int    `json:"chunk_index"`
			IsLastChunk bool   `json:"is_last_chunk"`
		}
		require.NoError(t, json.Unmarshal(frame.Raw, &body))
		assert.Equal(t, "audio", body.Type)
		assert.Equal(t, i, body.ChunkIndex)
		assert.Equal(t, i == 3, body.IsLastChunk)

		pcm, err := base64.StdEncoding.DecodeString(body.Audio)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, "RIFF", string(pcm[:4]))
		}
	}

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestMock_CloseStopsStream(t *testing.T) {
	m := &Mock{FrameCount: 10, Delay: time.Hour}

	stream, err := m.SynthesizeStream(context.Background(), Request{Text: "Hello."})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		stream.Close()
	}()

	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)

	stream.Close()
	assert.Equal(t, 1, m.Closes())
}

func TestMock_OpenError(t *testing.T) {
	m := &Mock{OpenErr: &APIError{StatusCode: 500, Detail: "boom"}}

	_, err := m.SynthesizeStream(context.Background(), Request{Text: "x"})
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Len(t, m.Requests(), 1)
}

func TestMock_ListVoices(t *testing.T) {
	voices, err := NewMock().ListVoices(context.Background(), ProviderCatalog)
	require.NoError(t, err)
	assert.NotEmpty(t, voices)
	assert.Equal(t, "HUME_AI", voices[0].Provider)
}

func TestLimitedSynthesizer(t *testing.T) {
	m := &Mock{FrameCount: 1}

	assert.Same(t, Synthesizer(m), NewLimitedSynthesizer(nil, m))

	limited := NewLimitedSynthesizer(NewRateLimiter(1, 1), m)

	s, err := limited.SynthesizeStream(context.Background(), Request{Text: "a"})
	require.NoError(t, err)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = limited.SynthesizeStream(ctx, Request{Text: "b"})
	assert.Error(t, err, "second call inside the same second should wait past the deadline")
	assert.Len(t, m.Requests(), 1)
}

func TestNewRateLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 5))
}
