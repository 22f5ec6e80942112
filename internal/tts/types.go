package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider selects which voice catalog a voice name is resolved against.
type Provider string

const (
	ProviderCatalog Provider = "PROVIDER_CATALOG" // shared voices
	CustomCatalog   Provider = "CUSTOM_CATALOG"   // voices owned by the account
)

// ParseProvider accepts the catalog names and the upstream aliases. An empty
// string selects ProviderCatalog.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ProviderCatalog), "HUME_AI":
		return ProviderCatalog, nil
	case string(CustomCatalog), "CUSTOM_VOICE":
		return CustomCatalog, nil
	default:
		return "", fmt.Errorf("unknown voice provider %q", s)
	}
}

// Upstream returns the provider name used on the Hume API.
func (p Provider) Upstream() string {
	if p == CustomCatalog {
		return "CUSTOM_VOICE"
	}
	return "HUME_AI"
}

// Voice is one entry of a voice catalog
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Request is a single-utterance synthesis request. Values are expected to be
// validated and clamped by the caller.
type Request struct {
	Text            string
	VoiceName       string // empty uses the provider default voice
	VoiceProvider   Provider
	Speed           float64
	TrailingSilence float64
	Instant         bool
}

// Frame is one upstream audio record exactly as the provider produced it.
type Frame struct {
	Raw json.RawMessage
}

// Stream yields frames in provider order
type Stream interface {
	// Next returns the next frame, or io.EOF once the provider finished.
	Next() (Frame, error)

	// Close aborts the upstream call if it is still running. Safe to call
	// more than once.
	Close() error
}

// Synthesizer opens streaming synthesis calls
type Synthesizer interface {
	SynthesizeStream(ctx context.Context, req Request) (Stream, error)
}

// VoiceLister returns a fully paginated voice catalog
type VoiceLister interface {
	ListVoices(ctx context.Context, provider Provider) ([]Voice, error)
}

// APIError is a non-success response from the provider
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hume API returned status %d: %s", e.StatusCode, e.Detail)
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
