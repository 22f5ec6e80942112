package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rustingibbsfight/hume-document-reader/internal/config"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/resilience"
	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

const (
	streamPath = "/v0/tts/stream/json"
	voicesPath = "/v0/tts/voices"

	maxErrorBody = 64 * 1024
)

// HumeClient implements Synthesizer and VoiceLister against the Hume TTS API
type HumeClient struct {
	apiKey     string
	baseURL    string
	pageSize   int
	httpClient *http.Client
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

type humeVoiceRef struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

type humeUtterance struct {
	Text            string        `json:"text"`
	Voice           *humeVoiceRef `json:"voice,omitempty"`
	Speed           float64       `json:"speed"`
	TrailingSilence float64       `json:"trailing_silence"`
}

// humeStreamRequest is the request payload for the streaming JSON endpoint
type humeStreamRequest struct {
	Utterances   []humeUtterance `json:"utterances"`
	StripHeaders bool            `json:"strip_headers"`
	InstantMode  bool            `json:"instant_mode"`
}

type humeVoicesPage struct {
	PageNumber int     `json:"page_number"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
	VoicesPage []Voice `json:"voices_page"`
}

// NewHumeClient creates a new Hume TTS client
func NewHumeClient(cfg *config.Config) *HumeClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.UpstreamHeaderTimeoutDuration()

	return &HumeClient{
		apiKey:   cfg.HumeAPIKey,
		baseURL:  strings.TrimRight(cfg.HumeBaseURL, "/"),
		pageSize: cfg.HumeVoicesPageSize,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryInitialBackoffDuration(),
			MaxBackoff:        resilience.DefaultRetryConfig().MaxBackoff,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.WithComponent("hume"),
	}
}

// SynthesizeStream opens a streaming synthesis call for one utterance. The
// returned stream must be closed.
func (c *HumeClient) SynthesizeStream(ctx context.Context, req Request) (Stream, error) {
	utterance := humeUtterance{
		Text:            req.Text,
		Speed:           req.Speed,
		TrailingSilence: req.TrailingSilence,
	}
	if req.VoiceName != "" {
		utterance.Voice = &humeVoiceRef{
			Name:     req.VoiceName,
			Provider: req.VoiceProvider.Upstream(),
		}
	}

	body, err := json.Marshal(humeStreamRequest{
		Utterances:   []humeUtterance{utterance},
		StripHeaders: true,
		InstantMode:  req.Instant && req.VoiceName != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", wire.ContentType)
	httpReq.Header.Set("X-Hume-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, readAPIError(resp)
	}

	dec := wire.NewDecoder(resp.Body)
	dec.SetDefaultType(wire.TypeAudio)
	dec.OnSkip(func(line []byte, err error) {
		observability.RecordMalformedRecord()
		c.logger.Warn().Err(err).Int("line_bytes", len(line)).Msg("Skipping malformed upstream record")
	})

	return &humeStream{
		body:   resp.Body,
		dec:    dec,
		ctx:    streamCtx,
		cancel: cancel,
		logger: c.logger,
	}, nil
}

type humeStream struct {
	body   io.ReadCloser
	dec    *wire.Decoder
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *humeStream) Next() (Frame, error) {
	for {
		rec, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			return Frame{}, fmt.Errorf("failed to read upstream stream: %w", err)
		}

		if rec.Type != wire.TypeAudio {
			s.logger.Debug().Str("type", rec.Type).Msg("Ignoring non-audio upstream record")
			continue
		}
		return Frame{Raw: rec.Raw}, nil
	}
}

func (s *humeStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// ListVoices pages through the catalog until every voice has been collected.
// Each page is retried on transient failures.
func (c *HumeClient) ListVoices(ctx context.Context, provider Provider) ([]Voice, error) {
	var voices []Voice

	for page := 0; ; page++ {
		var result humeVoicesPage
		err := resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			result, err = c.fetchVoicesPage(ctx, provider, page, c.pageSize)
			return err
		}, c.retry, isTransient)
		if err != nil {
			return nil, err
		}

		voices = append(voices, result.VoicesPage...)
		if len(result.VoicesPage) == 0 || page+1 >= result.TotalPages {
			break
		}
	}

	if voices == nil {
		voices = []Voice{}
	}
	return voices, nil
}

func (c *HumeClient) fetchVoicesPage(ctx context.Context, provider Provider, page, size int) (humeVoicesPage, error) {
	var result humeVoicesPage

	q := url.Values{}
	q.Set("provider", provider.Upstream())
	q.Set("page_number", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+voicesPath+"?"+q.Encode(), nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Hume-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, readAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("failed to decode voices page: %w", err)
	}
	return result, nil
}

// Ping checks that the voices endpoint accepts our credentials.
func (c *HumeClient) Ping(ctx context.Context) (bool, error) {
	if _, err := c.fetchVoicesPage(ctx, ProviderCatalog, 0, 1); err != nil {
		return false, err
	}
	return true, nil
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return resilience.IsRetryableNetworkError(err)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(body, resp.StatusCode),
	}
}

// errorDetail pulls the most specific message out of an error body.
func errorDetail(body []byte, status int) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"message", "detail", "error", "fault"} {
			if msg := messageFrom(parsed[key]); msg != "" {
				return msg
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

func messageFrom(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"message", "detail", "faultstring"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
