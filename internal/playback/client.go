package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rustingibbsfight/hume-document-reader/internal/extract"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

const maxErrorBody = 64 * 1024

// Client talks to the reader server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. headerTimeout bounds
// the wait for response headers; zero disables it. Bodies are never bounded
// since a chunk stream lasts as long as its audio.
func NewClient(baseURL string, headerTimeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

// RecordStream is the decoded body of one chunk request
type RecordStream struct {
	body io.ReadCloser
	dec  *wire.Decoder
}

// Next returns the next record or io.EOF.
func (s *RecordStream) Next() (wire.Record, error) {
	return s.dec.Next()
}

// Skipped returns the number of malformed lines dropped so far.
func (s *RecordStream) Skipped() int {
	return s.dec.Skipped()
}

// Close releases the response body, aborting the request if still running.
func (s *RecordStream) Close() error {
	return s.body.Close()
}

// Synthesize requests one chunk. Cancelling ctx aborts the stream.
func (c *Client) Synthesize(ctx context.Context, req wire.SynthesisRequest) (*RecordStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", wire.ContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readRequestError(resp)
	}

	return &RecordStream{body: resp.Body, dec: wire.NewDecoder(resp.Body)}, nil
}

// Voices lists the voices of one catalog.
func (c *Client) Voices(ctx context.Context, provider string) ([]tts.Voice, error) {
	u := c.baseURL + "/api/voices"
	if provider != "" {
		u += "?" + url.Values{"provider": {provider}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readRequestError(resp)
	}

	var result struct {
		Voices []tts.Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}

	return result.Voices, nil
}

// Parse uploads a document and returns its extracted text.
func (c *Client) Parse(ctx context.Context, name string, content io.Reader) (*extract.Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/parse", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readRequestError(resp)
	}

	var doc extract.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return &doc, nil
}

// readRequestError prefers details over error over the bare status.
func readRequestError(resp *http.Response) error {
	reqErr := &RequestError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error       string `json:"error"`
		Details     string `json:"details"`
		TotalChunks *int   `json:"totalChunks"`
	}
	if json.Unmarshal(body, &payload) == nil {
		reqErr.TotalChunks = payload.TotalChunks
		switch {
		case payload.Details != "":
			reqErr.Message = payload.Details
		case payload.Error != "":
			reqErr.Message = payload.Error
		}
	}

	return reqErr
}
