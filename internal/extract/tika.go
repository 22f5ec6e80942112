package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tika extracts text from binary documents (PDF, DOCX) through an Apache
// Tika server's /tika endpoint.
type Tika struct {
	baseURL    string
	httpClient *http.Client
}

// NewTika creates a Tika client for the server at baseURL
func NewTika(baseURL string) *Tika {
	return &Tika{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Extract implements Provider
func (t *Tika) Extract(ctx context.Context, file File) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+"/tika", bytes.NewReader(file.Content))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain; charset=UTF-8")
	if file.ContentType != "" {
		req.Header.Set("Content-Type", file.ContentType)
	}
	if file.Name != "" {
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read tika response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tika returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return string(body), nil
}
