package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rustingibbsfight/hume-document-reader/internal/config"
	"github.com/rustingibbsfight/hume-document-reader/internal/extract"
	"github.com/rustingibbsfight/hume-document-reader/internal/proxy"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
)

const (
	// defaultRequestBytes bounds a JSON synthesis request when uploads are unlimited.
	defaultRequestBytes = 4 << 20

	// requestEnvelopeBytes leaves room for the JSON fields around the text.
	requestEnvelopeBytes = 64 << 10
)

// requestLimit sizes synthesis requests so that any text extracted from an
// accepted upload can be sent back, escaped, with every chunk request.
func requestLimit(maxUploadBytes int64) int64 {
	if maxUploadBytes <= 0 {
		return defaultRequestBytes + requestEnvelopeBytes
	}
	return 2*maxUploadBytes + requestEnvelopeBytes
}

type Handler struct {
	proxy     *proxy.Proxy
	voices    tts.VoiceLister
	extractor *extract.Multi

	maxUploadBytes  int64
	maxRequestBytes int64
	upgrader        websocket.Upgrader
}

func New(cfg *config.Config, p *proxy.Proxy, voices tts.VoiceLister, extractor *extract.Multi) (*Handler, error) {
	if p == nil {
		return nil, errors.New("proxy is required")
	}

	if voices == nil {
		return nil, errors.New("voice lister is required")
	}

	if extractor == nil {
		extractor = extract.New(cfg.TikaURL)
	}

	h := &Handler{
		proxy:     p,
		voices:    voices,
		extractor: extractor,

		maxUploadBytes:  cfg.MaxUploadBytes,
		maxRequestBytes: requestLimit(cfg.MaxUploadBytes),

		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.CORSAllowedOrigins),
		},
	}

	return h, nil
}

func (h *Handler) Attach(r chi.Router) {
	r.Post("/tts", h.handleSynthesize)
	r.Get("/tts/ws", h.handleSynthesizeSocket)

	r.Get("/voices", h.handleVoices)
	r.Post("/parse", h.handleParse)
}

type errorResponse struct {
	Error       string `json:"error"`
	Details     string `json:"details,omitempty"`
	TotalChunks *int   `json:"totalChunks,omitempty"`
}

// classifyOpenError maps a failed proxy.Open to a status and response body.
func classifyOpenError(err error) (int, errorResponse) {
	var rangeErr *proxy.ChunkIndexOutOfRangeError
	var upstreamErr *proxy.UpstreamError

	switch {
	case errors.Is(err, proxy.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{Error: "Missing or invalid text"}

	case errors.Is(err, proxy.ErrInvalidProvider):
		return http.StatusBadRequest, errorResponse{Error: "Invalid provider", Details: err.Error()}

	case errors.As(err, &rangeErr):
		total := rangeErr.TotalChunks
		return http.StatusBadRequest, errorResponse{Error: "Chunk index out of range", TotalChunks: &total}

	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway, errorResponse{Error: "Hume API Error", Details: upstreamErr.Detail}

	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error", Details: err.Error()}
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, body errorResponse) {
	if body.Error == "" {
		body.Error = http.StatusText(code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(body)
}
