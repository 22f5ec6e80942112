package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/rustingibbsfight/hume-document-reader/internal/extract"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
)

type voicesResponse struct {
	Voices []tts.Voice `json:"voices"`
}

func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	provider, err := tts.ParseProvider(r.URL.Query().Get("provider"))

	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "Invalid provider", Details: err.Error()})
		return
	}

	voices, err := h.voices.ListVoices(ctx, provider)

	if err != nil {
		logger.Error().Err(err).Str("provider", string(provider)).Msg("Failed to fetch voices")
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch voices", Details: err.Error()})
		return
	}

	if voices == nil {
		voices = []tts.Voice{}
	}

	writeJson(w, voicesResponse{Voices: voices})
}

func (h *Handler) handleParse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	file, err := readFile(r)

	if err != nil {
		var tooLarge *http.MaxBytesError

		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   "File too large",
				Details: "maximum upload size is " + humanize.IBytes(uint64(tooLarge.Limit)),
			})
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeError(w, http.StatusBadRequest, errorResponse{Error: "No file provided"})
		default:
			writeError(w, http.StatusInternalServerError, errorResponse{Error: "Failed to parse file", Details: err.Error()})
		}

		return
	}

	doc, err := h.extractor.Extract(ctx, *file)

	if err != nil {
		var parseErr *extract.ParseError

		switch {
		case errors.Is(err, extract.ErrUnsupported):
			writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.As(err, &parseErr):
			logger.Warn().Err(parseErr.Err).Str("file_name", file.Name).Msg("Document parse failed")
			writeError(w, http.StatusBadRequest, errorResponse{Error: parseErr.Error(), Details: parseErr.Err.Error()})
		case isCanceled(err):
		default:
			writeError(w, http.StatusInternalServerError, errorResponse{Error: "Failed to parse file", Details: err.Error()})
		}

		return
	}

	logger.Info().
		Str("file_name", doc.FileName).
		Str("size", humanize.IBytes(uint64(len(file.Content)))).
		Int("char_count", doc.CharCount).
		Int("word_count", doc.WordCount).
		Msg("Document parsed")

	writeJson(w, doc)
}

func readFile(r *http.Request) (*extract.File, error) {
	f, header, err := r.FormFile("file")

	if err != nil {
		return nil, err
	}

	defer f.Close()

	data, err := io.ReadAll(f)

	if err != nil {
		return nil, err
	}

	return &extract.File{
		Name:        header.Filename,
		Content:     data,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}
