package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	var req wire.SynthesisRequest

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError

		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   "Request too large",
				Details: "maximum request size is " + humanize.IBytes(uint64(tooLarge.Limit)),
			})
			return
		}

		writeError(w, http.StatusBadRequest, errorResponse{Error: "Missing or invalid text"})
		return
	}

	session, err := h.proxy.Open(ctx, req)

	if err != nil {
		if isCanceled(err) {
			return
		}

		code, body := classifyOpenError(err)
		writeError(w, code, body)
		return
	}

	defer session.Close()

	wire.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	if err := session.Stream(ctx, wire.NewNDJSONWriter(w)); err != nil && !isCanceled(err) {
		// headers are already sent; the client sees a truncated stream
		logger.Warn().Err(err).Msg("Synthesis stream ended early")
	}
}
