package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/wire"
)

const (
	socketRequestWait = 30 * time.Second
	socketWriteWait   = 10 * time.Second
	socketCloseWait   = 5 * time.Second
)

var errClientClosed = errors.New("client closed the connection")

// socketWriter sends each record as one text message.
type socketWriter struct {
	conn *websocket.Conn
}

func (s *socketWriter) WriteRecord(v any) error {
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return s.conn.WriteJSON(v)
}

// handleSynthesizeSocket serves the WebSocket form of /api/tts: one request
// message in, the same record sequence out, then a close frame.
func (h *Handler) handleSynthesizeSocket(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)

	if err != nil {
		// Upgrade has already replied with an HTTP error
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	defer conn.Close()

	conn.SetReadLimit(h.maxRequestBytes)
	conn.SetReadDeadline(time.Now().Add(socketRequestWait))

	var req wire.SynthesisRequest

	if err := conn.ReadJSON(&req); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return
		}

		logger.Debug().Err(err).Msg("Invalid WebSocket synthesis request")
		closeWithError(conn, http.StatusBadRequest, errorResponse{Error: "Missing or invalid text"})
		return
	}

	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.proxy.Open(ctx, req)

	if err != nil {
		if isCanceled(err) {
			return
		}

		code, body := classifyOpenError(err)
		closeWithError(conn, code, body)
		return
	}

	defer session.Close()

	var finished atomic.Bool

	g, gctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(gctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// read pump: data messages after the request are discarded. Reading keeps
	// control frames flowing; a read error before the stream finished means
	// the client went away.
	g.Go(func() error {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if finished.Load() {
					return nil
				}
				return errClientClosed
			}
		}
	})

	g.Go(func() error {
		err := session.Stream(gctx, &socketWriter{conn: conn})
		finished.Store(true)

		switch {
		case err == nil:
			closeNormal(conn)
		case isCanceled(err) || gctx.Err() != nil:
			return err
		default:
			logger.Warn().Err(err).Msg("WebSocket synthesis stream ended early")
			closeWithError(conn, http.StatusBadGateway, errorResponse{Error: "Hume API Error", Details: err.Error()})
		}

		// wait for the client's close reply, but not forever
		conn.SetReadDeadline(time.Now().Add(socketCloseWait))
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errClientClosed) && !isCanceled(err) {
		logger.Warn().Err(err).Msg("WebSocket synthesis failed")
	}
}

func closeWithError(conn *websocket.Conn, code int, body errorResponse) {
	record := wire.ErrorRecord{
		Type:        wire.TypeError,
		Status:      code,
		Error:       body.Error,
		Details:     body.Details,
		TotalChunks: body.TotalChunks,
	}

	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))

	if err := conn.WriteJSON(record); err != nil {
		return
	}

	closeCode := websocket.CloseInternalServerErr
	if code < http.StatusInternalServerError {
		closeCode = websocket.ClosePolicyViolation
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, body.Error),
		time.Now().Add(socketWriteWait))
}

func closeNormal(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(socketWriteWait))
}
