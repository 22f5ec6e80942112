// Package server exposes the synthesis proxy, voice catalog and document
// parsing over HTTP.
package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rustingibbsfight/hume-document-reader/internal/config"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
)

// NewRouter wires the API handler, health endpoints and metrics into one
// instrumented http.Handler.
func NewRouter(cfg *config.Config, h *Handler, checks ...observability.DependencyCheck) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", observability.CorrelationHeader},
		ExposedHeaders: []string{observability.CorrelationHeader},
		MaxAge:         300,
	}))

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(checks...))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requestMetrics)
		h.Attach(r)
	})

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return strings.HasPrefix(r.URL.Path, "/api/")
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// correlationID reuses the caller's correlation ID or assigns a new one,
// echoes it and stores a tagged logger in the request context.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(observability.CorrelationHeader))
		if id == "" || len(id) > 128 {
			id = observability.NewCorrelationID()
		}

		w.Header().Set(observability.CorrelationHeader, id)

		logger := observability.WithCorrelationID(id)
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordRequest(endpoint, status)
	})
}
