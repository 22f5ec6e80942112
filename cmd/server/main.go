package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustingibbsfight/hume-document-reader/internal/config"
	"github.com/rustingibbsfight/hume-document-reader/internal/extract"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/proxy"
	"github.com/rustingibbsfight/hume-document-reader/internal/server"
	"github.com/rustingibbsfight/hume-document-reader/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("hume_base_url", cfg.HumeBaseURL).
		Bool("mock", cfg.TTSMock).
		Int("max_chunk_size", cfg.MaxChunkSize).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Document reader service starting")

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Upstream provider
	var (
		synth  tts.Synthesizer
		voices tts.VoiceLister
		checks []observability.DependencyCheck
	)

	if cfg.TTSMock {
		mock := tts.NewMock()
		synth, voices = mock, mock
		logger.Warn().Msg("TTS_MOCK enabled, serving generated tones instead of Hume audio")
	} else {
		hume := tts.NewHumeClient(cfg)
		synth, voices = hume, hume
		checks = append(checks, observability.DependencyCheck{Name: "hume", Check: hume.Ping})
	}

	synth = tts.NewLimitedSynthesizer(tts.NewRateLimiter(cfg.UpstreamRateLimit, cfg.UpstreamRateBurst), synth)
	breaker := proxy.NewUpstreamBreaker("hume", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetDuration())
	checks = append(checks, proxy.BreakerCheck(breaker))

	p := proxy.New(synth, breaker, proxy.Options{
		MaxChunkSize: cfg.MaxChunkSize,
		IdleTimeout:  cfg.UpstreamIdleTimeoutDuration(),
	})

	extractor := extract.New(cfg.TikaURL)
	if cfg.TikaURL != "" {
		logger.Info().Str("tika_url", cfg.TikaURL).Msg("PDF and Word extraction enabled")
	}

	handler, err := server.New(cfg, p, voices, extractor)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API handler")
	}

	// Create HTTP server with timeouts. No write timeout: a chunk stream
	// lasts as long as its audio.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           server.NewRouter(cfg, handler, checks...),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/tts", cfg.Port)).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := shutdownTracing(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}
