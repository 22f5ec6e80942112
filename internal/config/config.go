package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the reader server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Allowed browser origins for the API (comma separated)
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Hume TTS API configuration
	HumeAPIKey         string `envconfig:"HUME_API_KEY"`
	HumeBaseURL        string `envconfig:"HUME_BASE_URL" default:"https://api.hume.ai"`
	HumeVoicesPageSize int    `envconfig:"HUME_VOICES_PAGE_SIZE" default:"100"`
	TTSMock            bool   `envconfig:"TTS_MOCK" default:"false"` // Serve a local tone generator instead of Hume

	// Chunking configuration
	MaxChunkSize int `envconfig:"MAX_CHUNK_SIZE" default:"4500"` // Characters per upstream request (Hume limit is 5000)

	// Upstream limits
	UpstreamHeaderTimeout int     `envconfig:"UPSTREAM_HEADER_TIMEOUT" default:"30"` // seconds, 0 disables
	UpstreamIdleTimeout   int     `envconfig:"UPSTREAM_IDLE_TIMEOUT" default:"60"`   // seconds between frames, 0 disables
	UpstreamRateLimit     float64 `envconfig:"UPSTREAM_RATE_LIMIT" default:"0"`      // requests per second, 0 = unlimited
	UpstreamRateBurst     int     `envconfig:"UPSTREAM_RATE_BURST" default:"1"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Voice listing only
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Document extraction
	TikaURL        string `envconfig:"TIKA_URL" default:""` // Apache Tika server for PDF/DOCX; optional
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"20971520"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	OTLPEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:""`
	OTLPInsecure   bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
}

// UpstreamHeaderTimeoutDuration returns the upstream response header timeout.
func (c *Config) UpstreamHeaderTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamHeaderTimeout) * time.Second
}

// UpstreamIdleTimeoutDuration returns the maximum gap between two upstream frames.
func (c *Config) UpstreamIdleTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamIdleTimeout) * time.Second
}

// RetryInitialBackoffDuration returns the first retry wait.
func (c *Config) RetryInitialBackoffDuration() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// CircuitBreakerResetDuration returns how long the breaker stays open.
func (c *Config) CircuitBreakerResetDuration() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HumeAPIKey == "" && !c.TTSMock {
		return fmt.Errorf("HUME_API_KEY is required")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.HumeVoicesPageSize <= 0 {
		return fmt.Errorf("HUME_VOICES_PAGE_SIZE must be positive, got %d", c.HumeVoicesPageSize)
	}
	if c.UpstreamRateBurst <= 0 {
		c.UpstreamRateBurst = 1
	}
	return nil
}
