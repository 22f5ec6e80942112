package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ClientConfig holds configuration for the reader CLI
type ClientConfig struct {
	ServerURL     string  `envconfig:"SERVER_URL" default:"http://localhost:8080"`
	Voice         string  `envconfig:"VOICE" default:""`
	VoiceProvider string  `envconfig:"VOICE_PROVIDER" default:"PROVIDER_CATALOG"`
	Speed         float64 `envconfig:"SPEED" default:"1.0"`
	HeaderTimeout int     `envconfig:"HEADER_TIMEOUT" default:"30"` // seconds, 0 disables

	// Player commands; empty uses the player package defaults
	StreamPlayer string `envconfig:"STREAM_PLAYER" default:""`
	FilePlayer   string `envconfig:"FILE_PLAYER" default:""`

	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
}

// HeaderTimeoutDuration returns the response header timeout for proxy requests.
func (c *ClientConfig) HeaderTimeoutDuration() time.Duration {
	return time.Duration(c.HeaderTimeout) * time.Second
}

// LoadClient reads READER_* variables, loading .env first if present
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("reader", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("READER_SERVER_URL is required")
	}

	return &cfg, nil
}
