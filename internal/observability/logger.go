package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CorrelationHeader carries the per-request correlation ID on proxy responses.
const CorrelationHeader = "X-Correlation-ID"

var (
	globalLogger zerolog.Logger
	loggerOnce   sync.Once
	loggerMu     sync.RWMutex
)

// InitLogger initializes the global structured logger. Only the first call
// takes effect.
func InitLogger(level string, pretty bool) {
	loggerOnce.Do(func() {
		var out io.Writer = os.Stdout
		if pretty {
			out = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		setLogger(newLogger(out, level))
	})
}

// InitLoggerTo initializes the global logger with an explicit writer. The
// reader CLI logs to stderr so stdout stays free for command output.
func InitLoggerTo(w io.Writer, level string) {
	loggerOnce.Do(func() {
		setLogger(newLogger(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}, level))
	})
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	return zerolog.New(w).With().Timestamp().Logger()
}

func setLogger(l zerolog.Logger) {
	loggerMu.Lock()
	globalLogger = l
	log.Logger = l
	loggerMu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	InitLogger("info", false)

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}

// WithCorrelationID creates a logger with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// WithComponent tags log lines with the emitting component.
func WithComponent(component string) zerolog.Logger {
	return GetLogger().With().Str("component", component).Logger()
}

// FromContext returns the logger attached to ctx, or the global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return GetLogger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
