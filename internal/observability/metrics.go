package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hume_reader_http_requests_total",
		Help: "Total number of API requests by endpoint and status code",
	}, []string{"endpoint", "code"})

	// Synthesis stream metrics
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hume_reader_active_streams",
		Help: "Number of synthesis streams currently forwarding audio",
	})

	upstreamInitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hume_reader_upstream_init_latency_seconds",
		Help:    "Time until the upstream provider accepted a synthesis request",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	firstFrameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hume_reader_first_frame_latency_seconds",
		Help:    "Time from request start until the first audio frame was forwarded",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hume_reader_stream_duration_seconds",
		Help:    "Duration of synthesis streams in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hume_reader_streams_total",
		Help: "Synthesis streams by outcome (completed, cancelled, failed)",
	}, []string{"outcome"})

	framesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hume_reader_audio_frames_total",
		Help: "Total audio records forwarded to clients",
	})

	audioBytesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hume_reader_audio_bytes_total",
		Help: "Total bytes of audio records forwarded to clients",
	})

	malformedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hume_reader_upstream_malformed_records_total",
		Help: "Upstream stream lines that could not be parsed and were skipped",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hume_reader_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hume_reader_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hume_reader_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Stream outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// StreamMetrics tracks metrics for a single synthesis stream
type StreamMetrics struct {
	startTime     time.Time
	upstreamStart time.Time
	firstFrame    bool
	started       bool
	mu            sync.Mutex
}

// NewStreamMetrics creates a new metrics tracker for one chunk request
func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{
		startTime: time.Now(),
	}
}

// RecordUpstreamStart marks the moment the upstream call is issued
func (m *StreamMetrics) RecordUpstreamStart() {
	m.mu.Lock()
	m.upstreamStart = time.Now()
	m.mu.Unlock()
}

// RecordUpstreamOpened records the initiation latency on success
func (m *StreamMetrics) RecordUpstreamOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.upstreamStart.IsZero() {
		upstreamInitLatency.Observe(time.Since(m.upstreamStart).Seconds())
	}
}

// RecordStreamStart marks the response as streaming
func (m *StreamMetrics) RecordStreamStart() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	activeStreams.Inc()
}

// RecordFrame records one forwarded audio record of n bytes
func (m *StreamMetrics) RecordFrame(n int) {
	m.mu.Lock()
	if !m.firstFrame {
		m.firstFrame = true
		firstFrameLatency.Observe(time.Since(m.startTime).Seconds())
	}
	m.mu.Unlock()

	framesForwarded.Inc()
	audioBytesForwarded.Add(float64(n))
}

// RecordStreamEnd records the end of a stream with its outcome
func (m *StreamMetrics) RecordStreamEnd(outcome string) {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()

	if started {
		activeStreams.Dec()
	}
	streamDuration.Observe(time.Since(m.startTime).Seconds())
	streamsTotal.WithLabelValues(outcome).Inc()
}

// RecordRequest counts an API request by endpoint and status code
func RecordRequest(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, statusLabel(code)).Inc()
}

// RecordMalformedRecord counts one skipped upstream line
func RecordMalformedRecord() {
	malformedRecords.Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
