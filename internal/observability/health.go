package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	serviceName    = "hume-document-reader"
	serviceVersion = "1.0.0"

	readinessTimeout = 5 * time.Second
)

var startedAt = time.Now()

// HealthStatus is the body of /health and /ready
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Uptime       string                      `json:"uptime"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one readiness check
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthCheckFunc reports whether a dependency is usable.
type HealthCheckFunc func(ctx context.Context) (bool, error)

// DependencyCheck names a readiness check.
type DependencyCheck struct {
	Name  string
	Check HealthCheckFunc
}

func newHealthStatus(status string) HealthStatus {
	now := time.Now()
	return HealthStatus{
		Status:    status,
		Service:   serviceName,
		Version:   serviceVersion,
		Uptime:    now.Sub(startedAt).Round(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// HealthCheckHandler reports liveness only; it never calls dependencies.
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newHealthStatus("healthy"))
	}
}

// ReadinessHandler runs the checks concurrently and answers 503 when any
// of them fails or does not finish within the readiness timeout.
func ReadinessHandler(checks ...DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var (
			mu    sync.Mutex
			deps  = make(map[string]DependencyStatus, len(checks))
			ready = true
		)

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range checks {
			if c.Check == nil {
				continue
			}
			c := c
			g.Go(func() error {
				dep := runCheck(gctx, c.Check)

				mu.Lock()
				deps[c.Name] = dep
				if dep.Status != "healthy" {
					ready = false
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		status := newHealthStatus("ready")
		status.Dependencies = deps

		code := http.StatusOK
		if !ready {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}

		writeStatus(w, code, status)
	}
}

func runCheck(ctx context.Context, check HealthCheckFunc) DependencyStatus {
	start := time.Now()
	healthy, err := check(ctx)

	dep := DependencyStatus{
		Status:    "healthy",
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		dep.Status = "unhealthy"
		dep.Message = err.Error()
	} else if !healthy {
		dep.Status = "unhealthy"
	}
	return dep
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
