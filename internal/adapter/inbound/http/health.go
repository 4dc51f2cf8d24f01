package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/agentrelay/agentrelay/internal/transport"
)

// Pinger is satisfied by store backends that can verify reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sizer is satisfied by store backends that can report their record count.
type Sizer interface {
	Size() int
}

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status        string            `json:"status"` // "healthy" or "unhealthy"
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Checks        map[string]string `json:"checks"`
	Version       string            `json:"version,omitempty"`
}

// HealthChecker verifies component health. The store is probed through the
// narrow Pinger/Sizer interfaces so both backends fit without the checker
// knowing which one is wired.
type HealthChecker struct {
	store    any
	registry *transport.Registry
	version  string
	started  time.Time
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(store any, registry *transport.Registry, version string) *HealthChecker {
	return &HealthChecker{
		store:    store,
		registry: registry,
		version:  version,
		started:  time.Now(),
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	switch store := h.store.(type) {
	case Pinger:
		if err := store.Ping(ctx); err != nil {
			checks["session_store"] = "unreachable"
			healthy = false
		} else {
			checks["session_store"] = "ok"
		}
	case Sizer:
		// Size() acquires the store lock - if this hangs, we have a problem
		checks["session_store"] = fmt.Sprintf("ok: %d records", store.Size())
	case nil:
		checks["session_store"] = "not configured"
	default:
		checks["session_store"] = "ok"
	}

	if h.registry != nil {
		checks["transport_bindings"] = fmt.Sprintf("%d", h.registry.Len())
	}
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        checks,
		Version:       h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
