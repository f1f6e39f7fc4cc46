package http

import (
	"context"
	"net/http"
	"time"
)

// checkTimeout bounds each readiness probe of a backing component.
const checkTimeout = 2 * time.Second

// HealthResponse is the JSON response from the health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"` // "ok" or "unavailable"
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// Check is one named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthChecker serves liveness and readiness. Liveness only proves the
// process is serving; readiness pings every backing component, so a gateway
// that would fail closed on most traffic reports unready.
type HealthChecker struct {
	checks  []Check
	version string
}

// NewHealthChecker creates a HealthChecker over the given component probes.
func NewHealthChecker(version string, checks ...Check) *HealthChecker {
	return &HealthChecker{checks: checks, version: version}
}

// Readiness runs every probe with its own timeout and reports per-component
// results. Any failing component makes the whole response unready.
func (h *HealthChecker) Readiness(ctx context.Context) HealthResponse {
	checks := make(map[string]string, len(h.checks))
	ready := true

	for _, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Ping(cctx)
		cancel()

		if err != nil {
			checks[c.Name] = err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	status := "ok"
	if !ready {
		status = "unavailable"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// LivenessHandler serves /health: the process is up and serving.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
	}
}

// ReadinessHandler serves /healthz: 503 with the failing components named
// when any backing store is unreachable.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Readiness(r.Context())

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
