package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the body of health and readiness responses.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles GET /health: process liveness only.
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, HealthStatus{Status: "ok"})
	}
}

// ReadyCheck handles GET /ready: verifies named dependencies.
func ReadyCheck(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := HealthStatus{Status: "ok", Checks: make(map[string]string)}
		healthy := true

		for name, checker := range checkers {
			if err := checker.Health(ctx); err != nil {
				status.Checks[name] = err.Error()
				healthy = false
				continue
			}
			status.Checks[name] = "ok"
		}

		if !healthy {
			status.Status = "degraded"
			RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		RespondJSON(w, http.StatusOK, status)
	}
}
