package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	db        Pinger
	sandbox   Pinger
	aiEnabled bool
}

// NewHealthHandler creates a health handler. sandbox may be nil when the
// snippet sandbox is disabled.
func NewHealthHandler(db Pinger, sandbox Pinger, aiEnabled bool) *HealthHandler {
	return &HealthHandler{db: db, sandbox: sandbox, aiEnabled: aiEnabled}
}

// RegisterRoutes registers the health endpoint.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.GetHealth)
}

// GetHealth reports component status. The endpoint returns 200 as long as the
// database is reachable; a disabled or unreachable sandbox only degrades the
// report since chat works without it.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	dbStatus := "up"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "down"
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	sandboxStatus := "disabled"
	if h.sandbox != nil {
		sandboxStatus = "up"
		if err := h.sandbox.Ping(ctx); err != nil {
			sandboxStatus = "down"
		}
	}

	JSON(w, status, map[string]interface{}{
		"status":     overall,
		"database":   dbStatus,
		"sandbox":    sandboxStatus,
		"ai_enabled": h.aiEnabled,
	})
}
