// Package api provides HTTP handlers for the coder API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Amoako419/Agentic-coder/internal/config"
	"github.com/Amoako419/Agentic-coder/internal/identity"
	"github.com/Amoako419/Agentic-coder/internal/store"
)

// Handler provides common handler utilities and the meta endpoints.
type Handler struct {
	repo      store.Repository
	cfg       *config.Config
	aiEnabled bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, cfg *config.Config, aiEnabled bool) *Handler {
	return &Handler{
		repo:      repo,
		cfg:       cfg,
		aiEnabled: aiEnabled,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the meta endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	sessionTTL := 60 * time.Minute
	if h.cfg != nil {
		sessionTTL = h.cfg.SessionTTL
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"session_ttl": int64(user.SessionTTL(sessionTTL).Seconds()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	sandboxEnabled := h.cfg != nil && h.cfg.Sandbox.Enabled
	model := ""
	if h.cfg != nil {
		model = h.cfg.Gemini.Model
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":      h.aiEnabled,
		"sandbox_enabled": sandboxEnabled,
		"model":           model,
	})
}
