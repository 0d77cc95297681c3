package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Amoako419/Agentic-coder/internal/identity"
	"github.com/Amoako419/Agentic-coder/internal/sandbox"
)

// maxSnippetBytes caps the snippet size accepted by the run endpoint.
const maxSnippetBytes = 64 * 1024

// runLocks prevents concurrent sandbox runs for the same user.
var runLocks sync.Map

// SandboxHandler handles snippet execution endpoints.
type SandboxHandler struct {
	runner sandbox.Runner
}

// NewSandboxHandler creates a sandbox handler.
func NewSandboxHandler(runner sandbox.Runner) *SandboxHandler {
	return &SandboxHandler{runner: runner}
}

// RegisterRoutes registers sandbox routes.
func (h *SandboxHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sandbox/run", h.Run)
}

// runRequest is the body of POST /api/sandbox/run.
type runRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Run executes a code snippet in an ephemeral container. One run per user at
// a time; a second concurrent request gets 409.
func (h *SandboxHandler) Run(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.runner == nil {
		Error(w, http.StatusServiceUnavailable, "sandbox disabled")
		return
	}

	lock, _ := runLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Sandbox run already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "run_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		runLocks.Delete(userID)
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxSnippetBytes)
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			Error(w, http.StatusRequestEntityTooLarge, "snippet too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		Error(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := h.runner.RunSnippet(r.Context(), req.Language, req.Code)
	if err != nil {
		if errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Sandbox run failed", "error", err, "user_id", userID, "language", req.Language)
		Error(w, http.StatusInternalServerError, "sandbox run failed")
		return
	}

	slog.Info("Sandbox run completed",
		"user_id", userID,
		"language", req.Language,
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
	)
	JSON(w, http.StatusOK, result)
}
