package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Amoako419/Agentic-coder/internal/config"
	"github.com/Amoako419/Agentic-coder/internal/identity"
	"github.com/Amoako419/Agentic-coder/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// SSE stream defaults, used when the config omits them.
const (
	defaultSSEKeepaliveInterval = 10 * time.Second
	defaultSSERetryDelay        = 5 * time.Second
)

// Handler handles assistant HTTP requests with SSE streaming.
type Handler struct {
	svc         *Service
	repo        store.Repository
	rateLimiter *RateLimiter
	log         ConversationLogger
	cfg         *config.Config
}

// RateLimiter implements a per-user rate limiter.
// The key is userID only — not userID:sessionID — so clients cannot bypass
// throttling by rotating session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// startEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for range ticker.C {
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// NewHandler creates a new assistant handler.
func NewHandler(svc *Service, repo store.Repository, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		svc:         svc,
		repo:        repo,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         conversationLogger,
		cfg:         cfg,
	}
}

// RegisterRoutes registers assistant routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/history", h.HandleHistory)
		r.Post("/reset", h.HandleReset)
		r.Get("/stats", h.HandleStats)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.svc != nil {
		h.svc.Close()
	}
	if h.log != nil {
		if err := h.log.Close(); err != nil {
			slog.Warn("failed to close conversation logger", "error", err)
		}
	}
}

// GetService returns the underlying assistant service.
func (h *Handler) GetService() *Service {
	return h.svc
}

// GetRateLimiter returns the handler's per-user rate limiter so other chat
// transports can share the same quota.
func (h *Handler) GetRateLimiter() *RateLimiter {
	return h.rateLimiter
}

// HandleChat handles POST /api/assistant/chat requests. The response is an
// SSE stream with one "message" event per completed pipeline stage followed
// by a final message event, or an "error" event if a stage fails.
//
//nolint:gocyclo // Validation and streaming branches are kept inline to preserve request flow.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusUnauthorized)
		return
	}

	// Rate-limit by userID only (not userID:sessionID) so clients cannot bypass
	// throttling by rotating session IDs.
	if !h.rateLimiter.Allow(user.UserID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	req.UserID = user.UserID
	req.SessionID = sessionID
	reqID := chiMiddleware.GetReqID(r.Context())

	slog.Info("Assistant chat request",
		"user_id", user.UserID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)
	h.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta: map[string]any{
			"request_id": reqID,
		},
	})

	// Stream response via SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	keepaliveInterval := defaultSSEKeepaliveInterval
	retryDelay := defaultSSERetryDelay
	if h.cfg != nil {
		if h.cfg.SSE.KeepaliveInterval > 0 {
			keepaliveInterval = h.cfg.SSE.KeepaliveInterval
		}
		if h.cfg.SSE.RetryDelay > 0 {
			retryDelay = h.cfg.SSE.RetryDelay
		}
	}

	// Tell the client how long to wait before reconnecting.
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryDelay.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry field", "error", err)
		return
	}
	flusher.Flush()

	// Pump pipeline updates through a channel so keepalive comments can be
	// interleaved while a stage is still running.
	type streamItem struct {
		resp *ChatResponse
		err  error
	}
	ctx := r.Context()
	items := make(chan streamItem)
	go func() {
		defer close(items)
		for resp, err := range h.svc.Chat(ctx, req) {
			select {
			case items <- streamItem{resp: resp, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var finalContent string
	stagesCompleted := 0
	partial := false
	streamErrMsg := ""

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case item, open := <-items:
			if !open {
				h.logAssistantMessage(req.UserID, req.SessionID, finalContent, stagesCompleted, partial, streamErrMsg, reqID)
				return
			}
			if item.err != nil {
				partial = true
				streamErrMsg = item.err.Error()
				slog.Error("Assistant stream failed", "error", item.err, "user_id", req.UserID)
				h.logAssistantMessage(req.UserID, req.SessionID, finalContent, stagesCompleted, partial, streamErrMsg, reqID)
				if writeErr := writeSSE(w, "error", jsonError(item.err.Error())); writeErr != nil {
					slog.Warn("failed to write SSE error event", "error", writeErr)
					return
				}
				flusher.Flush()
				return
			}

			if item.resp != nil {
				stagesCompleted++
				if item.resp.Final {
					finalContent = item.resp.Content
				}
			}

			data, err := json.Marshal(item.resp)
			if err != nil {
				slog.Warn("failed to marshal chat response", "error", err)
				if writeErr := writeSSE(w, "error", jsonError("failed to serialize response")); writeErr != nil {
					slog.Warn("failed to write SSE serialization error", "error", writeErr)
				}
				flusher.Flush()
				return
			}
			if err := writeSSE(w, "message", string(data)); err != nil {
				slog.Warn("failed to write SSE message event", "error", err)
				partial = true
				streamErrMsg = err.Error()
				h.logAssistantMessage(req.UserID, req.SessionID, finalContent, stagesCompleted, partial, streamErrMsg, reqID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			// Comment lines keep idle proxies from cutting the stream
			// while a slow stage is in flight.
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				slog.Warn("failed to write SSE keepalive", "error", err)
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			partial = true
			streamErrMsg = ctx.Err().Error()
			h.logAssistantMessage(req.UserID, req.SessionID, finalContent, stagesCompleted, partial, streamErrMsg, reqID)
			return
		}
	}
}

func (h *Handler) logAssistantMessage(userID, sessionID, content string, stagesCompleted int, partial bool, streamErrMsg, requestID string) {
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: content,
		Meta: map[string]any{
			"stages_completed": stagesCompleted,
			"partial":          partial,
			"stream_error":     streamErrMsg,
			"request_id":       requestID,
		},
	})
}

// HandleHistory handles GET /api/assistant/history requests, returning the
// stored conversation for the current tab session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	session, err := h.repo.GetChatSession(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to load chat session", "error", err, "user_id", userID)
		http.Error(w, `{"error": "failed to load history"}`, http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"session_id": sessionID,
		"messages":   []any{},
	}
	if session != nil && len(session.Messages) > 0 {
		resp["messages"] = session.Messages
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode history response", "error", err)
	}
}

// HandleReset handles POST /api/assistant/reset requests. It clears the
// current session's conversation state and hands back a fresh session ID.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if err := h.svc.ResetSession(r.Context(), userID, sessionID); err != nil {
		slog.Error("Failed to reset session", "error", err, "user_id", userID, "session_id", sessionID)
		http.Error(w, `{"error": "failed to reset session"}`, http.StatusInternalServerError)
		return
	}

	newSessionID := "session_" + uuid.NewString()
	slog.Info("Session reset", "user_id", userID, "old_session_id", sessionID, "new_session_id", newSessionID)
	h.log.Log(ConversationLogEvent{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   "chat_http",
		Direction: "inbound",
		EventType: "session_reset",
		Meta: map[string]any{
			"new_session_id": newSessionID,
		},
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":     "reset",
		"session_id": newSessionID,
	}); err != nil {
		slog.Warn("failed to encode reset response", "error", err)
	}
}

// HandleStats handles GET /api/assistant/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.svc.GetStats()); err != nil {
		slog.Warn("failed to encode stats response", "error", err)
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func jsonError(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error": "internal error"}`
	}
	return string(data)
}
