package chatws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Amoako419/Agentic-coder/internal/assistant"
	"github.com/Amoako419/Agentic-coder/internal/identity"
	"github.com/Amoako419/Agentic-coder/internal/store"
)

// Handler upgrades chat requests to WebSocket and streams pipeline updates
// over the connection. It is the bidirectional alternative to the SSE chat
// endpoint.
type Handler struct {
	svc           *assistant.Service
	repo          store.Repository
	registry      *Registry
	log           assistant.ConversationLogger
	rateLimiter   *assistant.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket chat handler. Pass the rate limiter
// shared with the SSE chat endpoint so both transports draw from the same
// per-user quota; a nil limiter gets a default of its own.
func NewHandler(svc *assistant.Service, repo store.Repository, registry *Registry, conversationLogger assistant.ConversationLogger, rateLimiter *assistant.RateLimiter, allowedOrigin string, isDev bool) *Handler {
	if conversationLogger == nil {
		conversationLogger = assistant.NoopConversationLogger()
	}
	if rateLimiter == nil {
		rateLimiter = assistant.NewRateLimiter(10, time.Minute)
	}
	return &Handler{
		svc:           svc,
		repo:          repo,
		registry:      registry,
		log:           conversationLogger,
		rateLimiter:   rateLimiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inboundMessage is a client-to-server WebSocket frame.
type inboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// outboundMessage is a server-to-client WebSocket frame.
type outboundMessage struct {
	Type      string   `json:"type"`
	Stage     string   `json:"stage,omitempty"`
	Content   string   `json:"content,omitempty"`
	Final     bool     `json:"final,omitempty"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Chat WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept chat WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close chat websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, sessionID, ws)
	defer h.registry.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, userID, sessionID)
	slog.Info("Chat WebSocket session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Chat WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Chat WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("Chat WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if writeErr := h.writeJSON(ctx, ws, outboundMessage{Type: "error", Error: "invalid message"}); writeErr != nil {
				slog.Debug("Failed to send invalid message error", "error", writeErr)
			}
			continue
		}

		switch msg.Type {
		case "chat":
			if msg.Message == "" {
				if err := h.writeJSON(ctx, ws, outboundMessage{Type: "error", Error: "message is required"}); err != nil {
					slog.Debug("Failed to send empty message error", "error", err)
				}
				continue
			}
			// Same per-user quota as the SSE endpoint.
			if !h.rateLimiter.Allow(userID) {
				slog.Warn("Chat WebSocket rate limited", "user_id", userID)
				if err := h.writeJSON(ctx, ws, outboundMessage{Type: "error", Error: "rate limit exceeded"}); err != nil {
					slog.Debug("Failed to send rate limit error", "error", err)
				}
				continue
			}
			h.handleChat(ctx, ws, userID, sessionID, msg.Message)
		case "reset":
			h.handleReset(ctx, ws, userID, sessionID)
		case "ping":
			if err := h.writeJSON(ctx, ws, outboundMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			if err := h.writeJSON(ctx, ws, outboundMessage{Type: "error", Error: "unknown message type"}); err != nil {
				slog.Debug("Failed to send unknown type error", "error", err)
			}
		}

		// Update last seen asynchronously with timeout.
		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

func (h *Handler) handleChat(ctx context.Context, ws *websocket.Conn, userID, sessionID, message string) {
	h.log.Log(assistant.ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: message,
	})

	var finalContent string
	for resp, err := range h.svc.Chat(ctx, assistant.ChatRequest{
		Message:   message,
		UserID:    userID,
		SessionID: sessionID,
	}) {
		if err != nil {
			slog.Error("Chat WebSocket stream failed", "error", err, "user_id", userID)
			if writeErr := h.writeJSON(ctx, ws, outboundMessage{Type: "error", Error: err.Error()}); writeErr != nil {
				slog.Debug("Failed to send stream error", "error", writeErr)
			}
			return
		}
		if resp == nil {
			continue
		}
		if resp.Final {
			finalContent = resp.Content
		}
		out := outboundMessage{
			Type:      "message",
			Stage:     resp.Stage,
			Content:   resp.Content,
			Final:     resp.Final,
			ToolsUsed: resp.ToolsUsed,
		}
		if err := h.writeJSON(ctx, ws, out); err != nil {
			slog.Warn("Failed to write chat update", "error", err, "user_id", userID)
			return
		}
	}

	h.log.Log(assistant.ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: finalContent,
	})
}

func (h *Handler) handleReset(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	if err := h.svc.ResetSession(ctx, userID, sessionID); err != nil {
		slog.Error("Chat WebSocket reset failed", "error", err, "user_id", userID, "session_id", sessionID)
		if writeErr := h.writeJSON(ctx, ws, outboundMessage{Type: "error", Error: "failed to reset session"}); writeErr != nil {
			slog.Debug("Failed to send reset error", "error", writeErr)
		}
		return
	}

	newSessionID := "session_" + uuid.NewString()
	slog.Info("Session reset over WebSocket", "user_id", userID, "old_session_id", sessionID, "new_session_id", newSessionID)
	if err := h.writeJSON(ctx, ws, outboundMessage{Type: "reset", SessionID: newSessionID}); err != nil {
		slog.Debug("Failed to send reset acknowledgment", "error", err)
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
