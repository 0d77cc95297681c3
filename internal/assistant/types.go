// Package assistant implements the staged AI coding assistant.
package assistant

import (
	"context"
	"iter"
)

// ChatRequest represents a chat request to the assistant.
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
}

// ChatResponse is one update emitted while processing a chat request.
// The pipeline emits one response per completed stage and a final response
// carrying the answer shown to the user.
type ChatResponse struct {
	Stage     string   `json:"stage"`
	Content   string   `json:"content"`
	Final     bool     `json:"final"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Stats contains assistant statistics.
type Stats struct {
	StageCount int    `json:"stage_count"`
	Model      string `json:"model"`
}

// Processor defines the interface for assistant processing.
type Processor interface {
	// Chat processes a user message and yields per-stage updates followed
	// by a final response.
	Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error]

	// ResetSession clears conversation state for a specific tab session.
	ResetSession(ctx context.Context, userID, sessionID string) error

	// GetStats returns assistant statistics.
	GetStats() Stats

	// Close releases resources.
	Close()
}
