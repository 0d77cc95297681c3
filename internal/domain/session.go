package domain

import (
	"time"
)

// Stage output keys written into session state by the assistant pipeline.
// Later stages read the keys produced by earlier ones.
const (
	StateKeyUnderstanding = "coding_task_understanding"
	StateKeyResearch      = "coding_research"
	StateKeySolution      = "code_solution"
	StateKeyExplanation   = "code_explanation"
)

// StoredMessage is a serialized chat message entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession holds the conversation state for one user+session pair:
// the stage outputs of the last pipeline run plus the running message
// history surfaced to the model and the frontend.
type ChatSession struct {
	UserID    string
	SessionID string
	State     map[string]string
	Messages  []StoredMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewChatSession creates an empty session for a user+session pair.
func NewChatSession(userID, sessionID string) *ChatSession {
	now := time.Now()
	return &ChatSession{
		UserID:    userID,
		SessionID: sessionID,
		State:     make(map[string]string),
		Messages:  nil,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StateValue returns the stored value for a stage output key.
func (s *ChatSession) StateValue(key string) string {
	if s.State == nil {
		return ""
	}
	return s.State[key]
}

// SetStateValue stores a stage output under its key.
func (s *ChatSession) SetStateValue(key, value string) {
	if s.State == nil {
		s.State = make(map[string]string)
	}
	s.State[key] = value
}

// AppendMessage adds a message to the session history.
func (s *ChatSession) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, StoredMessage{Role: role, Content: content})
}

// RecentMessages returns the last n messages from the history.
func (s *ChatSession) RecentMessages(n int) []StoredMessage {
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
