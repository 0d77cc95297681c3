package assistant

import (
	"context"
	"iter"
)

// Service provides AI chat functionality using the assistant pipeline.
type Service struct {
	processor Processor
}

// NewService creates a new assistant service backed by the given processor.
func NewService(processor Processor) (*Service, error) {
	return &Service{
		processor: processor,
	}, nil
}

// Chat processes a user message and returns per-stage updates followed by
// the final response. This is the main entry point for chat.
func (s *Service) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error] {
	return s.processor.Chat(ctx, req)
}

// ResetSession clears conversation state for a specific tab session.
func (s *Service) ResetSession(ctx context.Context, userID, sessionID string) error {
	return s.processor.ResetSession(ctx, userID, sessionID)
}

// GetStats returns assistant statistics.
func (s *Service) GetStats() Stats {
	return s.processor.GetStats()
}

// Close releases resources.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}
