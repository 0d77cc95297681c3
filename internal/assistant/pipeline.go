package assistant

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/Amoako419/Agentic-coder/internal/domain"
	"github.com/Amoako419/Agentic-coder/internal/llm"
	"github.com/Amoako419/Agentic-coder/internal/store"
)

// fallbackResponse is returned when the pipeline completes but the model
// produced no usable final output.
const fallbackResponse = "I encountered an issue processing your request. Please try again or start a new session."

// defaultMaxHistoryMessages bounds the conversation turns sent to the model.
const defaultMaxHistoryMessages = 20

// Pipeline runs the assistant stages in order, threading stage outputs
// through session state. It implements Processor.
type Pipeline struct {
	gen        llm.Generator
	repo       store.Repository
	stages     []Stage
	model      string
	maxHistory int
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithStages overrides the default stage set.
func WithStages(stages []Stage) PipelineOption {
	return func(p *Pipeline) { p.stages = stages }
}

// WithMaxHistory bounds how many stored messages are sent to the model.
func WithMaxHistory(n int) PipelineOption {
	return func(p *Pipeline) { p.maxHistory = n }
}

// NewPipeline creates the sequential assistant pipeline.
func NewPipeline(gen llm.Generator, repo store.Repository, model string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gen:        gen,
		repo:       repo,
		stages:     DefaultStages(),
		model:      model,
		maxHistory: defaultMaxHistoryMessages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure Pipeline implements Processor.
var _ Processor = (*Pipeline)(nil)

// Chat runs every stage against the user's message and yields one update per
// completed stage plus a final response. A stage failure aborts the run; the
// error is yielded and no further stages execute. Stage outputs are persisted
// as each stage succeeds, so a later failure keeps earlier progress.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error] {
	return func(yield func(*ChatResponse, error) bool) {
		session, err := p.loadSession(ctx, req.UserID, req.SessionID)
		if err != nil {
			yield(nil, fmt.Errorf("load session: %w", err))
			return
		}

		history := toLLMHistory(session.RecentMessages(p.maxHistory))

		for _, stage := range p.stages {
			prompt := stage.BuildPrompt(req.Message, session)

			resp, err := p.gen.Generate(ctx, llm.Request{
				System:    stage.Instruction,
				History:   history,
				UserText:  prompt,
				UseSearch: stage.UseSearch,
			})
			if err != nil {
				yield(nil, fmt.Errorf("stage %s: %w", stage.Name, err))
				return
			}

			session.SetStateValue(stage.OutputKey, resp.Text)
			if err := p.repo.UpsertChatSession(ctx, session); err != nil {
				yield(nil, fmt.Errorf("persist session after stage %s: %w", stage.Name, err))
				return
			}

			slog.Debug("Pipeline stage completed",
				"stage", stage.Name,
				"user_id", req.UserID,
				"session_id", req.SessionID,
				"output_length", len(resp.Text),
				"search_queries", len(resp.SearchQueries),
			)

			if !yield(&ChatResponse{
				Stage:     stage.Name,
				Content:   resp.Text,
				ToolsUsed: resp.SearchQueries,
			}, nil) {
				return
			}
		}

		final := session.StateValue(domain.StateKeyExplanation)
		if final == "" {
			final = fallbackResponse
		}

		session.AppendMessage(domain.RoleUser, req.Message)
		session.AppendMessage(domain.RoleAssistant, final)
		if err := p.repo.UpsertChatSession(ctx, session); err != nil {
			yield(nil, fmt.Errorf("persist session history: %w", err))
			return
		}

		yield(&ChatResponse{
			Stage:   StageExplanation,
			Content: final,
			Final:   true,
		}, nil)
	}
}

// loadSession returns the stored session or a fresh one when none exists.
func (p *Pipeline) loadSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	session, err := p.repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = domain.NewChatSession(userID, sessionID)
	}
	return session, nil
}

// ResetSession clears conversation state for a specific tab session.
func (p *Pipeline) ResetSession(ctx context.Context, userID, sessionID string) error {
	if err := p.repo.DeleteChatSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// GetStats returns assistant statistics.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		StageCount: len(p.stages),
		Model:      p.model,
	}
}

// Close releases resources.
func (p *Pipeline) Close() {}

func toLLMHistory(messages []domain.StoredMessage) []llm.Message {
	if len(messages) == 0 {
		return nil
	}
	history := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history
}
