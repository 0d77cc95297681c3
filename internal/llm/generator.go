// Package llm provides the model backend used by the assistant pipeline.
package llm

import (
	"context"
)

// Message is a single conversation turn passed to the model.
type Message struct {
	Role    string
	Content string
}

// Message roles understood by generators.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request describes one model invocation.
type Request struct {
	// System is the stage instruction sent as the system prompt.
	System string
	// History carries prior conversation turns, oldest first.
	History []Message
	// UserText is the current prompt.
	UserText string
	// UseSearch enables the model-side web search tool.
	UseSearch bool
}

// Response is the model output for a single invocation.
type Response struct {
	Text string
	// SearchQueries lists the web searches the model issued, if any.
	SearchQueries []string
}

// Generator produces model responses. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
