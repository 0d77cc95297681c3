package assistant

import (
	"fmt"
	"strings"

	"github.com/Amoako419/Agentic-coder/internal/domain"
)

// Stage is one step of the assistant pipeline: a single model call with its
// own instruction, reading the outputs of earlier stages from session state
// and writing its own output under OutputKey.
type Stage struct {
	Name        string
	Description string
	Instruction string
	OutputKey   string
	// ContextKeys are the session state keys injected into this stage's
	// prompt, in order.
	ContextKeys []string
	// UseSearch enables the model-side web search tool for this stage.
	UseSearch bool
}

// contextLabels maps state keys to the section headings used in prompts.
var contextLabels = map[string]string{
	domain.StateKeyUnderstanding: "Coding task understanding",
	domain.StateKeyResearch:      "Research findings",
	domain.StateKeySolution:      "Proposed solution",
	domain.StateKeyExplanation:   "Explanation",
}

// BuildPrompt assembles the stage prompt from the user's request and the
// session state produced by earlier stages.
func (s Stage) BuildPrompt(query string, session *domain.ChatSession) string {
	var b strings.Builder
	b.WriteString("User request:\n")
	b.WriteString(query)

	for _, key := range s.ContextKeys {
		value := session.StateValue(key)
		if value == "" {
			continue
		}
		label := contextLabels[key]
		if label == "" {
			label = key
		}
		fmt.Fprintf(&b, "\n\n%s:\n%s", label, value)
	}

	return b.String()
}
