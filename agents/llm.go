package agents

import "context"

// Completion is the result of one LLM invocation. Token counts are the
// provider's actual reported usage, not estimates; the cost ledger prices
// calls from them.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client invokes an LLM. Implementations are safe for concurrent use.
type Client interface {
	// Invoke sends a prompt and returns the completion.
	Invoke(ctx context.Context, prompt string) (*Completion, error)

	// Model returns the model identifier for cost accounting.
	Model() string
}
