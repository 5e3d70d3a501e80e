package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitlai/missionrunner/logger"
)

// ScriptGenerator turns one plan step into an executable browser script via
// the LLM.
type ScriptGenerator struct {
	llm    Client
	logger logger.Logger
}

// NewScriptGenerator creates a script generator agent.
func NewScriptGenerator(llm Client, log logger.Logger) *ScriptGenerator {
	return &ScriptGenerator{
		llm:    llm,
		logger: log,
	}
}

// Generate produces the script for a single step. Unlike planning and
// auditing there is no degraded fallback: an empty or missing script is an
// error the caller retries.
func (g *ScriptGenerator) Generate(ctx context.Context, contextPrompt string, step PlanStep) (string, *Completion, error) {
	completion, err := g.llm.Invoke(ctx, buildScriptPrompt(contextPrompt, step))
	if err != nil {
		return "", nil, fmt.Errorf("script generation failed: %w", err)
	}

	script := stripCodeFences(completion.Text)
	if script == "" {
		return "", completion, fmt.Errorf("%w: empty script", ErrMalformedResponse)
	}

	return script, completion, nil
}

func buildScriptPrompt(contextPrompt string, step PlanStep) string {
	var b strings.Builder
	b.WriteString("You are a browser automation script writer. Write a Playwright script ")
	b.WriteString("performing ONLY the step below, using the page elements provided.\n\n")
	b.WriteString(contextPrompt)
	b.WriteString("\n\nSTEP:\n")
	b.WriteString(step.Description)
	if step.ExpectedOutcome != "" {
		b.WriteString("\n\nEXPECTED OUTCOME:\n")
		b.WriteString(step.ExpectedOutcome)
	}
	b.WriteString("\n\nRespond with ONLY the script. No prose, no markdown fences.")
	return b.String()
}
