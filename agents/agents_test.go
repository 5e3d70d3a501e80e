package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

// stubClient returns canned completions for agent tests.
type stubClient struct {
	completion *Completion
	err        error
	lastPrompt string
}

func (c *stubClient) Invoke(ctx context.Context, prompt string) (*Completion, error) {
	c.lastPrompt = prompt
	if c.err != nil {
		return nil, c.err
	}
	return c.completion, nil
}

func (c *stubClient) Model() string {
	return "stub-model"
}

func completionOf(text string) *Completion {
	return &Completion{Text: text, InputTokens: 1000, OutputTokens: 200}
}

func TestPlanner_Plan(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()

	t.Run("parses well-formed plan", func(t *testing.T) {
		client := &stubClient{completion: completionOf(`{"steps": [
			{"description": "Navigate to the landing page", "expected_outcome": "Landing page visible"},
			{"description": "Click add to cart", "expected_outcome": "Cart badge shows 1"}
		]}`)}
		planner := NewPlanner(client, log)

		plan, completion, err := planner.Plan(ctx, "Buy shoes", "MISSION:\nBuy shoes")
		require.NoError(t, err)
		require.NotNil(t, completion)
		assert.False(t, plan.Degraded)
		require.Len(t, plan.Steps, 2)
		assert.Equal(t, "Navigate to the landing page", plan.Steps[0].Description)
		assert.Contains(t, client.lastPrompt, "MISSION:\nBuy shoes")
	})

	t.Run("tolerates markdown fences and prose", func(t *testing.T) {
		client := &stubClient{completion: completionOf("Here is the plan:\n```json\n" +
			`{"steps": [{"description": "Do the thing", "expected_outcome": "Done"}]}` + "\n```")}
		planner := NewPlanner(client, log)

		plan, _, err := planner.Plan(ctx, "Buy shoes", "ctx")
		require.NoError(t, err)
		assert.False(t, plan.Degraded)
		require.Len(t, plan.Steps, 1)
	})

	t.Run("malformed completion degrades to single step", func(t *testing.T) {
		client := &stubClient{completion: completionOf("I could not produce a plan, sorry.")}
		planner := NewPlanner(client, log)

		plan, completion, err := planner.Plan(ctx, "Buy shoes", "ctx")
		require.NoError(t, err)
		require.NotNil(t, completion)
		assert.True(t, plan.Degraded)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, "Buy shoes", plan.Steps[0].Description)
	})

	t.Run("empty steps degrades", func(t *testing.T) {
		client := &stubClient{completion: completionOf(`{"steps": []}`)}
		planner := NewPlanner(client, log)

		plan, _, err := planner.Plan(ctx, "Buy shoes", "ctx")
		require.NoError(t, err)
		assert.True(t, plan.Degraded)
	})

	t.Run("transport failure propagates", func(t *testing.T) {
		client := &stubClient{err: errors.New("throttled")}
		planner := NewPlanner(client, log)

		_, _, err := planner.Plan(ctx, "Buy shoes", "ctx")
		assert.Error(t, err)
	})
}

func TestAuditor_Audit(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()

	t.Run("parses well-formed audit", func(t *testing.T) {
		client := &stubClient{completion: completionOf(`{"sentiment_score": 0.3, "frictions": [
			{"element": "checkout button", "issue_type": "visibility", "severity": "HIGH",
			 "persona_impact": "hard to find", "guideline_citation": "WCAG 1.4.3"}
		]}`)}
		auditor := NewAuditor(client, log)

		result, _, err := auditor.Audit(ctx, "ctx")
		require.NoError(t, err)
		assert.False(t, result.Degraded)
		assert.InDelta(t, 0.3, result.SentimentScore, 1e-9)
		require.Len(t, result.Frictions, 1)
		// Severity is normalized to lowercase.
		assert.Equal(t, testrun.SeverityHigh, result.Frictions[0].Severity)
	})

	t.Run("clamps out-of-range sentiment", func(t *testing.T) {
		client := &stubClient{completion: completionOf(`{"sentiment_score": 1.7, "frictions": []}`)}
		auditor := NewAuditor(client, log)

		result, _, err := auditor.Audit(ctx, "ctx")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, result.SentimentScore, 1e-9)
	})

	t.Run("unknown severity becomes medium", func(t *testing.T) {
		client := &stubClient{completion: completionOf(`{"sentiment_score": 0.5, "frictions": [
			{"element": "nav", "issue_type": "layout", "severity": "urgent"}
		]}`)}
		auditor := NewAuditor(client, log)

		result, _, err := auditor.Audit(ctx, "ctx")
		require.NoError(t, err)
		require.Len(t, result.Frictions, 1)
		assert.Equal(t, testrun.SeverityMedium, result.Frictions[0].Severity)
	})

	t.Run("malformed completion degrades to neutral", func(t *testing.T) {
		client := &stubClient{completion: completionOf("no json here")}
		auditor := NewAuditor(client, log)

		result, _, err := auditor.Audit(ctx, "ctx")
		require.NoError(t, err)
		assert.True(t, result.Degraded)
		assert.InDelta(t, 0.5, result.SentimentScore, 1e-9)
		assert.Empty(t, result.Frictions)
	})
}

func TestScriptGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	step := PlanStep{Description: "Click add to cart", ExpectedOutcome: "Cart badge shows 1"}

	t.Run("strips markdown fences", func(t *testing.T) {
		client := &stubClient{completion: completionOf("```javascript\nawait page.click('#add-to-cart');\n```")}
		gen := NewScriptGenerator(client, log)

		script, completion, err := gen.Generate(ctx, "ctx", step)
		require.NoError(t, err)
		require.NotNil(t, completion)
		assert.Equal(t, "await page.click('#add-to-cart');", script)
		assert.Contains(t, client.lastPrompt, "Click add to cart")
	})

	t.Run("empty script is an error", func(t *testing.T) {
		client := &stubClient{completion: completionOf("```\n```")}
		gen := NewScriptGenerator(client, log)

		_, _, err := gen.Generate(ctx, "ctx", step)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}
