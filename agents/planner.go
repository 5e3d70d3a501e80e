package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitlai/missionrunner/logger"
)

// PlanStep is one step of a mission plan.
type PlanStep struct {
	Description     string `json:"description"`
	ExpectedOutcome string `json:"expected_outcome"`
}

// MissionPlan is the planner's decomposition of a mission into ordered steps.
// Degraded marks plans synthesized locally after an unparseable completion;
// the run proceeds, but the report surfaces the degradation.
type MissionPlan struct {
	Steps    []PlanStep `json:"steps"`
	Degraded bool       `json:"degraded"`
}

// Planner decomposes a mission into executable steps via the LLM.
type Planner struct {
	llm    Client
	logger logger.Logger
}

// NewPlanner creates a planner agent.
func NewPlanner(llm Client, log logger.Logger) *Planner {
	return &Planner{
		llm:    llm,
		logger: log,
	}
}

// Plan asks the LLM to decompose the mission. A completion that cannot be
// parsed yields an explicit single-step degraded plan, never an error: only
// transport failures propagate.
func (p *Planner) Plan(ctx context.Context, mission, contextPrompt string) (*MissionPlan, *Completion, error) {
	completion, err := p.llm.Invoke(ctx, buildPlanPrompt(contextPrompt))
	if err != nil {
		return nil, nil, fmt.Errorf("planner invocation failed: %w", err)
	}

	plan, err := parsePlan(completion.Text)
	if err != nil {
		p.logger.Warn(ctx, "planner returned unparseable plan, degrading to single step", logger.Fields{
			"error": err.Error(),
		})
		return DegradedPlan(mission), completion, nil
	}

	return plan, completion, nil
}

// DegradedPlan is the single-step fallback used when planning fails: attempt
// the mission in one shot.
func DegradedPlan(mission string) *MissionPlan {
	return &MissionPlan{
		Steps: []PlanStep{
			{
				Description:     mission,
				ExpectedOutcome: "mission objective achieved",
			},
		},
		Degraded: true,
	}
}

func buildPlanPrompt(contextPrompt string) string {
	var b strings.Builder
	b.WriteString("You are a test planner for web missions. Break the mission below into ")
	b.WriteString("concrete browser steps a user would take, in order.\n\n")
	b.WriteString(contextPrompt)
	b.WriteString("\n\nRespond with ONLY a JSON object in this exact shape:\n")
	b.WriteString(`{"steps": [{"description": "...", "expected_outcome": "..."}]}`)
	b.WriteString("\nUse between 1 and 10 steps. No prose, no markdown fences.")
	return b.String()
}

// parsePlan extracts and validates the plan structure from a completion.
func parsePlan(text string) (*MissionPlan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var plan MissionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrMalformedResponse)
	}
	for i, step := range plan.Steps {
		if strings.TrimSpace(step.Description) == "" {
			return nil, fmt.Errorf("%w: step %d has no description", ErrMalformedResponse, i)
		}
	}

	plan.Degraded = false
	return &plan, nil
}
