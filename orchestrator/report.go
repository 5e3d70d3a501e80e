package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hitlai/missionrunner/agents"
	"github.com/hitlai/missionrunner/testrun"
)

// BuildReport renders the final markdown report for a finished run.
func BuildReport(run *testrun.TestRun, plan *agents.MissionPlan, audit *agents.AuditResult, frictions []*testrun.FrictionPoint, succeeded bool) string {
	var b strings.Builder

	b.WriteString("# Mission Test Report\n\n")
	fmt.Fprintf(&b, "**Mission:** %s\n\n", run.Mission)
	fmt.Fprintf(&b, "**Persona:** %s\n\n", run.Persona)
	fmt.Fprintf(&b, "**URL:** %s\n\n", run.URL)

	outcome := "FAILED"
	if succeeded {
		outcome = "PASSED"
	}
	fmt.Fprintf(&b, "**Outcome:** %s\n\n", outcome)

	if run.SentimentScore != nil {
		fmt.Fprintf(&b, "**Persona sentiment:** %.2f / 1.00\n\n", *run.SentimentScore)
	}
	fmt.Fprintf(&b, "**Total cost:** $%.4f\n\n", run.TotalCost)

	if plan != nil {
		b.WriteString("## Plan\n\n")
		if plan.Degraded {
			b.WriteString("_Plan was degraded: the mission was attempted as a single step._\n\n")
		}
		for i, step := range plan.Steps {
			marker := " "
			if i < run.CurrentStepIndex {
				marker = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", marker, step.Description)
		}
		b.WriteString("\n")
	}

	if audit != nil && audit.Degraded {
		b.WriteString("_UX audit was degraded: sentiment is a neutral placeholder._\n\n")
	}

	b.WriteString("## Friction Points\n\n")
	if len(frictions) == 0 {
		b.WriteString("None recorded.\n")
	} else {
		for _, f := range frictions {
			fmt.Fprintf(&b, "### [%s] %s\n\n", strings.ToUpper(string(f.Severity)), f.Element)
			fmt.Fprintf(&b, "- Issue: %s\n", f.IssueType)
			if f.PersonaImpact != "" {
				fmt.Fprintf(&b, "- Persona impact: %s\n", f.PersonaImpact)
			}
			if f.GuidelineCitation != "" {
				fmt.Fprintf(&b, "- Guideline: %s\n", f.GuidelineCitation)
			}
			if f.Resolution != "" {
				fmt.Fprintf(&b, "- Suggested resolution: %s\n", f.Resolution)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
