package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

// FrictionFinding is one UX issue the auditor identified on the page.
type FrictionFinding struct {
	Element           string           `json:"element"`
	IssueType         string           `json:"issue_type"`
	Severity          testrun.Severity `json:"severity"`
	PersonaImpact     string           `json:"persona_impact"`
	GuidelineCitation string           `json:"guideline_citation,omitempty"`
	Resolution        string           `json:"resolution,omitempty"`
}

// AuditResult is the auditor's assessment of the page for the persona.
// Degraded marks results synthesized locally after an unparseable completion.
type AuditResult struct {
	SentimentScore float64           `json:"sentiment_score"`
	Frictions      []FrictionFinding `json:"frictions"`
	Degraded       bool              `json:"degraded"`
}

// Auditor evaluates pages for persona-specific UX friction via the LLM.
type Auditor struct {
	llm    Client
	logger logger.Logger
}

// NewAuditor creates an auditor agent.
func NewAuditor(llm Client, log logger.Logger) *Auditor {
	return &Auditor{
		llm:    llm,
		logger: log,
	}
}

// Audit asks the LLM to assess the page. An unparseable completion yields an
// explicit neutral degraded result; only transport failures propagate.
func (a *Auditor) Audit(ctx context.Context, contextPrompt string) (*AuditResult, *Completion, error) {
	completion, err := a.llm.Invoke(ctx, buildAuditPrompt(contextPrompt))
	if err != nil {
		return nil, nil, fmt.Errorf("auditor invocation failed: %w", err)
	}

	result, err := parseAudit(completion.Text)
	if err != nil {
		a.logger.Warn(ctx, "auditor returned unparseable result, degrading to neutral", logger.Fields{
			"error": err.Error(),
		})
		return DegradedAudit(), completion, nil
	}

	return result, completion, nil
}

// DegradedAudit is the neutral fallback used when auditing fails: sentiment
// is unknown, not good or bad.
func DegradedAudit() *AuditResult {
	return &AuditResult{
		SentimentScore: 0.5,
		Degraded:       true,
	}
}

func buildAuditPrompt(contextPrompt string) string {
	var b strings.Builder
	b.WriteString("You are a UX auditor. Assess the page below through the eyes of the ")
	b.WriteString("persona, citing accessibility guidelines where relevant.\n\n")
	b.WriteString(contextPrompt)
	b.WriteString("\n\nRespond with ONLY a JSON object in this exact shape:\n")
	b.WriteString(`{"sentiment_score": 0.0, "frictions": [{"element": "...", "issue_type": "...", ` +
		`"severity": "low|medium|high|critical", "persona_impact": "...", ` +
		`"guideline_citation": "...", "resolution": "..."}]}`)
	b.WriteString("\nsentiment_score is between 0 (hostile) and 1 (delightful). No prose, no markdown fences.")
	return b.String()
}

// parseAudit extracts and normalizes the audit structure from a completion.
func parseAudit(text string) (*AuditResult, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var result AuditResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if result.SentimentScore < 0 {
		result.SentimentScore = 0
	}
	if result.SentimentScore > 1 {
		result.SentimentScore = 1
	}

	for i := range result.Frictions {
		if strings.TrimSpace(result.Frictions[i].Element) == "" {
			return nil, fmt.Errorf("%w: friction %d has no element", ErrMalformedResponse, i)
		}
		result.Frictions[i].Severity = testrun.Severity(strings.ToLower(string(result.Frictions[i].Severity)))
		if !result.Frictions[i].Severity.IsValid() {
			result.Frictions[i].Severity = testrun.SeverityMedium
		}
	}

	result.Degraded = false
	return &result, nil
}
