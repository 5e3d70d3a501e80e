package pruner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

// Action is the pruned view of one past browser action.
type Action struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Value   string `json:"value,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Friction is the pruned view of one UX friction point.
type Friction struct {
	Element       string           `json:"element"`
	IssueType     string           `json:"issue_type"`
	Severity      testrun.Severity `json:"severity"`
	PersonaImpact string           `json:"persona_impact,omitempty"`
}

// FullContext is everything known about a run at prompt-build time, before
// pruning. PageHTML is the raw page source.
type FullContext struct {
	Mission   string
	Persona   string
	PageHTML  string
	Actions   []Action
	Frictions []Friction
}

// PrunedContext is the token-bounded slice of FullContext that actually goes
// into a prompt. Mission and persona are never truncated.
type PrunedContext struct {
	Mission       string     `json:"mission"`
	Persona       string     `json:"persona"`
	RecentActions []Action   `json:"recent_actions"`
	DOMSnapshot   string     `json:"dom_snapshot"`
	Frictions     []Friction `json:"frictions"`
}

// Config holds pruning limits.
type Config struct {
	// MaxRecentActions is how many trailing actions survive pruning.
	MaxRecentActions int

	// FrictionWindow is how many trailing frictions are considered; only
	// urgent ones within the window survive.
	FrictionWindow int

	// MaxElementsPerSelector caps interactive elements kept per selector.
	MaxElementsPerSelector int

	// MaxTotalElements caps interactive elements kept across all selectors.
	MaxTotalElements int

	// FallbackSnapshotChars bounds the raw-HTML fallback when structured
	// extraction fails.
	FallbackSnapshotChars int

	// Aggressive pruning limits, applied when the normal prune still
	// exceeds an agent's token budget.
	AggressiveActions       int
	AggressiveSnapshotChars int
	AggressiveFrictions     int
}

func (c *Config) applyDefaults() {
	if c.MaxRecentActions <= 0 {
		c.MaxRecentActions = 3
	}
	if c.FrictionWindow <= 0 {
		c.FrictionWindow = 5
	}
	if c.MaxElementsPerSelector <= 0 {
		c.MaxElementsPerSelector = 10
	}
	if c.MaxTotalElements <= 0 {
		c.MaxTotalElements = 50
	}
	if c.FallbackSnapshotChars <= 0 {
		c.FallbackSnapshotChars = 5000
	}
	if c.AggressiveActions <= 0 {
		c.AggressiveActions = 2
	}
	if c.AggressiveSnapshotChars <= 0 {
		c.AggressiveSnapshotChars = 2000
	}
	if c.AggressiveFrictions <= 0 {
		c.AggressiveFrictions = 3
	}
}

// Pruner builds token-bounded prompt contexts. Stateless; one instance is
// shared across runs.
type Pruner struct {
	cfg    Config
	logger logger.Logger
}

// NewPruner creates a pruner.
func NewPruner(cfg Config, log logger.Logger) *Pruner {
	cfg.applyDefaults()
	return &Pruner{
		cfg:    cfg,
		logger: log,
	}
}

// Prune reduces a full context to the bounded slice that goes into prompts:
// the trailing actions in their original order, urgent frictions from the
// trailing window, and the interactive skeleton of the page.
func (p *Pruner) Prune(ctx context.Context, full FullContext) PrunedContext {
	pruned := PrunedContext{
		Mission:       full.Mission,
		Persona:       full.Persona,
		RecentActions: tailActions(full.Actions, p.cfg.MaxRecentActions),
		Frictions:     urgentFrictions(full.Frictions, p.cfg.FrictionWindow),
	}

	if full.PageHTML != "" {
		snapshot, err := p.extractInteractiveElements(full.PageHTML)
		if err != nil || snapshot == "" {
			if err != nil {
				p.logger.Warn(ctx, "structured DOM extraction failed, using raw fallback", logger.Fields{
					"error": err.Error(),
				})
			}
			snapshot = truncate(full.PageHTML, p.cfg.FallbackSnapshotChars)
		}
		pruned.DOMSnapshot = snapshot
	}

	return pruned
}

// Aggressive shrinks an already-pruned context further. It never grows any
// part of the context.
func (p *Pruner) Aggressive(pruned PrunedContext) PrunedContext {
	out := pruned
	out.RecentActions = tailActions(pruned.RecentActions, p.cfg.AggressiveActions)
	out.DOMSnapshot = truncate(pruned.DOMSnapshot, p.cfg.AggressiveSnapshotChars)
	out.Frictions = tailFrictions(pruned.Frictions, p.cfg.AggressiveFrictions)
	return out
}

// EstimateTokens approximates the token footprint of a context at four
// characters per token over its JSON form.
func (p *Pruner) EstimateTokens(pruned PrunedContext) int {
	raw, err := json.Marshal(pruned)
	if err != nil {
		// Marshal of these plain structs cannot fail; be loud if it ever does.
		return int(^uint(0) >> 1)
	}
	return (len(raw) + 3) / 4
}

// WithinBudget reports whether a context fits an agent's token budget.
func (p *Pruner) WithinBudget(pruned PrunedContext, maxTokens int) bool {
	return p.EstimateTokens(pruned) <= maxTokens
}

// PruneToBudget prunes a full context and, if the result still exceeds the
// budget, applies aggressive pruning. The result may still exceed the budget
// in pathological cases (e.g. an enormous mission text); the caller proceeds
// regardless since mission and persona are never cut.
func (p *Pruner) PruneToBudget(ctx context.Context, full FullContext, maxTokens int) PrunedContext {
	pruned := p.Prune(ctx, full)
	if p.WithinBudget(pruned, maxTokens) {
		return pruned
	}

	aggressive := p.Aggressive(pruned)
	if !p.WithinBudget(aggressive, maxTokens) {
		p.logger.Warn(ctx, "context exceeds token budget after aggressive pruning", logger.Fields{
			"estimated_tokens": p.EstimateTokens(aggressive),
			"max_tokens":       maxTokens,
		})
	}
	return aggressive
}

// ValidatePruning sanity-checks a pruned context against its source. The
// warnings flag suspicious outcomes without failing anything: heavy pruning
// under extreme histories is expected behavior.
func (p *Pruner) ValidatePruning(original FullContext, pruned PrunedContext) (bool, []string) {
	var warnings []string

	if pruned.Mission != original.Mission {
		warnings = append(warnings, "mission text was altered by pruning")
	}
	if len(original.Actions) > 0 && len(pruned.RecentActions) == 0 {
		warnings = append(warnings, "no actions survived pruning")
	}
	if original.PageHTML != "" && len(pruned.DOMSnapshot) < 100 {
		warnings = append(warnings, "DOM snapshot is suspiciously short")
	}

	return len(warnings) == 0, warnings
}

// FormatPrompt renders a pruned context as the prompt preamble shared by all
// agents.
func (p *Pruner) FormatPrompt(pruned PrunedContext) string {
	var b strings.Builder

	b.WriteString("MISSION:\n")
	b.WriteString(pruned.Mission)
	b.WriteString("\n\nPERSONA:\n")
	b.WriteString(pruned.Persona)

	if len(pruned.RecentActions) > 0 {
		b.WriteString("\n\nRECENT ACTIONS:\n")
		for _, a := range pruned.RecentActions {
			outcome := "ok"
			if !a.Success {
				outcome = "failed"
				if a.Error != "" {
					outcome = "failed: " + a.Error
				}
			}
			fmt.Fprintf(&b, "- %s %s (%s)\n", a.Type, a.Target, outcome)
		}
	}

	if len(pruned.Frictions) > 0 {
		b.WriteString("\nACTIVE FRICTION POINTS:\n")
		for _, f := range pruned.Frictions {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Element, f.IssueType)
		}
	}

	if pruned.DOMSnapshot != "" {
		b.WriteString("\nPAGE ELEMENTS:\n")
		b.WriteString(pruned.DOMSnapshot)
		b.WriteString("\n")
	}

	return b.String()
}

// tailActions returns the last n actions in their original order.
func tailActions(actions []Action, n int) []Action {
	if len(actions) <= n {
		return actions
	}
	return actions[len(actions)-n:]
}

// urgentFrictions keeps the trailing window of high and critical severity
// frictions. The severity filter runs first, so lower severities never push
// an urgent friction out of the window.
func urgentFrictions(frictions []Friction, window int) []Friction {
	var urgent []Friction
	for _, f := range frictions {
		if f.Severity.IsUrgent() {
			urgent = append(urgent, f)
		}
	}
	return tailFrictions(urgent, window)
}

// tailFrictions returns the last n frictions in their original order.
func tailFrictions(frictions []Friction, n int) []Friction {
	if len(frictions) <= n {
		return frictions
	}
	return frictions[len(frictions)-n:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
