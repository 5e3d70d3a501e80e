package orchestrator

import (
	"context"

	"github.com/hitlai/missionrunner/agents"
	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/pruner"
	"github.com/hitlai/missionrunner/scout"
)

// SchemaMapper reduces a scouted page to the element map agents plan
// against.
type SchemaMapper interface {
	MapSchema(ctx context.Context, snapshot *scout.Snapshot) (string, error)
}

// StaticMapper maps the page schema from the served HTML using the same
// interactive-element extraction the pruner applies to prompts.
type StaticMapper struct {
	pruner *pruner.Pruner
}

// NewStaticMapper creates a schema mapper over the pruner's DOM extraction.
func NewStaticMapper(p *pruner.Pruner) *StaticMapper {
	return &StaticMapper{pruner: p}
}

// MapSchema returns the interactive skeleton of the page.
func (m *StaticMapper) MapSchema(ctx context.Context, snapshot *scout.Snapshot) (string, error) {
	pruned := m.pruner.Prune(ctx, pruner.FullContext{PageHTML: snapshot.HTML})
	return pruned.DOMSnapshot, nil
}

// StepResult is the outcome of executing one generated script.
type StepResult struct {
	Success    bool
	ActionType string
	Target     string
	Error      string
}

// ScriptRunner executes a generated browser script for one plan step. The
// browser infrastructure behind it is out of scope here; implementations
// range from a real driver pool to the no-op below.
type ScriptRunner interface {
	Run(ctx context.Context, script string, step agents.PlanStep) (*StepResult, error)
}

// NoopRunner accepts every script without executing it. Used in environments
// without browser infrastructure and in tests.
type NoopRunner struct {
	logger logger.Logger
}

// NewNoopRunner creates a runner that succeeds without executing anything.
func NewNoopRunner(log logger.Logger) *NoopRunner {
	return &NoopRunner{logger: log}
}

// Run reports success without executing the script.
func (r *NoopRunner) Run(ctx context.Context, script string, step agents.PlanStep) (*StepResult, error) {
	r.logger.Debug(ctx, "noop runner accepting script", logger.Fields{
		"step":         step.Description,
		"script_bytes": len(script),
	})
	return &StepResult{
		Success:    true,
		ActionType: "noop",
		Target:     step.Description,
	}, nil
}
