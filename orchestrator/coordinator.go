package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitlai/missionrunner/agents"
	"github.com/hitlai/missionrunner/costledger"
	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/memory"
	"github.com/hitlai/missionrunner/monitor"
	"github.com/hitlai/missionrunner/pruner"
	"github.com/hitlai/missionrunner/scout"
	"github.com/hitlai/missionrunner/testrun"
)

// ErrEscalated marks a stage whose retries were exhausted; the monitor has
// already paused the run for human intervention.
var ErrEscalated = errors.New("execution escalated to hitl")

// costDenialError carries a denied ledger decision up through a monitored
// stage. Never retried.
type costDenialError struct {
	decision costledger.Decision
}

func (e *costDenialError) Error() string {
	return fmt.Sprintf("llm call denied: %s (run $%.4f, daily $%.4f)",
		e.decision.Reason, e.decision.RunCost, e.decision.DailyCost)
}

// Config holds pipeline stage timeouts and budgets.
type Config struct {
	ScoutTimeout      time.Duration
	MapTimeout        time.Duration
	PlanTimeout       time.Duration
	AuditTimeout      time.Duration
	ScriptGenTimeout  time.Duration
	StepTimeout       time.Duration
	MaxAgentRetries   int
	MaxStepFailures   int
	MemoryTopK        int
	AgentTokenBudget  int
	RecentActionFetch int
	CrawlExcerptChars int
}

func (c *Config) applyDefaults() {
	if c.ScoutTimeout <= 0 {
		c.ScoutTimeout = 30 * time.Second
	}
	if c.MapTimeout <= 0 {
		c.MapTimeout = 60 * time.Second
	}
	if c.PlanTimeout <= 0 {
		c.PlanTimeout = 60 * time.Second
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = 90 * time.Second
	}
	if c.ScriptGenTimeout <= 0 {
		c.ScriptGenTimeout = 60 * time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 120 * time.Second
	}
	if c.MaxAgentRetries <= 0 {
		c.MaxAgentRetries = 2
	}
	if c.MaxStepFailures <= 0 {
		c.MaxStepFailures = 3
	}
	if c.MemoryTopK <= 0 {
		c.MemoryTopK = 3
	}
	if c.AgentTokenBudget <= 0 {
		c.AgentTokenBudget = 4000
	}
	if c.RecentActionFetch <= 0 {
		c.RecentActionFetch = 10
	}
	if c.CrawlExcerptChars <= 0 {
		c.CrawlExcerptChars = 2000
	}
}

// Result is the outcome of one pipeline execution. Err is informational;
// failures never propagate as Go errors because the run row already carries
// the durable outcome.
type Result struct {
	Success        bool           `json:"success"`
	Status         testrun.Status `json:"status"`
	SentimentScore *float64       `json:"sentiment_score,omitempty"`
	Report         string         `json:"report,omitempty"`
	Err            string         `json:"error,omitempty"`
}

// Coordinator drives the fixed mission pipeline: scout, schema map, memory
// retrieval, plan, UX audit, per-step script generation and execution, then
// report. Every stage runs under the execution monitor; every LLM call is
// metered by the cost ledger.
type Coordinator struct {
	cfg Config

	runs      testrun.Store
	actions   testrun.ActionStore
	frictions testrun.FrictionStore
	lessons   memory.Store

	fetcher scout.Fetcher
	mapper  SchemaMapper
	runner  ScriptRunner

	planner   *agents.Planner
	auditor   *agents.Auditor
	scriptgen *agents.ScriptGenerator
	model     string

	pruner  *pruner.Pruner
	monitor *monitor.Monitor
	ledger  *costledger.Ledger
	logger  logger.Logger
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Runs      testrun.Store
	Actions   testrun.ActionStore
	Frictions testrun.FrictionStore
	Lessons   memory.Store
	Fetcher   scout.Fetcher
	Mapper    SchemaMapper
	Runner    ScriptRunner
	LLM       agents.Client
	Pruner    *pruner.Pruner
	Monitor   *monitor.Monitor
	Ledger    *costledger.Ledger
	Logger    logger.Logger
}

// NewCoordinator creates a pipeline coordinator.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:       cfg,
		runs:      deps.Runs,
		actions:   deps.Actions,
		frictions: deps.Frictions,
		lessons:   deps.Lessons,
		fetcher:   deps.Fetcher,
		mapper:    deps.Mapper,
		runner:    deps.Runner,
		planner:   agents.NewPlanner(deps.LLM, deps.Logger),
		auditor:   agents.NewAuditor(deps.LLM, deps.Logger),
		scriptgen: agents.NewScriptGenerator(deps.LLM, deps.Logger),
		model:     deps.LLM.Model(),
		pruner:    deps.Pruner,
		monitor:   deps.Monitor,
		ledger:    deps.Ledger,
		logger:    deps.Logger,
	}
}

// ExecuteTest runs the full pipeline for an already-created run. It never
// returns a Go error: the outcome lands on the run row and in the Result.
func (c *Coordinator) ExecuteTest(ctx context.Context, runID uuid.UUID) Result {
	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return Result{Status: testrun.StatusFailed, Err: fmt.Sprintf("load test run: %v", err)}
	}
	if err := c.runs.Start(ctx, runID); err != nil {
		return Result{Status: run.Status, Err: fmt.Sprintf("start test run: %v", err)}
	}
	c.ledger.InitializeRun(runID, 0)

	c.logger.Info(ctx, "pipeline started", logger.Fields{
		"test_run_id": runID.String(),
		"url":         run.URL,
		"platform":    string(run.Platform),
	})

	// Stage 1: scout the target page.
	var snapshot *scout.Snapshot
	err = c.runMonitored(ctx, "scout", runID, c.cfg.ScoutTimeout, func(ctx context.Context) error {
		s, ferr := c.fetcher.Fetch(ctx, run.URL)
		if ferr != nil {
			return ferr
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return c.settle(ctx, runID, "scout", err)
	}
	if uerr := c.runs.Update(ctx, runID, testrun.SetCrawlExcerpt(snapshot.Excerpt(c.cfg.CrawlExcerptChars))); uerr != nil {
		c.logger.Warn(ctx, "failed to persist crawl excerpt", logger.Fields{"error": uerr.Error()})
	}

	// Stage 2: map the page schema.
	var schema string
	err = c.runMonitored(ctx, "schema_mapper", runID, c.cfg.MapTimeout, func(ctx context.Context) error {
		s, merr := c.mapper.MapSchema(ctx, snapshot)
		if merr != nil {
			return merr
		}
		schema = s
		return nil
	})
	if err != nil {
		return c.settle(ctx, runID, "schema_mapper", err)
	}

	// Stage 3: retrieve lessons from past runs. Advisory; failure costs us
	// hints, not the run.
	lessons, lerr := c.lessons.Retrieve(ctx, run.Mission, run.Platform, c.cfg.MemoryTopK)
	if lerr != nil {
		c.logger.Warn(ctx, "lesson retrieval failed, continuing without", logger.Fields{
			"error":       lerr.Error(),
			"test_run_id": runID.String(),
		})
		lessons = nil
	}

	basePrompt := c.buildBasePrompt(ctx, run, schema, lessons)

	// Stage 4: plan the mission.
	var plan *agents.MissionPlan
	err = c.runMonitored(ctx, "planner", runID, c.cfg.PlanTimeout, func(ctx context.Context) error {
		p, completion, perr := c.planner.Plan(ctx, run.Mission, basePrompt)
		if perr != nil {
			return perr
		}
		if derr := c.recordCost(ctx, runID, "planner", completion); derr != nil {
			return derr
		}
		plan = p
		return nil
	})
	if err != nil {
		return c.settle(ctx, runID, "planner", err)
	}
	if uerr := c.runs.Update(ctx, runID, testrun.SetTotalSteps(len(plan.Steps)), testrun.SetStepIndex(0)); uerr != nil {
		c.logger.Warn(ctx, "failed to persist plan size", logger.Fields{"error": uerr.Error()})
	}

	// Stage 5: audit the page for persona friction.
	var audit *agents.AuditResult
	err = c.runMonitored(ctx, "ux_auditor", runID, c.cfg.AuditTimeout, func(ctx context.Context) error {
		a, completion, aerr := c.auditor.Audit(ctx, basePrompt)
		if aerr != nil {
			return aerr
		}
		if derr := c.recordCost(ctx, runID, "ux_auditor", completion); derr != nil {
			return derr
		}
		audit = a
		return nil
	})
	if err != nil {
		return c.settle(ctx, runID, "ux_auditor", err)
	}
	c.persistAudit(ctx, run, audit)

	// Stage 6: generate and execute a script per plan step.
	for i, step := range plan.Steps {
		if uerr := c.runs.Update(ctx, runID, testrun.SetStepIndex(i)); uerr != nil {
			c.logger.Warn(ctx, "failed to persist step index", logger.Fields{"error": uerr.Error()})
		}

		if serr := c.executeStep(ctx, run, snapshot, audit, i, step); serr != nil {
			return c.settle(ctx, runID, "executor", serr)
		}
	}

	// Stage 7: report and close out.
	return c.finish(ctx, runID, plan, audit)
}

// executeStep generates and runs the script for one plan step under a single
// monitored execution whose retry budget is the per-step failure budget. Cost
// denials here burn a retry like any other failure; a cheaper prompt on the
// next attempt can still recover the step.
func (c *Coordinator) executeStep(ctx context.Context, run *testrun.TestRun, snapshot *scout.Snapshot, audit *agents.AuditResult, stepIndex int, step agents.PlanStep) error {
	return c.runMonitoredWithRetries(ctx, "executor", run.ID, c.cfg.StepTimeout, c.cfg.MaxStepFailures-1, true, func(ctx context.Context) error {
		prompt := c.buildStepPrompt(ctx, run, snapshot, audit)

		genCtx, genCancel := context.WithTimeout(ctx, c.cfg.ScriptGenTimeout)
		script, completion, err := c.scriptgen.Generate(genCtx, prompt, step)
		genCancel()
		// A malformed completion still consumed tokens; meter it before
		// deciding what to do with the error.
		if completion != nil {
			if derr := c.recordCost(ctx, run.ID, "script_generator", completion); derr != nil {
				c.recordAttempt(ctx, run.ID, stepIndex, "generate_script", false, derr.Error())
				return derr
			}
		}
		if err != nil {
			c.recordAttempt(ctx, run.ID, stepIndex, "generate_script", false, err.Error())
			return err
		}

		result, err := c.runner.Run(ctx, script, step)
		if err != nil {
			c.recordAttempt(ctx, run.ID, stepIndex, "execute_script", false, err.Error())
			return err
		}
		c.recordAttempt(ctx, run.ID, stepIndex, result.ActionType, result.Success, result.Error)
		if !result.Success {
			return fmt.Errorf("step %d failed: %s", stepIndex, result.Error)
		}
		return nil
	})
}

// finish writes the report and completes the run.
func (c *Coordinator) finish(ctx context.Context, runID uuid.UUID, plan *agents.MissionPlan, audit *agents.AuditResult) Result {
	frictions, ferr := c.frictions.ListByTestRun(ctx, runID)
	if ferr != nil {
		c.logger.Warn(ctx, "failed to load friction points for report", logger.Fields{"error": ferr.Error()})
	}

	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return Result{Status: testrun.StatusFailed, Err: fmt.Sprintf("reload test run: %v", err)}
	}
	run.CurrentStepIndex = run.TotalSteps

	report := BuildReport(run, plan, audit, frictions, true)
	if uerr := c.runs.Update(ctx, runID, testrun.SetReport(report), testrun.SetStepIndex(run.TotalSteps)); uerr != nil {
		c.logger.Warn(ctx, "failed to persist report", logger.Fields{"error": uerr.Error()})
	}
	if cerr := c.runs.Complete(ctx, runID, testrun.StatusCompleted); cerr != nil {
		c.logger.Error(ctx, "failed to complete test run", logger.Fields{
			"error":       cerr.Error(),
			"test_run_id": runID.String(),
		})
	}

	c.recordLesson(ctx, run, audit)

	c.logger.Info(ctx, "pipeline completed", logger.Fields{
		"test_run_id": runID.String(),
		"total_steps": run.TotalSteps,
		"total_cost":  run.TotalCost,
	})

	return Result{
		Success:        true,
		Status:         testrun.StatusCompleted,
		SentimentScore: run.SentimentScore,
		Report:         report,
	}
}

// settle converts a stage failure into the run's terminal (or paused) state.
// Escalations were already written by the monitor; cost denials and other
// failures mark the run failed here.
func (c *Coordinator) settle(ctx context.Context, runID uuid.UUID, stage string, err error) Result {
	var denial *costDenialError
	switch {
	case errors.Is(err, ErrEscalated):
		c.logger.Warn(ctx, "pipeline paused for human intervention", logger.Fields{
			"test_run_id": runID.String(),
			"stage":       stage,
		})
		return Result{Status: testrun.StatusHITLPaused, Err: err.Error()}

	case errors.As(err, &denial):
		// A per-run break already failed the run; a daily denial has not.
		if cerr := c.runs.Complete(ctx, runID, testrun.StatusFailed); cerr != nil && !errors.Is(cerr, testrun.ErrTestRunNotRunning) {
			c.logger.Warn(ctx, "failed to mark denied run failed", logger.Fields{"error": cerr.Error()})
		}
		return Result{Status: testrun.StatusFailed, Err: err.Error()}

	default:
		if cerr := c.runs.Complete(ctx, runID, testrun.StatusFailed); cerr != nil {
			c.logger.Warn(ctx, "failed to mark run failed", logger.Fields{"error": cerr.Error()})
		}
		return Result{Status: testrun.StatusFailed, Err: fmt.Sprintf("%s: %v", stage, err)}
	}
}

// runMonitored runs fn under the monitor with the default agent retry budget.
// Cost denials abandon the execution immediately.
func (c *Coordinator) runMonitored(ctx context.Context, agentName string, runID uuid.UUID, timeout time.Duration, fn func(ctx context.Context) error) error {
	return c.runMonitoredWithRetries(ctx, agentName, runID, timeout, c.cfg.MaxAgentRetries, false, fn)
}

// runMonitoredWithRetries registers one execution and drives fn through the
// monitor's retry-or-escalate decision. retryDenials controls whether a cost
// denial burns a retry like any other failure (step execution) or abandons
// the execution immediately (every other stage). Exhausted retries surface as
// ErrEscalated after the monitor pauses the run.
func (c *Coordinator) runMonitoredWithRetries(ctx context.Context, agentName string, runID uuid.UUID, timeout time.Duration, maxRetries int, retryDenials bool, fn func(ctx context.Context) error) error {
	executionID := c.monitor.RegisterExecution(agentName, runID, timeout, maxRetries)

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		c.monitor.AttachCancel(executionID, cancel)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			c.monitor.CompleteExecution(ctx, executionID)
			return nil
		}

		var denial *costDenialError
		if errors.As(err, &denial) && !retryDenials {
			c.monitor.AbandonExecution(ctx, executionID, err.Error())
			return err
		}

		if !c.monitor.FailExecution(ctx, executionID, err.Error()) {
			return fmt.Errorf("%w: %s: %v", ErrEscalated, agentName, err)
		}
	}
}

// recordCost meters one finished LLM call. A denied decision comes back as a
// costDenialError and the completion must not be used.
func (c *Coordinator) recordCost(ctx context.Context, runID uuid.UUID, agentName string, completion *agents.Completion) error {
	decision := c.ledger.RecordCall(ctx, runID, agentName, c.model, completion.InputTokens, completion.OutputTokens)
	if !decision.Allowed {
		return &costDenialError{decision: decision}
	}
	return nil
}

// recordAttempt persists one action attempt. Best-effort.
func (c *Coordinator) recordAttempt(ctx context.Context, runID uuid.UUID, stepIndex int, actionType string, success bool, errorMessage string) {
	attempt := &testrun.ActionAttempt{
		TestRunID:    runID,
		StepIndex:    stepIndex,
		ActionType:   actionType,
		Success:      success,
		ErrorMessage: errorMessage,
	}
	if err := c.actions.Create(ctx, attempt); err != nil {
		c.logger.Warn(ctx, "failed to record action attempt", logger.Fields{
			"error":       err.Error(),
			"test_run_id": runID.String(),
		})
	}
}

// persistAudit writes the audit's sentiment and friction points.
func (c *Coordinator) persistAudit(ctx context.Context, run *testrun.TestRun, audit *agents.AuditResult) {
	if uerr := c.runs.Update(ctx, run.ID, testrun.SetSentimentScore(audit.SentimentScore)); uerr != nil {
		c.logger.Warn(ctx, "failed to persist sentiment score", logger.Fields{"error": uerr.Error()})
	}

	for _, finding := range audit.Frictions {
		fp := &testrun.FrictionPoint{
			TestRunID:         run.ID,
			Element:           finding.Element,
			IssueType:         finding.IssueType,
			Severity:          finding.Severity,
			PersonaImpact:     finding.PersonaImpact,
			GuidelineCitation: finding.GuidelineCitation,
			Resolution:        finding.Resolution,
			Platform:          run.Platform,
		}
		if err := c.frictions.Create(ctx, fp); err != nil {
			c.logger.Warn(ctx, "failed to persist friction point", logger.Fields{
				"error":   err.Error(),
				"element": finding.Element,
			})
		}
	}
}

// recordLesson distills a completed run into a reusable lesson. Best-effort.
func (c *Coordinator) recordLesson(ctx context.Context, run *testrun.TestRun, audit *agents.AuditResult) {
	if audit == nil || audit.Degraded || len(audit.Frictions) == 0 {
		return
	}

	var insights []string
	for _, f := range audit.Frictions {
		if f.Severity.IsUrgent() {
			insights = append(insights, fmt.Sprintf("%s: %s", f.Element, f.PersonaImpact))
		}
	}
	if len(insights) == 0 {
		return
	}

	lesson := &memory.Lesson{
		Platform:        run.Platform,
		Mission:         run.Mission,
		Insight:         strings.Join(insights, "; "),
		SourceTestRunID: run.ID,
	}
	if err := c.lessons.Record(ctx, lesson); err != nil {
		c.logger.Warn(ctx, "failed to record lesson", logger.Fields{"error": err.Error()})
	}
}

// buildBasePrompt assembles the shared prompt context for planning and
// auditing: pruned mission context, the mapped schema, and retrieved lessons.
func (c *Coordinator) buildBasePrompt(ctx context.Context, run *testrun.TestRun, schema string, lessons []*memory.Lesson) string {
	pruned := c.pruner.PruneToBudget(ctx, pruner.FullContext{
		Mission: run.Mission,
		Persona: run.Persona,
	}, c.cfg.AgentTokenBudget)
	pruned.DOMSnapshot = schema

	var b strings.Builder
	b.WriteString(c.pruner.FormatPrompt(pruned))
	if len(lessons) > 0 {
		b.WriteString("\nKNOWN LESSONS:\n")
		for _, l := range lessons {
			fmt.Fprintf(&b, "- %s\n", l.Insight)
		}
	}
	return b.String()
}

// buildStepPrompt assembles per-step context: the live page, the trailing
// action window and any urgent frictions from the audit.
func (c *Coordinator) buildStepPrompt(ctx context.Context, run *testrun.TestRun, snapshot *scout.Snapshot, audit *agents.AuditResult) string {
	full := pruner.FullContext{
		Mission:  run.Mission,
		Persona:  run.Persona,
		PageHTML: snapshot.HTML,
	}

	attempts, err := c.actions.ListRecent(ctx, run.ID, c.cfg.RecentActionFetch)
	if err != nil {
		c.logger.Warn(ctx, "failed to load recent actions for prompt", logger.Fields{"error": err.Error()})
	}
	for _, a := range attempts {
		full.Actions = append(full.Actions, pruner.Action{
			Type:    a.ActionType,
			Target:  fmt.Sprintf("step %d", a.StepIndex),
			Success: a.Success,
			Error:   a.ErrorMessage,
		})
	}

	if audit != nil {
		for _, f := range audit.Frictions {
			full.Frictions = append(full.Frictions, pruner.Friction{
				Element:       f.Element,
				IssueType:     f.IssueType,
				Severity:      f.Severity,
				PersonaImpact: f.PersonaImpact,
			})
		}
	}

	pruned := c.pruner.PruneToBudget(ctx, full, c.cfg.AgentTokenBudget)
	return c.pruner.FormatPrompt(pruned)
}
