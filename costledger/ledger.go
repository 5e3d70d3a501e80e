package costledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

// Denial reasons returned in Decision.Reason.
const (
	ReasonDailyLimitReached = "daily_limit_reached"
	ReasonRunLimitExceeded  = "run_limit_exceeded"
)

// Config holds cost ledger configuration.
type Config struct {
	// PerRunLimit is the maximum spend for a single test run in USD.
	PerRunLimit float64

	// DailyLimit is the maximum spend across all runs per 24h window in USD.
	DailyLimit float64

	// DefaultModel supplies fallback pricing for models without an entry.
	DefaultModel string

	// Pricing maps model names to per-million-token prices.
	Pricing map[string]ModelPricing
}

func (c *Config) applyDefaults() {
	if c.PerRunLimit <= 0 {
		c.PerRunLimit = 5.0
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 1000.0
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	if c.Pricing == nil {
		c.Pricing = DefaultPricing()
	}
}

// Decision is the ledger's verdict on one recorded call. A denied decision
// means no further LLM calls may be made for the run (or, for daily denials,
// for any run until the window resets).
type Decision struct {
	Allowed   bool    `json:"allowed"`
	Reason    string  `json:"reason,omitempty"`
	CallCost  float64 `json:"call_cost"`
	RunCost   float64 `json:"run_cost"`
	DailyCost float64 `json:"daily_cost"`
}

// runTracker accumulates spend for a single test run.
type runTracker struct {
	totalCost float64
	callCount int
	limit     float64
	byModel   map[string]float64
	byAgent   map[string]float64
}

func newRunTracker(limit float64) *runTracker {
	return &runTracker{
		limit:   limit,
		byModel: make(map[string]float64),
		byAgent: make(map[string]float64),
	}
}

// Breakdown is a read-only view of a run's accumulated spend.
type Breakdown struct {
	TestRunID uuid.UUID          `json:"test_run_id"`
	TotalCost float64            `json:"total_cost"`
	CallCount int                `json:"call_count"`
	ByModel   map[string]float64 `json:"by_model"`
	ByAgent   map[string]float64 `json:"by_agent"`
}

// DailySummary reports spend across all runs in the current 24h window.
type DailySummary struct {
	TotalCost   float64   `json:"total_cost"`
	Limit       float64   `json:"limit"`
	WindowStart time.Time `json:"window_start"`
}

// Ledger meters LLM spend and trips circuit breakers. The in-memory
// accumulators are authoritative for admission; the store keeps a durable
// audit trail. A single Ledger is shared by reference across all runs.
type Ledger struct {
	cfg     Config
	store   Store
	runs    testrun.Store
	alerter Alerter
	logger  logger.Logger

	// now is injectable for tests.
	now func() time.Time

	mu           sync.Mutex
	trackers     map[uuid.UUID]*runTracker
	dailyTotal   float64
	dayStart     time.Time
	dailyAlerted bool
}

// NewLedger creates a cost ledger. The daily accumulator is seeded from the
// durable call log so a process restart cannot forget the day's spend; the
// window itself restarts at construction time, which only errs on the
// conservative side.
func NewLedger(cfg Config, store Store, runs testrun.Store, alerter Alerter, log logger.Logger) *Ledger {
	cfg.applyDefaults()
	l := &Ledger{
		cfg:      cfg,
		store:    store,
		runs:     runs,
		alerter:  alerter,
		logger:   log,
		now:      time.Now,
		trackers: make(map[uuid.UUID]*runTracker),
	}
	l.dayStart = l.now()

	ctx := context.Background()
	seeded, err := store.SumCostsSince(ctx, l.dayStart.Add(-24*time.Hour))
	if err != nil {
		l.logger.Warn(ctx, "failed to seed daily spend from call log, starting at zero", logger.Fields{
			"error": err.Error(),
		})
	} else {
		l.dailyTotal = seeded
	}

	return l
}

// InitializeRun creates a zeroed accumulator for a run, optionally with a
// custom spend limit. A threshold of zero (or less) uses the configured
// per-run limit. Any existing accumulator for the run is discarded.
func (l *Ledger) InitializeRun(testRunID uuid.UUID, threshold float64) {
	if threshold <= 0 {
		threshold = l.cfg.PerRunLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trackers[testRunID] = newRunTracker(threshold)
}

// RecordCall prices one finished LLM call from actual token usage, adds it to
// the run and daily accumulators, and returns whether further calls are
// admitted. Order matters: the daily limit is checked before the per-run
// accumulation, and a daily denial does not charge the run. A per-run break
// marks the run failed and discards its accumulator.
func (l *Ledger) RecordCall(ctx context.Context, testRunID uuid.UUID, agentName, model string, inputTokens, outputTokens int) Decision {
	cost := l.priceCall(ctx, model, inputTokens, outputTokens)

	l.mu.Lock()
	l.rollDailyWindowLocked()

	if l.dailyTotal >= l.cfg.DailyLimit {
		dailyTotal := l.dailyTotal
		firstDenial := !l.dailyAlerted
		l.dailyAlerted = true
		l.mu.Unlock()

		if firstDenial {
			l.breakCircuit(ctx, &CircuitBreakEvent{
				Scope:     ScopeDaily,
				TotalCost: dailyTotal,
				Limit:     l.cfg.DailyLimit,
			})
		}
		l.logger.Warn(ctx, "llm call denied, daily cost limit reached", logger.Fields{
			"test_run_id": testRunID.String(),
			"daily_total": dailyTotal,
			"daily_limit": l.cfg.DailyLimit,
		})
		return Decision{Allowed: false, Reason: ReasonDailyLimitReached, CallCost: cost, DailyCost: dailyTotal}
	}

	tracker, ok := l.trackers[testRunID]
	if !ok {
		tracker = newRunTracker(l.cfg.PerRunLimit)
		l.trackers[testRunID] = tracker
	}
	tracker.totalCost += cost
	tracker.callCount++
	tracker.byModel[model] += cost
	tracker.byAgent[agentName] += cost
	l.dailyTotal += cost

	runTotal := tracker.totalCost
	runLimit := tracker.limit
	dailyTotal := l.dailyTotal
	broke := runTotal > runLimit

	var breakdown testrun.JSONMap
	if broke {
		breakdown = testrun.JSONMap{
			"by_model":   copyCostMap(tracker.byModel),
			"by_agent":   copyCostMap(tracker.byAgent),
			"call_count": tracker.callCount,
		}
		delete(l.trackers, testRunID)
	}
	l.mu.Unlock()

	l.writeCallLog(ctx, &APICallLog{
		TestRunID:    testRunID,
		AgentName:    agentName,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
	})

	if broke {
		l.breakCircuit(ctx, &CircuitBreakEvent{
			TestRunID: testRunID,
			Scope:     ScopePerRun,
			TotalCost: runTotal,
			Limit:     runLimit,
			Breakdown: breakdown,
		})
		if err := l.runs.Update(ctx, testRunID, testrun.SetStatus(testrun.StatusFailed), testrun.SetTotalCost(runTotal)); err != nil {
			l.logger.Error(ctx, "failed to mark test run failed after cost break", logger.Fields{
				"error":       err.Error(),
				"test_run_id": testRunID.String(),
			})
		}
		return Decision{Allowed: false, Reason: ReasonRunLimitExceeded, CallCost: cost, RunCost: runTotal, DailyCost: dailyTotal}
	}

	if err := l.runs.Update(ctx, testRunID, testrun.SetTotalCost(runTotal)); err != nil {
		l.logger.Warn(ctx, "failed to persist test run cost", logger.Fields{
			"error":       err.Error(),
			"test_run_id": testRunID.String(),
		})
	}

	return Decision{Allowed: true, CallCost: cost, RunCost: runTotal, DailyCost: dailyTotal}
}

// GetCostBreakdown returns the accumulated spend for a run, or false if the
// run has no accumulator (never charged, or discarded after a break).
func (l *Ledger) GetCostBreakdown(testRunID uuid.UUID) (Breakdown, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tracker, ok := l.trackers[testRunID]
	if !ok {
		return Breakdown{}, false
	}

	return Breakdown{
		TestRunID: testRunID,
		TotalCost: tracker.totalCost,
		CallCount: tracker.callCount,
		ByModel:   copyCostMap(tracker.byModel),
		ByAgent:   copyCostMap(tracker.byAgent),
	}, true
}

// GetDailySummary returns spend across all runs in the current 24h window.
func (l *Ledger) GetDailySummary() DailySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDailyWindowLocked()

	return DailySummary{
		TotalCost:   l.dailyTotal,
		Limit:       l.cfg.DailyLimit,
		WindowStart: l.dayStart,
	}
}

// ResetRun discards a run's accumulator, e.g. when an operator resumes a
// paused run with a fresh budget.
func (l *Ledger) ResetRun(testRunID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.trackers, testRunID)
}

// ResetDailyLimit zeroes the daily accumulator and restarts the 24h window.
func (l *Ledger) ResetDailyLimit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyTotal = 0
	l.dayStart = l.now()
	l.dailyAlerted = false
}

// priceCall computes the USD cost of a call, falling back to the default
// model's pricing when the model is unknown.
func (l *Ledger) priceCall(ctx context.Context, model string, inputTokens, outputTokens int) float64 {
	pricing, ok := l.cfg.Pricing[model]
	if !ok {
		pricing = l.cfg.Pricing[l.cfg.DefaultModel]
		l.logger.Warn(ctx, "no pricing for model, using default model pricing", logger.Fields{
			"model":         model,
			"default_model": l.cfg.DefaultModel,
		})
	}
	return pricing.cost(inputTokens, outputTokens)
}

// rollDailyWindowLocked resets the daily accumulator once 24h have elapsed.
// Callers must hold the mutex.
func (l *Ledger) rollDailyWindowLocked() {
	if l.now().Sub(l.dayStart) >= 24*time.Hour {
		l.dailyTotal = 0
		l.dayStart = l.now()
		l.dailyAlerted = false
	}
}

// breakCircuit records a break event and notifies the alerter.
func (l *Ledger) breakCircuit(ctx context.Context, event *CircuitBreakEvent) {
	if err := l.store.CreateBreakEvent(ctx, event); err != nil {
		l.logger.Error(ctx, "failed to persist circuit break event", logger.Fields{
			"error": err.Error(),
			"scope": event.Scope,
		})
	}
	l.alerter.CircuitBroken(ctx, event)
}

// writeCallLog persists the call audit record. Best-effort.
func (l *Ledger) writeCallLog(ctx context.Context, log *APICallLog) {
	if err := l.store.CreateCallLog(ctx, log); err != nil {
		l.logger.Warn(ctx, "failed to persist api call log", logger.Fields{
			"error":       err.Error(),
			"test_run_id": log.TestRunID.String(),
		})
	}
}

func copyCostMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
