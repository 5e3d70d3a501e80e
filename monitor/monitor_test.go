package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
	"github.com/hitlai/missionrunner/testutil"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func setupMonitor(t *testing.T) (*Monitor, testrun.Store, *fakeClock) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &testrun.TestRun{}, &AgentExecutionLog{})

	log := logger.NewTestLogger()
	runs := testrun.NewMySQLStore(db, log)
	logs := NewMySQLLogStore(db, log)

	clock := &fakeClock{current: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(Config{}, runs, logs, log)
	m.now = clock.now

	return m, runs, clock
}

func startedRun(t *testing.T, runs testrun.Store) *testrun.TestRun {
	t.Helper()
	tr := &testrun.TestRun{
		URL:      "https://example.com",
		Mission:  "Find and add a product to the cart",
		Persona:  "Margaret",
		Platform: testrun.PlatformWeb,
	}
	require.NoError(t, runs.Create(context.Background(), tr))
	require.NoError(t, runs.Start(context.Background(), tr.ID))
	return tr
}

func TestMonitor_RegisterAndComplete(t *testing.T) {
	m, runs, _ := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	id := m.RegisterExecution("planner", tr.ID, 60*time.Second, 2)
	assert.Contains(t, id, "planner-"+tr.ID.String())

	active := m.GetActiveExecutions()
	require.Len(t, active, 1)
	assert.Equal(t, "planner", active[0].AgentName)
	assert.Equal(t, "unknown", active[0].CurrentAction)

	m.Heartbeat(id, 40, "drafting plan")
	active = m.GetActiveExecutions()
	require.Len(t, active, 1)
	assert.Equal(t, 40, active[0].Progress)
	assert.Equal(t, "drafting plan", active[0].CurrentAction)

	m.CompleteExecution(ctx, id)
	assert.Empty(t, m.GetActiveExecutions())

	// Completing again is a no-op.
	m.CompleteExecution(ctx, id)
}

func TestMonitor_FailExecutionRetryBudget(t *testing.T) {
	m, runs, _ := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	id := m.RegisterExecution("script_generator", tr.ID, 60*time.Second, 2)

	assert.True(t, m.FailExecution(ctx, id, "llm returned malformed json"))
	assert.True(t, m.FailExecution(ctx, id, "llm returned malformed json"))
	assert.False(t, m.FailExecution(ctx, id, "llm returned malformed json"))

	// Budget exhausted: the execution is gone and the run is paused for HITL.
	assert.Empty(t, m.GetActiveExecutions())

	retrieved, err := runs.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusHITLPaused, retrieved.Status)
	assert.Equal(t, 3, retrieved.FailureCount)

	// Failing an escalated execution never retries.
	assert.False(t, m.FailExecution(ctx, id, "again"))
}

func TestMonitor_SweepHardTimeout(t *testing.T) {
	m, runs, clock := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	id := m.RegisterExecution("scout", tr.ID, 30*time.Second, 1)

	// Within the timeout nothing happens.
	clock.advance(29 * time.Second)
	m.Sweep(ctx)
	require.Len(t, m.GetActiveExecutions(), 1)

	// Past the timeout the sweep retries, resetting the attempt clock.
	clock.advance(2 * time.Second)
	m.Sweep(ctx)
	active := m.GetActiveExecutions()
	require.Len(t, active, 1)
	assert.Equal(t, ExecutionRunning, active[0].Status)
	assert.Equal(t, time.Duration(0), active[0].Elapsed)

	// Second timeout exhausts the budget and escalates.
	clock.advance(31 * time.Second)
	m.Sweep(ctx)
	assert.Empty(t, m.GetActiveExecutions())

	retrieved, err := runs.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusHITLPaused, retrieved.Status)
	assert.Equal(t, 2, retrieved.FailureCount)

	_ = id
}

func TestMonitor_SweepStaleHeartbeat(t *testing.T) {
	m, runs, clock := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	// Long timeout so only heartbeat staleness can trip.
	id := m.RegisterExecution("executor", tr.ID, 10*time.Minute, 0)
	m.Heartbeat(id, 10, "clicking add to cart")

	// A recent heartbeat keeps the execution alive.
	clock.advance(29 * time.Second)
	m.Sweep(ctx)
	require.Len(t, m.GetActiveExecutions(), 1)

	// No heartbeat for over 30s with zero retries left escalates.
	clock.advance(2 * time.Second)
	m.Sweep(ctx)
	assert.Empty(t, m.GetActiveExecutions())

	retrieved, err := runs.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusHITLPaused, retrieved.Status)
}

func TestMonitor_SweepNoHeartbeatIsNotStale(t *testing.T) {
	m, runs, clock := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	// An execution that never heartbeats is governed by its hard timeout only.
	m.RegisterExecution("planner", tr.ID, 10*time.Minute, 0)

	clock.advance(5 * time.Minute)
	m.Sweep(ctx)
	require.Len(t, m.GetActiveExecutions(), 1)
}

func TestMonitor_SweepRetryClearsStaleHeartbeat(t *testing.T) {
	m, runs, clock := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	id := m.RegisterExecution("executor", tr.ID, 10*time.Minute, 3)
	m.Heartbeat(id, 10, "typing")

	// The stale heartbeat triggers a retry and is discarded with the failed
	// attempt, so the very next sweep does not trip on it again.
	clock.advance(31 * time.Second)
	m.Sweep(ctx)
	require.Len(t, m.GetActiveExecutions(), 1)

	clock.advance(1 * time.Second)
	m.Sweep(ctx)
	active := m.GetActiveExecutions()
	require.Len(t, active, 1)
	assert.Equal(t, ExecutionRunning, active[0].Status)
}

func TestMonitor_SweepCancelsAttachedContext(t *testing.T) {
	m, runs, clock := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	id := m.RegisterExecution("scout", tr.ID, 30*time.Second, 1)
	attemptCtx, cancel := context.WithCancel(ctx)
	m.AttachCancel(id, cancel)

	clock.advance(31 * time.Second)
	m.Sweep(ctx)

	select {
	case <-attemptCtx.Done():
	default:
		t.Fatal("expected sweep retry to cancel the in-flight attempt")
	}

	// The cancelled caller reports the failure; the sweep already consumed
	// the retry for this attempt so the budget is not double-charged.
	assert.True(t, m.FailExecution(ctx, id, context.Canceled.Error()))

	active := m.GetActiveExecutions()
	require.Len(t, active, 1)

	// One real failure remains before escalation.
	assert.False(t, m.FailExecution(ctx, id, "navigation error"))
	assert.Empty(t, m.GetActiveExecutions())
}

func TestMonitor_AbandonExecution(t *testing.T) {
	m, runs, _ := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)

	id := m.RegisterExecution("planner", tr.ID, 60*time.Second, 3)
	m.AbandonExecution(ctx, id, "cost limit exceeded")

	assert.Empty(t, m.GetActiveExecutions())

	// Abandonment does not pause the run; the caller decides what happens.
	retrieved, err := runs.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusRunning, retrieved.Status)
}

func TestMonitor_KillRun(t *testing.T) {
	m, runs, _ := setupMonitor(t)
	ctx := context.Background()
	tr := startedRun(t, runs)
	other := startedRun(t, runs)

	m.RegisterExecution("planner", tr.ID, 60*time.Second, 1)
	m.RegisterExecution("executor", tr.ID, 60*time.Second, 1)
	keep := m.RegisterExecution("planner", other.ID, 60*time.Second, 1)

	m.KillRun(ctx, tr.ID, "operator requested")

	active := m.GetActiveExecutions()
	require.Len(t, active, 1)
	assert.Equal(t, keep, active[0].ExecutionID)

	retrieved, err := runs.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusFailed, retrieved.Status)

	otherRetrieved, err := runs.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusRunning, otherRetrieved.Status)
}

func TestMonitor_HeartbeatUnknownExecution(t *testing.T) {
	m, _, _ := setupMonitor(t)

	// Must not panic or create phantom state.
	m.Heartbeat("nonexistent", 50, "noop")
	assert.Empty(t, m.GetActiveExecutions())
}
