package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitlai/missionrunner/logger"
	"github.com/hitlai/missionrunner/testrun"
)

const (
	reasonTimeout        = "timeout"
	reasonStaleHeartbeat = "stale_heartbeat"
)

// Config holds execution monitor configuration.
type Config struct {
	// SweepInterval is how often the background sweep checks live executions.
	SweepInterval time.Duration

	// HeartbeatStaleAfter is how long an execution may go without a heartbeat
	// before being treated as timed out.
	HeartbeatStaleAfter time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.HeartbeatStaleAfter <= 0 {
		c.HeartbeatStaleAfter = 30 * time.Second
	}
}

// Monitor tracks in-flight agent invocations across all concurrently running
// test runs. It detects agents that stop making progress via hard timeouts
// (measured from attempt start) and stale heartbeats, and applies a shared
// retry-or-escalate decision: retries reset the attempt clock, exhaustion
// pauses the owning test run for human intervention.
//
// A single Monitor is created at process start and shared by reference.
type Monitor struct {
	cfg    Config
	runs   testrun.Store
	logs   LogStore
	logger logger.Logger

	// now is injectable for tests.
	now func() time.Time

	mu         sync.Mutex
	executions map[string]*AgentExecution
	heartbeats map[string]*Heartbeat

	// sweepDecided marks executions whose current attempt the sweep already
	// retried, so a subsequent FailExecution from the cancelled caller does
	// not burn a second retry for the same attempt.
	sweepDecided map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a new execution monitor. Call Start to begin the
// background sweep.
func NewMonitor(cfg Config, runs testrun.Store, logs LogStore, log logger.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:          cfg,
		runs:         runs,
		logs:         logs,
		logger:       log,
		now:          time.Now,
		executions:   make(map[string]*AgentExecution),
		heartbeats:   make(map[string]*Heartbeat),
		sweepDecided: make(map[string]bool),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (m *Monitor) Start() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.Sweep(context.Background())
			case <-m.stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	m.logger.Info(context.Background(), "execution monitor started", logger.Fields{
		"sweep_interval": m.cfg.SweepInterval.String(),
	})
}

// Stop stops the background sweep goroutine.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// RegisterExecution creates a running AgentExecution and returns its ID.
func (m *Monitor) RegisterExecution(agentName string, testRunID uuid.UUID, timeout time.Duration, maxRetries int) string {
	now := m.now()
	executionID := fmt.Sprintf("%s-%s-%d", agentName, testRunID.String(), now.UnixNano())

	m.mu.Lock()
	m.executions[executionID] = &AgentExecution{
		ID:         executionID,
		AgentName:  agentName,
		TestRunID:  testRunID,
		StartTime:  now,
		Timeout:    timeout,
		Status:     ExecutionRunning,
		RetryCount: 0,
		MaxRetries: maxRetries,
	}
	m.mu.Unlock()

	m.logger.Debug(context.Background(), "execution registered", logger.Fields{
		"execution_id": executionID,
		"agent_name":   agentName,
		"test_run_id":  testRunID.String(),
		"timeout":      timeout.String(),
	})

	return executionID
}

// AttachCancel associates a cancel func with an execution so that sweep
// escalation aborts the underlying call rather than only abandoning the wait.
func (m *Monitor) AttachCancel(executionID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec, ok := m.executions[executionID]; ok {
		exec.cancel = cancel
	}
}

// Heartbeat records a progress update for an execution. It is a no-op for
// unknown or terminal executions, and does not reset the timeout clock.
func (m *Monitor) Heartbeat(executionID string, progress int, currentAction string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok || exec.Status != ExecutionRunning {
		return
	}

	m.heartbeats[executionID] = &Heartbeat{
		Progress:      progress,
		CurrentAction: currentAction,
		Timestamp:     m.now(),
	}
}

// CompleteExecution transitions an execution to completed, logs the outcome
// and removes it from the live set.
func (m *Monitor) CompleteExecution(ctx context.Context, executionID string) {
	m.mu.Lock()
	exec, ok := m.executions[executionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	exec.Status = ExecutionCompleted
	elapsed := m.now().Sub(exec.StartTime)
	m.remove(executionID, exec)
	m.mu.Unlock()

	m.writeLog(ctx, exec, string(ExecutionCompleted), "", elapsed)

	m.logger.Info(ctx, "execution completed", logger.Fields{
		"execution_id": executionID,
		"agent_name":   exec.AgentName,
		"test_run_id":  exec.TestRunID.String(),
		"duration_ms":  elapsed.Milliseconds(),
	})
}

// FailExecution records a failed attempt. If the retry budget allows, the
// attempt clock resets and true is returned: the caller retries the
// underlying operation. Otherwise the owning test run is paused for HITL and
// false is returned. Timeouts detected by the sweep share the same budget.
func (m *Monitor) FailExecution(ctx context.Context, executionID string, reason string) bool {
	m.mu.Lock()
	exec, ok := m.executions[executionID]
	if !ok {
		// Already escalated or completed; nothing left to retry.
		m.mu.Unlock()
		return false
	}

	if m.sweepDecided[executionID] {
		// The sweep already retried this attempt and cancelled the caller;
		// the caller is reporting that cancellation, not a new failure.
		delete(m.sweepDecided, executionID)
		m.mu.Unlock()
		return true
	}

	elapsed := m.now().Sub(exec.StartTime)
	exec.RetryCount++
	willRetry := exec.RetryCount <= exec.MaxRetries
	if willRetry {
		exec.StartTime = m.now()
		exec.Status = ExecutionRunning
		// Fresh staleness clock for the new attempt.
		delete(m.heartbeats, executionID)
	} else {
		exec.Status = ExecutionFailed
		m.remove(executionID, exec)
	}
	m.mu.Unlock()

	m.writeLog(ctx, exec, string(ExecutionFailed), reason, elapsed)

	if willRetry {
		m.logger.Warn(ctx, "execution failed, retrying", logger.Fields{
			"execution_id": executionID,
			"agent_name":   exec.AgentName,
			"test_run_id":  exec.TestRunID.String(),
			"retry":        exec.RetryCount,
			"max_retries":  exec.MaxRetries,
			"reason":       reason,
		})
		return true
	}

	m.escalate(ctx, exec, reason, elapsed)
	return false
}

// AbandonExecution records a non-retryable failure (e.g. a cost circuit
// break) and removes the execution without consuming the retry budget or
// escalating: the caller owns the consequence.
func (m *Monitor) AbandonExecution(ctx context.Context, executionID string, reason string) {
	m.mu.Lock()
	exec, ok := m.executions[executionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	exec.Status = ExecutionFailed
	elapsed := m.now().Sub(exec.StartTime)
	m.remove(executionID, exec)
	m.mu.Unlock()

	m.writeLog(ctx, exec, string(ExecutionFailed), reason, elapsed)

	m.logger.Warn(ctx, "execution abandoned", logger.Fields{
		"execution_id": executionID,
		"agent_name":   exec.AgentName,
		"test_run_id":  exec.TestRunID.String(),
		"reason":       reason,
	})
}

// Sweep checks all live executions for hard timeouts and stale heartbeats,
// applying the same retry-or-escalate decision as FailExecution. It runs on
// the background ticker; exported so tests can drive it deterministically.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()

	type verdict struct {
		exec      *AgentExecution
		reason    string
		elapsed   time.Duration
		willRetry bool
	}

	m.mu.Lock()
	var verdicts []verdict
	for id, exec := range m.executions {
		if exec.Status != ExecutionRunning {
			continue
		}

		elapsed := now.Sub(exec.StartTime)
		var reason string
		if elapsed > exec.Timeout {
			reason = reasonTimeout
		} else if hb, ok := m.heartbeats[id]; ok && now.Sub(hb.Timestamp) > m.cfg.HeartbeatStaleAfter {
			reason = reasonStaleHeartbeat
		} else {
			continue
		}

		exec.RetryCount++
		willRetry := exec.RetryCount <= exec.MaxRetries
		if willRetry {
			exec.StartTime = now
			delete(m.heartbeats, id)
			if exec.cancel != nil {
				// The caller observes the cancellation and re-invokes;
				// FailExecution must not double-count this attempt.
				m.sweepDecided[id] = true
				exec.cancel()
				exec.cancel = nil
			}
		} else {
			exec.Status = ExecutionTimeout
			m.remove(id, exec)
		}
		verdicts = append(verdicts, verdict{exec: exec, reason: reason, elapsed: elapsed, willRetry: willRetry})
	}
	m.mu.Unlock()

	for _, v := range verdicts {
		m.writeLog(ctx, v.exec, string(ExecutionTimeout), v.reason, v.elapsed)

		if v.willRetry {
			m.logger.Warn(ctx, "execution timed out, retrying", logger.Fields{
				"execution_id": v.exec.ID,
				"agent_name":   v.exec.AgentName,
				"test_run_id":  v.exec.TestRunID.String(),
				"retry":        v.exec.RetryCount,
				"max_retries":  v.exec.MaxRetries,
				"reason":       v.reason,
			})
			continue
		}

		m.escalate(ctx, v.exec, v.reason, v.elapsed)
	}
}

// GetActiveExecutions returns a snapshot of all live executions with their
// latest heartbeat data.
func (m *Monitor) GetActiveExecutions() []ExecutionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snapshots := make([]ExecutionSnapshot, 0, len(m.executions))
	for id, exec := range m.executions {
		snapshot := ExecutionSnapshot{
			ExecutionID:   id,
			AgentName:     exec.AgentName,
			TestRunID:     exec.TestRunID,
			Elapsed:       now.Sub(exec.StartTime),
			CurrentAction: "unknown",
			Status:        exec.Status,
		}
		if hb, ok := m.heartbeats[id]; ok {
			snapshot.Progress = hb.Progress
			snapshot.CurrentAction = hb.CurrentAction
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots
}

// KillRun removes all executions belonging to a test run and marks the run
// failed. Used by operators to put a run out of its misery.
func (m *Monitor) KillRun(ctx context.Context, testRunID uuid.UUID, reason string) {
	m.mu.Lock()
	var killed []*AgentExecution
	for id, exec := range m.executions {
		if exec.TestRunID != testRunID {
			continue
		}
		exec.Status = ExecutionFailed
		m.remove(id, exec)
		killed = append(killed, exec)
	}
	m.mu.Unlock()

	m.logger.Warn(ctx, "killing all executions for test run", logger.Fields{
		"test_run_id": testRunID.String(),
		"reason":      reason,
		"count":       len(killed),
	})

	for _, exec := range killed {
		m.writeLog(ctx, exec, "killed", reason, m.now().Sub(exec.StartTime))
	}

	if err := m.runs.Update(ctx, testRunID, testrun.SetStatus(testrun.StatusFailed)); err != nil {
		m.logger.Error(ctx, "failed to mark killed test run as failed", logger.Fields{
			"error":       err.Error(),
			"test_run_id": testRunID.String(),
		})
	}
}

// remove deletes an execution and its heartbeat from the live sets and fires
// its cancel func. Callers must hold the mutex.
func (m *Monitor) remove(executionID string, exec *AgentExecution) {
	if exec.cancel != nil {
		exec.cancel()
		exec.cancel = nil
	}
	delete(m.executions, executionID)
	delete(m.heartbeats, executionID)
	delete(m.sweepDecided, executionID)
}

// escalate pauses the owning test run for human intervention after the retry
// budget is exhausted.
func (m *Monitor) escalate(ctx context.Context, exec *AgentExecution, reason string, elapsed time.Duration) {
	m.logger.Error(ctx, "retries exhausted, pausing test run for HITL", logger.Fields{
		"execution_id": exec.ID,
		"agent_name":   exec.AgentName,
		"test_run_id":  exec.TestRunID.String(),
		"retry_count":  exec.RetryCount,
		"reason":       reason,
	})

	err := m.runs.Update(ctx, exec.TestRunID,
		testrun.SetStatus(testrun.StatusHITLPaused),
		testrun.SetFailureCount(exec.RetryCount),
	)
	if err != nil {
		m.logger.Error(ctx, "failed to pause test run for HITL", logger.Fields{
			"error":       err.Error(),
			"test_run_id": exec.TestRunID.String(),
		})
	}

	m.writeLog(ctx, exec, "hitl_paused", reason, elapsed)
}

// writeLog persists an execution outcome. Log writes are best-effort; the
// store logs its own failures.
func (m *Monitor) writeLog(ctx context.Context, exec *AgentExecution, status, errorMessage string, elapsed time.Duration) {
	_ = m.logs.Create(ctx, &AgentExecutionLog{
		TestRunID:    exec.TestRunID,
		AgentName:    exec.AgentName,
		Status:       status,
		ErrorMessage: errorMessage,
		RetryCount:   exec.RetryCount,
		DurationMs:   elapsed.Milliseconds(),
	})
}
