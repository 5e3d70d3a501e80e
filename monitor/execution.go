package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExecutionStatus represents the status of a single agent invocation.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// AgentExecution tracks one in-flight agent invocation. Mutated only by the
// Monitor; never shared between runs.
type AgentExecution struct {
	ID         string
	AgentName  string
	TestRunID  uuid.UUID
	StartTime  time.Time
	Timeout    time.Duration
	Status     ExecutionStatus
	RetryCount int
	MaxRetries int

	// cancel aborts the in-flight call when the sweep escalates. Nil when
	// the caller did not attach one.
	cancel context.CancelFunc
}

// Heartbeat is the last progress report for an execution. Overwritten on each
// update and used only for staleness detection.
type Heartbeat struct {
	Progress      int
	CurrentAction string
	Timestamp     time.Time
}

// ExecutionSnapshot is a read-only view of an active execution for
// operational dashboards.
type ExecutionSnapshot struct {
	ExecutionID   string          `json:"execution_id"`
	AgentName     string          `json:"agent_name"`
	TestRunID     uuid.UUID       `json:"test_run_id"`
	Elapsed       time.Duration   `json:"elapsed"`
	Progress      int             `json:"progress"`
	CurrentAction string          `json:"current_action"`
	Status        ExecutionStatus `json:"status"`
}

// AgentExecutionLog is the durable record of a finished (or escalated)
// execution attempt, written for post-hoc failure reconstruction.
type AgentExecutionLog struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestRunID    uuid.UUID `json:"test_run_id" gorm:"type:char(36);not null;index:idx_agent_execution_logs_test_run_id"`
	AgentName    string    `json:"agent_name" gorm:"type:varchar(100);not null"`
	Status       string    `json:"status" gorm:"type:varchar(20);not null"`
	ErrorMessage string    `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount   int       `json:"retry_count" gorm:"not null;default:0"`
	DurationMs   int64     `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new execution log
func (l *AgentExecutionLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// LogStore persists execution outcomes. Writes are fire-and-forget for the
// Monitor: failures are logged, never propagated.
type LogStore interface {
	Create(ctx context.Context, log *AgentExecutionLog) error
	ListByTestRun(ctx context.Context, testRunID uuid.UUID) ([]*AgentExecutionLog, error)
}
