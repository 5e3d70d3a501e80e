package costledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hitlai/missionrunner/testrun"
)

// Circuit break scopes.
const (
	ScopePerRun = "per_run"
	ScopeDaily  = "daily"
)

// APICallLog is the durable record of one LLM API call and its cost,
// written after the provider reports actual token usage.
type APICallLog struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TestRunID    uuid.UUID `json:"test_run_id" gorm:"type:char(36);not null;index:idx_api_call_logs_test_run_id"`
	AgentName    string    `json:"agent_name" gorm:"type:varchar(100);not null"`
	Model        string    `json:"model" gorm:"type:varchar(100);not null"`
	InputTokens  int       `json:"input_tokens" gorm:"not null;default:0"`
	OutputTokens int       `json:"output_tokens" gorm:"not null;default:0"`
	Cost         float64   `json:"cost" gorm:"type:decimal(12,6);not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new API call log
func (l *APICallLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// CircuitBreakEvent records a tripped cost limit with the spend breakdown at
// the moment of the break.
type CircuitBreakEvent struct {
	ID        uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	TestRunID uuid.UUID       `json:"test_run_id" gorm:"type:char(36);index:idx_circuit_break_events_test_run_id"`
	Scope     string          `json:"scope" gorm:"type:varchar(20);not null"`
	TotalCost float64         `json:"total_cost" gorm:"type:decimal(12,6);not null"`
	Limit     float64         `json:"limit" gorm:"column:cost_limit;type:decimal(12,6);not null"`
	Breakdown testrun.JSONMap `json:"breakdown" gorm:"type:json"`
	CreatedAt time.Time       `json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating a new circuit break event
func (e *CircuitBreakEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Store persists cost records and circuit break events. Writes are
// best-effort for the Ledger: the in-memory accumulators are authoritative
// for admission decisions.
type Store interface {
	CreateCallLog(ctx context.Context, log *APICallLog) error
	CreateBreakEvent(ctx context.Context, event *CircuitBreakEvent) error
	ListCallsByTestRun(ctx context.Context, testRunID uuid.UUID) ([]*APICallLog, error)
	SumCostsSince(ctx context.Context, since time.Time) (float64, error)
}
