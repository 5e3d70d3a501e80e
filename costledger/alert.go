package costledger

import (
	"context"

	"github.com/hitlai/missionrunner/logger"
)

// Alerter receives circuit break notifications. Implementations must not
// block; the ledger calls them inline on the request path.
type Alerter interface {
	CircuitBroken(ctx context.Context, event *CircuitBreakEvent)
}

// LogAlerter is the default Alerter: it writes break notifications to the
// application log at error level.
type LogAlerter struct {
	logger logger.Logger
}

// NewLogAlerter creates an Alerter backed by the application log.
func NewLogAlerter(log logger.Logger) *LogAlerter {
	return &LogAlerter{logger: log}
}

// CircuitBroken logs the break with its full breakdown.
func (a *LogAlerter) CircuitBroken(ctx context.Context, event *CircuitBreakEvent) {
	a.logger.Error(ctx, "cost circuit breaker tripped", logger.Fields{
		"scope":       event.Scope,
		"test_run_id": event.TestRunID.String(),
		"total_cost":  event.TotalCost,
		"limit":       event.Limit,
		"breakdown":   map[string]interface{}(event.Breakdown),
	})
}
