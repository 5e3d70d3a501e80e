package monitor

import (
	"context"

	"github.com/google/uuid"
	"github.com/hitlai/missionrunner/logger"
	"gorm.io/gorm"
)

// MySQLLogStore implements LogStore using GORM and MySQL.
type MySQLLogStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLLogStore creates a new MySQL-backed execution log store.
func NewMySQLLogStore(db *gorm.DB, log logger.Logger) *MySQLLogStore {
	return &MySQLLogStore{
		db:     db,
		logger: log,
	}
}

// Create writes an execution log entry.
func (s *MySQLLogStore) Create(ctx context.Context, entry *AgentExecutionLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Error(ctx, "failed to write agent execution log", logger.Fields{
			"error":       err.Error(),
			"test_run_id": entry.TestRunID.String(),
			"agent_name":  entry.AgentName,
		})
		return err
	}
	return nil
}

// ListByTestRun retrieves all execution logs for a test run in order.
func (s *MySQLLogStore) ListByTestRun(ctx context.Context, testRunID uuid.UUID) ([]*AgentExecutionLog, error) {
	var logs []*AgentExecutionLog
	err := s.db.WithContext(ctx).
		Where("test_run_id = ?", testRunID).
		Order("created_at ASC").
		Find(&logs).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list agent execution logs", logger.Fields{
			"error":       err.Error(),
			"test_run_id": testRunID.String(),
		})
		return nil, err
	}

	return logs, nil
}
