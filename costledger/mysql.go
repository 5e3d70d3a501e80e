package costledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hitlai/missionrunner/logger"
)

// MySQLStore implements Store using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed cost store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// CreateCallLog writes an API call audit record.
func (s *MySQLStore) CreateCallLog(ctx context.Context, log *APICallLog) error {
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		s.logger.Error(ctx, "failed to create api call log", logger.Fields{
			"error":       err.Error(),
			"test_run_id": log.TestRunID.String(),
		})
		return err
	}
	return nil
}

// CreateBreakEvent writes a circuit break event.
func (s *MySQLStore) CreateBreakEvent(ctx context.Context, event *CircuitBreakEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		s.logger.Error(ctx, "failed to create circuit break event", logger.Fields{
			"error": err.Error(),
			"scope": event.Scope,
		})
		return err
	}
	return nil
}

// ListCallsByTestRun retrieves all call records for a test run in order.
func (s *MySQLStore) ListCallsByTestRun(ctx context.Context, testRunID uuid.UUID) ([]*APICallLog, error) {
	var logs []*APICallLog
	err := s.db.WithContext(ctx).
		Where("test_run_id = ?", testRunID).
		Order("created_at ASC").
		Find(&logs).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list api call logs", logger.Fields{
			"error":       err.Error(),
			"test_run_id": testRunID.String(),
		})
		return nil, err
	}

	return logs, nil
}

// SumCostsSince totals recorded spend from the given time, used to rebuild
// the daily accumulator after a restart.
func (s *MySQLStore) SumCostsSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&APICallLog{}).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error

	if err != nil {
		s.logger.Error(ctx, "failed to sum api call costs", logger.Fields{
			"error": err.Error(),
		})
		return 0, err
	}

	return total, nil
}
