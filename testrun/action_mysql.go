package testrun

import (
	"context"

	"github.com/google/uuid"
	"github.com/hitlai/missionrunner/logger"
	"gorm.io/gorm"
)

// MySQLActionStore implements ActionStore using GORM and MySQL.
type MySQLActionStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLActionStore creates a new MySQL-backed action attempt store.
func NewMySQLActionStore(db *gorm.DB, log logger.Logger) *MySQLActionStore {
	return &MySQLActionStore{
		db:     db,
		logger: log,
	}
}

// Create creates a new action attempt in the database.
func (s *MySQLActionStore) Create(ctx context.Context, attempt *ActionAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		s.logger.Error(ctx, "failed to create action attempt", logger.Fields{
			"error":       err.Error(),
			"test_run_id": attempt.TestRunID.String(),
			"step_index":  attempt.StepIndex,
		})
		return err
	}

	return nil
}

// ListRecent returns the most recent attempts for a test run in chronological order.
func (s *MySQLActionStore) ListRecent(ctx context.Context, testRunID uuid.UUID, limit int) ([]*ActionAttempt, error) {
	var attempts []*ActionAttempt
	err := s.db.WithContext(ctx).
		Where("test_run_id = ?", testRunID).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list recent action attempts", logger.Fields{
			"error":       err.Error(),
			"test_run_id": testRunID.String(),
		})
		return nil, err
	}

	// Reverse into chronological order so windowing keeps the latest attempts.
	for i, j := 0, len(attempts)-1; i < j; i, j = i+1, j-1 {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	}

	return attempts, nil
}
