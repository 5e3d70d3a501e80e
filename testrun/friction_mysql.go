package testrun

import (
	"context"

	"github.com/google/uuid"
	"github.com/hitlai/missionrunner/logger"
	"gorm.io/gorm"
)

// MySQLFrictionStore implements FrictionStore using GORM and MySQL.
type MySQLFrictionStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLFrictionStore creates a new MySQL-backed friction point store.
func NewMySQLFrictionStore(db *gorm.DB, log logger.Logger) *MySQLFrictionStore {
	return &MySQLFrictionStore{
		db:     db,
		logger: log,
	}
}

// Create creates a new friction point in the database.
func (s *MySQLFrictionStore) Create(ctx context.Context, fp *FrictionPoint) error {
	if err := fp.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(fp).Error; err != nil {
		s.logger.Error(ctx, "failed to create friction point", logger.Fields{
			"error":       err.Error(),
			"test_run_id": fp.TestRunID.String(),
			"element":     fp.Element,
		})
		return err
	}

	return nil
}

// ListByTestRun retrieves all friction points for a test run in discovery order.
func (s *MySQLFrictionStore) ListByTestRun(ctx context.Context, testRunID uuid.UUID) ([]*FrictionPoint, error) {
	var points []*FrictionPoint
	err := s.db.WithContext(ctx).
		Where("test_run_id = ?", testRunID).
		Order("created_at ASC").
		Find(&points).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list friction points", logger.Fields{
			"error":       err.Error(),
			"test_run_id": testRunID.String(),
		})
		return nil, err
	}

	return points, nil
}
