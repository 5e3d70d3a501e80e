package testrun

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hitlai/missionrunner/logger"
	"gorm.io/gorm"
)

// MySQLStore implements the Store interface using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed test run store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create creates a new test run in the database.
func (s *MySQLStore) Create(ctx context.Context, tr *TestRun) error {
	if tr.Status == "" {
		tr.Status = StatusQueued
	}
	if err := tr.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(tr).Error; err != nil {
		s.logger.Error(ctx, "failed to create test run", logger.Fields{
			"error": err.Error(),
			"url":   tr.URL,
		})
		return err
	}

	s.logger.Info(ctx, "test run created", logger.Fields{
		"test_run_id": tr.ID.String(),
		"url":         tr.URL,
		"persona":     tr.Persona,
	})

	return nil
}

// GetByID retrieves a test run by its ID.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*TestRun, error) {
	var tr TestRun
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tr).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTestRunNotFound
		}
		s.logger.Error(ctx, "failed to get test run by ID", logger.Fields{
			"error":       err.Error(),
			"test_run_id": id.String(),
		})
		return nil, err
	}

	return &tr, nil
}

// Update updates a test run with the given setters.
func (s *MySQLStore) Update(ctx context.Context, id uuid.UUID, setters ...UpdateSetter) error {
	tr, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for _, setter := range setters {
		if err := setter(tr); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Save(tr).Error; err != nil {
		s.logger.Error(ctx, "failed to update test run", logger.Fields{
			"error":       err.Error(),
			"test_run_id": id.String(),
		})
		return err
	}

	return nil
}

// List retrieves a paginated list of test runs, most recent first.
func (s *MySQLStore) List(ctx context.Context, limit, offset int) ([]*TestRun, error) {
	var runs []*TestRun
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list test runs", logger.Fields{
			"error":  err.Error(),
			"limit":  limit,
			"offset": offset,
		})
		return nil, err
	}

	return runs, nil
}

// ListByStatus retrieves a paginated list of test runs filtered by status.
func (s *MySQLStore) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*TestRun, error) {
	var runs []*TestRun
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list test runs by status", logger.Fields{
			"error":  err.Error(),
			"status": string(status),
		})
		return nil, err
	}

	return runs, nil
}

// Start marks a test run as running.
func (s *MySQLStore) Start(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tr TestRun
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&tr).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTestRunNotFound
			}
			return err
		}

		if err := tr.Start(); err != nil {
			return err
		}

		return tx.WithContext(ctx).Save(&tr).Error
	})

	if err != nil {
		if !errors.Is(err, ErrTestRunNotFound) && !errors.Is(err, ErrTestRunAlreadyStarted) {
			s.logger.Error(ctx, "failed to start test run", logger.Fields{
				"error":       err.Error(),
				"test_run_id": id.String(),
			})
		}
		return err
	}

	s.logger.Info(ctx, "test run started", logger.Fields{
		"test_run_id": id.String(),
	})

	return nil
}

// Complete marks a test run as finished with the given terminal status.
func (s *MySQLStore) Complete(ctx context.Context, id uuid.UUID, status Status) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tr TestRun
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&tr).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTestRunNotFound
			}
			return err
		}

		if err := tr.Complete(status); err != nil {
			return err
		}

		return tx.WithContext(ctx).Save(&tr).Error
	})

	if err != nil {
		if !errors.Is(err, ErrTestRunNotFound) && !errors.Is(err, ErrTestRunNotRunning) {
			s.logger.Error(ctx, "failed to complete test run", logger.Fields{
				"error":       err.Error(),
				"test_run_id": id.String(),
				"status":      string(status),
			})
		}
		return err
	}

	s.logger.Info(ctx, "test run completed", logger.Fields{
		"test_run_id": id.String(),
		"status":      string(status),
	})

	return nil
}
