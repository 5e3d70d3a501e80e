package testrun

import (
	"context"

	"github.com/google/uuid"
)

// ActionStore manages action attempt records for test runs.
type ActionStore interface {
	Create(ctx context.Context, attempt *ActionAttempt) error

	// ListRecent returns up to limit of the most recent attempts for a test
	// run, in chronological order (oldest of the window first).
	ListRecent(ctx context.Context, testRunID uuid.UUID, limit int) ([]*ActionAttempt, error)
}
