package testrun

import (
	"context"

	"github.com/google/uuid"
)

// FrictionStore manages friction points discovered during UX audits.
type FrictionStore interface {
	Create(ctx context.Context, fp *FrictionPoint) error
	ListByTestRun(ctx context.Context, testRunID uuid.UUID) ([]*FrictionPoint, error)
}
