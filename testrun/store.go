package testrun

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, tr *TestRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRun, error)
	Update(ctx context.Context, id uuid.UUID, setters ...UpdateSetter) error
	List(ctx context.Context, limit, offset int) ([]*TestRun, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*TestRun, error)
	Start(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, status Status) error
}

type UpdateSetter func(*TestRun) error
