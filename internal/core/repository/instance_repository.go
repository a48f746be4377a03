package repository

import (
	"context"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

type InstanceFilter struct {
	Role   *domain.InstanceRole
	Active *bool
	Limit  int
	Offset int
}

type InstanceRepository interface {
	Create(ctx context.Context, instance *domain.Instance) error
	FindByID(ctx context.Context, id int64) (*domain.Instance, error)
	FindByName(ctx context.Context, name string) (*domain.Instance, error)
	Update(ctx context.Context, instance *domain.Instance) error
	// Deactivate soft-deletes: the row stays, active flips off.
	Deactivate(ctx context.Context, id int64) error
	List(ctx context.Context, filter InstanceFilter) ([]*domain.Instance, error)
	Count(ctx context.Context, filter InstanceFilter) (int, error)

	// Find active source instances (binlog capture candidates)
	FindActiveSources(ctx context.Context) ([]*domain.Instance, error)
}
