package repository

import (
	"context"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

type PolicyFilter struct {
	InstanceID *int64
	Kind       *domain.BackupKind
	Enabled    *bool
	Limit      int
	Offset     int
}

type PolicyRepository interface {
	Create(ctx context.Context, policy *domain.Policy) error
	FindByID(ctx context.Context, id int64) (*domain.Policy, error)
	Update(ctx context.Context, policy *domain.Policy) error
	List(ctx context.Context, filter PolicyFilter) ([]*domain.Policy, error)
	Count(ctx context.Context, filter PolicyFilter) (int, error)

	// Find the enabled policy for (instance, kind); ErrNotFound if none
	FindActive(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Policy, error)

	// Find all enabled policies (scheduling and retention candidates)
	FindAllEnabled(ctx context.Context) ([]*domain.Policy, error)
}
