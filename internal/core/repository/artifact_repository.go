package repository

import (
	"context"
	"time"

	"github.com/pverhoef/dbvault/internal/api/util"
	"github.com/pverhoef/dbvault/internal/core/domain"
)

// ArtifactFilter embeds ListFilter for generic query/order/pagination
type ArtifactFilter struct {
	util.ListFilter
}

type ArtifactRepository interface {
	Create(ctx context.Context, artifact *domain.Artifact) error
	FindByID(ctx context.Context, id int64) (*domain.Artifact, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ArtifactFilter) ([]*domain.Artifact, error)
	Count(ctx context.Context, filter ArtifactFilter) (int, error)

	// FindLatest returns the newest artifact for (instance, kind), nil if none
	FindLatest(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Artifact, error)

	// FindExpired returns artifacts whose expiry has passed, oldest first
	FindExpired(ctx context.Context, now time.Time) ([]*domain.Artifact, error)

	// FindBaseBefore returns the newest logical or physical artifact created
	// at or before t for the instance, nil if none
	FindBaseBefore(ctx context.Context, instanceID int64, t time.Time) (*domain.Artifact, error)

	// FindBinlogBetween returns binlog artifacts created in (from, to],
	// ordered by creation
	FindBinlogBetween(ctx context.Context, instanceID int64, from, to time.Time) ([]*domain.Artifact, error)
}
