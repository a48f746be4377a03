package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
)

var artifactFilterFields = []string{
	"id", "instance_id", "job_id", "session_id", "kind", "path", "size",
	"checksum", "expires_at", "created_at",
}

// ArtifactFilterFields returns the filterable artifact columns for handler validation
func ArtifactFilterFields() []string {
	return artifactFilterFields
}

type ArtifactRepository struct {
	db *DB
}

func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) Create(ctx context.Context, artifact *domain.Artifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO artifact (instance_id, job_id, session_id, kind, path, size, checksum, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.InstanceID, NullInt64(artifact.JobID), NullInt64(artifact.SessionID),
		artifact.Kind, artifact.Path, artifact.Size, artifact.Checksum,
		NullTime(artifact.ExpiresAt), artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get artifact id: %w", err)
	}
	artifact.ID = id
	return nil
}

func (r *ArtifactRepository) FindByID(ctx context.Context, id int64) (*domain.Artifact, error) {
	var artifact domain.Artifact
	err := r.db.GetContext(ctx, &artifact, `SELECT * FROM artifact WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find artifact: %w", err)
	}
	return &artifact, nil
}

func (r *ArtifactRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM artifact WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ArtifactRepository) List(ctx context.Context, filter repository.ArtifactFilter) ([]*domain.Artifact, error) {
	query := `SELECT * FROM artifact WHERE 1=1`
	args := []interface{}{}

	query, args = ApplyFilters(query, args, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "created_at DESC, id DESC")
	query, args = ApplyPagination(query, args, filter.Page, filter.PerPage)

	artifacts := []*domain.Artifact{}
	if err := r.db.SelectContext(ctx, &artifacts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}

func (r *ArtifactRepository) Count(ctx context.Context, filter repository.ArtifactFilter) (int, error) {
	query := `SELECT COUNT(*) FROM artifact WHERE 1=1`
	args := []interface{}{}

	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return count, nil
}

func (r *ArtifactRepository) FindLatest(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Artifact, error) {
	var artifact domain.Artifact
	err := r.db.GetContext(ctx, &artifact, `
		SELECT * FROM artifact
		WHERE instance_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		instanceID, kind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest artifact: %w", err)
	}
	return &artifact, nil
}

func (r *ArtifactRepository) FindExpired(ctx context.Context, now time.Time) ([]*domain.Artifact, error) {
	artifacts := []*domain.Artifact{}
	err := r.db.SelectContext(ctx, &artifacts, `
		SELECT * FROM artifact
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY created_at ASC, id ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired artifacts: %w", err)
	}
	return artifacts, nil
}

// FindBaseBefore resolves the restore base: the newest full backup taken at
// or before t. Ties on created_at break on the higher id.
func (r *ArtifactRepository) FindBaseBefore(ctx context.Context, instanceID int64, t time.Time) (*domain.Artifact, error) {
	var artifact domain.Artifact
	err := r.db.GetContext(ctx, &artifact, `
		SELECT * FROM artifact
		WHERE instance_id = ? AND kind IN ('logical', 'physical') AND created_at <= ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		instanceID, t.UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find base artifact: %w", err)
	}
	return &artifact, nil
}

func (r *ArtifactRepository) FindBinlogBetween(ctx context.Context, instanceID int64, from, to time.Time) ([]*domain.Artifact, error) {
	artifacts := []*domain.Artifact{}
	err := r.db.SelectContext(ctx, &artifacts, `
		SELECT * FROM artifact
		WHERE instance_id = ? AND kind = 'binlog' AND created_at > ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`,
		instanceID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find binlog artifacts: %w", err)
	}
	return artifacts, nil
}
