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

type InstanceRepository struct {
	db *DB
}

func NewInstanceRepository(db *DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) Create(ctx context.Context, instance *domain.Instance) error {
	now := time.Now().UTC()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO instance (name, host, port, role, credentials_file, active, server_version, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.Name, instance.Host, instance.Port, instance.Role, instance.CredentialsFile,
		instance.Active, NullString(instance.ServerVersion), NullTime(instance.LastSeenAt),
		instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get instance id: %w", err)
	}
	instance.ID = id
	return nil
}

func (r *InstanceRepository) FindByID(ctx context.Context, id int64) (*domain.Instance, error) {
	var instance domain.Instance
	err := r.db.GetContext(ctx, &instance, `SELECT * FROM instance WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance: %w", err)
	}
	return &instance, nil
}

func (r *InstanceRepository) FindByName(ctx context.Context, name string) (*domain.Instance, error) {
	var instance domain.Instance
	err := r.db.GetContext(ctx, &instance, `SELECT * FROM instance WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instance: %w", err)
	}
	return &instance, nil
}

func (r *InstanceRepository) Update(ctx context.Context, instance *domain.Instance) error {
	instance.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE instance
		SET name = ?, host = ?, port = ?, role = ?, credentials_file = ?, active = ?,
		    server_version = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?`,
		instance.Name, instance.Host, instance.Port, instance.Role, instance.CredentialsFile,
		instance.Active, NullString(instance.ServerVersion), NullTime(instance.LastSeenAt),
		instance.UpdatedAt, instance.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
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

func (r *InstanceRepository) Deactivate(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE instance SET active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate instance: %w", err)
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

func (r *InstanceRepository) List(ctx context.Context, filter repository.InstanceFilter) ([]*domain.Instance, error) {
	query := `SELECT * FROM instance WHERE 1=1`
	args := []interface{}{}

	if filter.Role != nil {
		query += " AND role = ?"
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		query += " AND active = ?"
		args = append(args, *filter.Active)
	}

	query += " ORDER BY name ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	instances := []*domain.Instance{}
	if err := r.db.SelectContext(ctx, &instances, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

func (r *InstanceRepository) Count(ctx context.Context, filter repository.InstanceFilter) (int, error) {
	query := `SELECT COUNT(*) FROM instance WHERE 1=1`
	args := []interface{}{}

	if filter.Role != nil {
		query += " AND role = ?"
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		query += " AND active = ?"
		args = append(args, *filter.Active)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

func (r *InstanceRepository) FindActiveSources(ctx context.Context) ([]*domain.Instance, error) {
	instances := []*domain.Instance{}
	err := r.db.SelectContext(ctx, &instances, `
		SELECT * FROM instance WHERE active = 1 AND role = ? ORDER BY name ASC`,
		domain.RoleSource,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find active sources: %w", err)
	}
	return instances, nil
}
