package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
)

type PolicyRepository struct {
	db *DB
}

func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

func (r *PolicyRepository) Create(ctx context.Context, policy *domain.Policy) error {
	now := time.Now().UTC()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO policy (instance_id, kind, schedule, retention_count, retention_days, max_duration_sec, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policy.InstanceID, policy.Kind, policy.Schedule,
		NullInt(policy.RetentionCount), NullInt(policy.RetentionDays), NullInt64(policy.MaxDurationSec),
		policy.Enabled, policy.CreatedAt, policy.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("an enabled %s policy already exists for instance %d: %w",
				policy.Kind, policy.InstanceID, err)
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get policy id: %w", err)
	}
	policy.ID = id
	return nil
}

func (r *PolicyRepository) FindByID(ctx context.Context, id int64) (*domain.Policy, error) {
	var policy domain.Policy
	err := r.db.GetContext(ctx, &policy, `SELECT * FROM policy WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find policy: %w", err)
	}
	return &policy, nil
}

func (r *PolicyRepository) Update(ctx context.Context, policy *domain.Policy) error {
	policy.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE policy
		SET schedule = ?, retention_count = ?, retention_days = ?, max_duration_sec = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		policy.Schedule, NullInt(policy.RetentionCount), NullInt(policy.RetentionDays),
		NullInt64(policy.MaxDurationSec), policy.Enabled, policy.UpdatedAt, policy.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("an enabled %s policy already exists for instance %d: %w",
				policy.Kind, policy.InstanceID, err)
		}
		return fmt.Errorf("failed to update policy: %w", err)
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

func (r *PolicyRepository) List(ctx context.Context, filter repository.PolicyFilter) ([]*domain.Policy, error) {
	query := `SELECT * FROM policy WHERE 1=1`
	args := []interface{}{}

	if filter.InstanceID != nil {
		query += " AND instance_id = ?"
		args = append(args, *filter.InstanceID)
	}
	if filter.Kind != nil {
		query += " AND kind = ?"
		args = append(args, *filter.Kind)
	}
	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}

	query += " ORDER BY instance_id ASC, kind ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	policies := []*domain.Policy{}
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

func (r *PolicyRepository) Count(ctx context.Context, filter repository.PolicyFilter) (int, error) {
	query := `SELECT COUNT(*) FROM policy WHERE 1=1`
	args := []interface{}{}

	if filter.InstanceID != nil {
		query += " AND instance_id = ?"
		args = append(args, *filter.InstanceID)
	}
	if filter.Kind != nil {
		query += " AND kind = ?"
		args = append(args, *filter.Kind)
	}
	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count policies: %w", err)
	}
	return count, nil
}

func (r *PolicyRepository) FindActive(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Policy, error) {
	var policy domain.Policy
	err := r.db.GetContext(ctx, &policy, `
		SELECT * FROM policy WHERE instance_id = ? AND kind = ? AND enabled = 1`,
		instanceID, kind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active policy: %w", err)
	}
	return &policy, nil
}

func (r *PolicyRepository) FindAllEnabled(ctx context.Context) ([]*domain.Policy, error) {
	policies := []*domain.Policy{}
	err := r.db.SelectContext(ctx, &policies, `
		SELECT p.* FROM policy p
		JOIN instance i ON i.id = p.instance_id
		WHERE p.enabled = 1 AND i.active = 1
		ORDER BY p.instance_id ASC, p.kind ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find enabled policies: %w", err)
	}
	return policies, nil
}
