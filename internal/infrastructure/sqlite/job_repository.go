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

// jobFilterFields are the columns exposed to the list filter grammar
var jobFilterFields = []string{
	"id", "instance_id", "policy_id", "kind", "state", "pid", "exit_code",
	"created_at", "started_at", "ended_at",
}

// JobFilterFields returns the filterable job columns for handler validation
func JobFilterFields() []string {
	return jobFilterFields
}

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create appends a job to the ledger. At most one non-terminal job may
// exist per (instance, kind); a second admission returns ConflictError
// carrying the id of the occupying job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	job.CreatedAt = time.Now().UTC()
	job.State = domain.JobPending

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var occupying int64
	err = tx.GetContext(ctx, &occupying, `
		SELECT id FROM job
		WHERE instance_id = ? AND kind = ? AND state IN ('pending', 'running', 'cancelling')`,
		job.InstanceID, job.Kind,
	)
	if err == nil {
		return &domain.ConflictError{
			InstanceID: job.InstanceID,
			Kind:       job.Kind,
			JobID:      occupying,
		}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check job slot: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO job (instance_id, policy_id, kind, state, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.InstanceID, NullInt64(job.PolicyID), job.Kind, job.State, job.CreatedAt,
	)
	if err != nil {
		// The partial unique index backstops the pre-check under races
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &domain.ConflictError{InstanceID: job.InstanceID, Kind: job.Kind}
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get job id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}

	job.ID = id
	return nil
}

// Transition moves a job from one state to another. The update is guarded
// on the expected current state; a guard miss returns InvalidTransitionError
// with the state actually found. Terminal states have no outgoing edges.
func (r *JobRepository) Transition(ctx context.Context, jobID int64, from, to domain.JobState, update repository.TransitionUpdate) error {
	if !from.CanTransition(to) {
		return &domain.InvalidTransitionError{JobID: jobID, From: from, To: to}
	}

	now := time.Now().UTC()
	query := `UPDATE job SET state = ?`
	args := []interface{}{to}

	if to == domain.JobRunning {
		query += `, started_at = ?`
		args = append(args, now)
	}
	if to.Terminal() {
		query += `, ended_at = ?`
		args = append(args, now)
	}
	if update.Detail != nil {
		query += `, detail = ?`
		args = append(args, *update.Detail)
	}
	if update.PID != nil {
		query += `, pid = ?`
		args = append(args, *update.PID)
	}
	if update.ExitCode != nil {
		query += `, exit_code = ?`
		args = append(args, *update.ExitCode)
	}

	query += ` WHERE id = ? AND state = ?`
	args = append(args, jobID, from)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		current, err := r.FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		return &domain.InvalidTransitionError{JobID: jobID, From: current.State, To: to}
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id int64) (*domain.Job, error) {
	var job domain.Job
	err := r.db.GetContext(ctx, &job, `SELECT * FROM job WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) List(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, error) {
	query := `SELECT * FROM job WHERE 1=1`
	args := []interface{}{}

	query, args = ApplyFilters(query, args, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "created_at DESC, id DESC")
	query, args = ApplyPagination(query, args, filter.Page, filter.PerPage)

	jobs := []*domain.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) Count(ctx context.Context, filter repository.JobFilter) (int, error) {
	query := `SELECT COUNT(*) FROM job WHERE 1=1`
	args := []interface{}{}

	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func (r *JobRepository) ListByInstance(ctx context.Context, instanceID int64, limit int) ([]*domain.Job, error) {
	query := `SELECT * FROM job WHERE instance_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{instanceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	jobs := []*domain.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) FindNonTerminal(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Job, error) {
	var job domain.Job
	err := r.db.GetContext(ctx, &job, `
		SELECT * FROM job
		WHERE instance_id = ? AND kind = ? AND state IN ('pending', 'running', 'cancelling')`,
		instanceID, kind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find non-terminal job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) FindAllNonTerminal(ctx context.Context) ([]*domain.Job, error) {
	jobs := []*domain.Job{}
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM job
		WHERE state IN ('pending', 'running', 'cancelling')
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find non-terminal jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepository) LastSuccess(ctx context.Context, instanceID int64, kind domain.BackupKind) (*time.Time, error) {
	var ended sql.NullTime
	err := r.db.GetContext(ctx, &ended, `
		SELECT ended_at FROM job
		WHERE instance_id = ? AND kind = ? AND state = 'succeeded'
		ORDER BY ended_at DESC LIMIT 1`,
		instanceID, kind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last success: %w", err)
	}
	if !ended.Valid {
		return nil, nil
	}
	t := ended.Time.UTC()
	return &t, nil
}
