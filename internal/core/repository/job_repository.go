package repository

import (
	"context"
	"time"

	"github.com/pverhoef/dbvault/internal/api/util"
	"github.com/pverhoef/dbvault/internal/core/domain"
)

// JobFilter embeds ListFilter for generic query/order/pagination
type JobFilter struct {
	util.ListFilter
}

// TransitionUpdate carries the optional fields persisted together with a
// state transition.
type TransitionUpdate struct {
	Detail   *string
	PID      *int
	ExitCode *int
}

// JobRepository is the persistence half of the job ledger. Create and
// Transition enforce the ledger invariants at the store, so they hold across
// concurrent writers and process restarts.
type JobRepository interface {
	// Create inserts a pending job. Returns *domain.ConflictError when a
	// non-terminal job already exists for (instance, kind).
	Create(ctx context.Context, job *domain.Job) error

	// Transition performs a guarded state change: the row is updated only if
	// its current state equals from. Returns *domain.InvalidTransitionError
	// when the guard fails.
	Transition(ctx context.Context, jobID int64, from, to domain.JobState, update TransitionUpdate) error

	FindByID(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	Count(ctx context.Context, filter JobFilter) (int, error)
	ListByInstance(ctx context.Context, instanceID int64, limit int) ([]*domain.Job, error)

	// FindNonTerminal returns the in-flight job for (instance, kind), nil if none
	FindNonTerminal(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Job, error)

	// FindAllNonTerminal returns every in-flight job (startup recovery)
	FindAllNonTerminal(ctx context.Context) ([]*domain.Job, error)

	// LastSuccess returns the end time of the most recent succeeded job for
	// (instance, kind), nil if there has never been one
	LastSuccess(ctx context.Context, instanceID int64, kind domain.BackupKind) (*time.Time, error)
}
