package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedInstance(t *testing.T, db *DB, name string) int64 {
	t.Helper()
	repo := NewInstanceRepository(db)
	instance := domain.NewInstance(name, "localhost", 3306, domain.RoleSource, "/tmp/creds.cnf")
	if err := repo.Create(context.Background(), instance); err != nil {
		t.Fatalf("failed to seed instance: %v", err)
	}
	return instance.ID
}

func TestJobCreateConflict(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	instanceID := seedInstance(t, db, "primary")

	first := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("first create: %v", err)
	}

	second := domain.NewJob(instanceID, domain.KindLogical, nil)
	err := repo.Create(ctx, second)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second create error = %v, want ConflictError", err)
	}
	if conflict.JobID != first.ID {
		t.Errorf("conflict holder = %d, want %d", conflict.JobID, first.ID)
	}

	// A different kind on the same instance is its own slot
	other := domain.NewJob(instanceID, domain.KindPhysical, nil)
	if err := repo.Create(ctx, other); err != nil {
		t.Errorf("different kind should not conflict: %v", err)
	}
}

func TestJobSlotFreesOnTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	instanceID := seedInstance(t, db, "primary")

	first := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Transition(ctx, first.ID, domain.JobPending, domain.JobRunning, repository.TransitionUpdate{}); err != nil {
		t.Fatalf("to running: %v", err)
	}
	exitCode := 0
	if err := repo.Transition(ctx, first.ID, domain.JobRunning, domain.JobSucceeded, repository.TransitionUpdate{ExitCode: &exitCode}); err != nil {
		t.Fatalf("to succeeded: %v", err)
	}

	second := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, second); err != nil {
		t.Errorf("slot should be free after terminal state: %v", err)
	}
}

func TestTransitionGuard(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	instanceID := seedInstance(t, db, "primary")

	job := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Guard expects running but the job is pending
	err := repo.Transition(ctx, job.ID, domain.JobRunning, domain.JobSucceeded, repository.TransitionUpdate{})
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	if invalid.From != domain.JobPending {
		t.Errorf("From = %s, want the state actually found (pending)", invalid.From)
	}

	current, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if current.State != domain.JobPending {
		t.Errorf("guard miss must not change state, got %s", current.State)
	}
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	instanceID := seedInstance(t, db, "primary")

	job := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	detail := "broke"
	if err := repo.Transition(ctx, job.ID, domain.JobPending, domain.JobFailed, repository.TransitionUpdate{Detail: &detail}); err != nil {
		t.Fatalf("to failed: %v", err)
	}

	for _, to := range []domain.JobState{domain.JobRunning, domain.JobSucceeded, domain.JobCancelled, domain.JobPending} {
		err := repo.Transition(ctx, job.ID, domain.JobFailed, to, repository.TransitionUpdate{})
		var invalid *domain.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Errorf("failed -> %s error = %v, want InvalidTransitionError", to, err)
		}
	}
}

func TestTransitionRecordsTimestamps(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	instanceID := seedInstance(t, db, "primary")

	job := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	pid := 4242
	if err := repo.Transition(ctx, job.ID, domain.JobPending, domain.JobRunning, repository.TransitionUpdate{PID: &pid}); err != nil {
		t.Fatalf("to running: %v", err)
	}
	running, _ := repo.FindByID(ctx, job.ID)
	if running.StartedAt == nil {
		t.Error("started_at not set on running")
	}
	if running.PID == nil || *running.PID != pid {
		t.Errorf("pid = %v, want %d", running.PID, pid)
	}

	exitCode := 0
	if err := repo.Transition(ctx, job.ID, domain.JobRunning, domain.JobSucceeded, repository.TransitionUpdate{ExitCode: &exitCode}); err != nil {
		t.Fatalf("to succeeded: %v", err)
	}
	done, _ := repo.FindByID(ctx, job.ID)
	if done.EndedAt == nil {
		t.Error("ended_at not set on terminal state")
	}
}

func TestLastSuccess(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	instanceID := seedInstance(t, db, "primary")

	last, err := repo.LastSuccess(ctx, instanceID, domain.KindLogical)
	if err != nil {
		t.Fatalf("LastSuccess: %v", err)
	}
	if last != nil {
		t.Errorf("LastSuccess with no history = %v, want nil", last)
	}

	job := domain.NewJob(instanceID, domain.KindLogical, nil)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Transition(ctx, job.ID, domain.JobPending, domain.JobRunning, repository.TransitionUpdate{}); err != nil {
		t.Fatalf("to running: %v", err)
	}
	exitCode := 0
	if err := repo.Transition(ctx, job.ID, domain.JobRunning, domain.JobSucceeded, repository.TransitionUpdate{ExitCode: &exitCode}); err != nil {
		t.Fatalf("to succeeded: %v", err)
	}

	last, err = repo.LastSuccess(ctx, instanceID, domain.KindLogical)
	if err != nil {
		t.Fatalf("LastSuccess: %v", err)
	}
	if last == nil {
		t.Fatal("LastSuccess = nil after a success")
	}
	if time.Since(*last) > time.Minute {
		t.Errorf("LastSuccess = %v, want recent", *last)
	}
}

func TestFindAllNonTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	a := seedInstance(t, db, "a")
	b := seedInstance(t, db, "b")

	jobA := domain.NewJob(a, domain.KindLogical, nil)
	if err := repo.Create(ctx, jobA); err != nil {
		t.Fatalf("create a: %v", err)
	}
	jobB := domain.NewJob(b, domain.KindPhysical, nil)
	if err := repo.Create(ctx, jobB); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if err := repo.Transition(ctx, jobB.ID, domain.JobPending, domain.JobRunning, repository.TransitionUpdate{}); err != nil {
		t.Fatalf("to running: %v", err)
	}

	open, err := repo.FindAllNonTerminal(ctx)
	if err != nil {
		t.Fatalf("FindAllNonTerminal: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("non-terminal count = %d, want 2", len(open))
	}
}
