package service

import (
	"context"
	"fmt"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// LedgerService is the single writer of job state. Everything that wants a
// job recorded, started, finished or cancelled goes through here; the
// subprocess layer never touches the database.
type LedgerService struct {
	jobs repository.JobRepository
	log  *logger.Logger
}

func NewLedgerService(jobs repository.JobRepository, log *logger.Logger) *LedgerService {
	return &LedgerService{jobs: jobs, log: log}
}

// Admit appends a pending job for (instance, kind). A non-terminal job
// already holding the slot surfaces as *domain.ConflictError.
func (s *LedgerService) Admit(ctx context.Context, instanceID int64, kind domain.BackupKind, policyID *int64) (*domain.Job, error) {
	job := domain.NewJob(instanceID, kind, policyID)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.log.Infow("job admitted", "job_id", job.ID, "instance_id", instanceID, "kind", kind)
	return job, nil
}

// MarkStarted records the transition to running with the subprocess pid.
func (s *LedgerService) MarkStarted(ctx context.Context, jobID int64, pid int) error {
	return s.jobs.Transition(ctx, jobID, domain.JobPending, domain.JobRunning,
		repository.TransitionUpdate{PID: &pid})
}

// MarkSucceeded finalizes a running job as succeeded.
func (s *LedgerService) MarkSucceeded(ctx context.Context, jobID int64, exitCode int) error {
	err := s.jobs.Transition(ctx, jobID, domain.JobRunning, domain.JobSucceeded,
		repository.TransitionUpdate{ExitCode: &exitCode})
	if err != nil {
		return err
	}
	s.log.Infow("job succeeded", "job_id", jobID)
	return nil
}

// MarkFailed finalizes a job as failed from whatever non-terminal state it
// is in, recording the failure detail.
func (s *LedgerService) MarkFailed(ctx context.Context, jobID int64, detail string, exitCode *int) error {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return &domain.InvalidTransitionError{JobID: jobID, From: job.State, To: domain.JobFailed}
	}

	err = s.jobs.Transition(ctx, jobID, job.State, domain.JobFailed,
		repository.TransitionUpdate{Detail: &detail, ExitCode: exitCode})
	if err != nil {
		return err
	}
	s.log.Warnw("job failed", "job_id", jobID, "detail", detail)
	return nil
}

// RequestCancel moves a running job to cancelling. The executor observes
// the state and finalizes to cancelled once the process is gone.
func (s *LedgerService) RequestCancel(ctx context.Context, jobID int64) error {
	return s.jobs.Transition(ctx, jobID, domain.JobRunning, domain.JobCancelling,
		repository.TransitionUpdate{})
}

// MarkCancelled finalizes a cancelling job after its process has exited.
// The detail records what triggered the cancellation when it was not an
// operator request.
func (s *LedgerService) MarkCancelled(ctx context.Context, jobID int64, exitCode *int, detail *string) error {
	err := s.jobs.Transition(ctx, jobID, domain.JobCancelling, domain.JobCancelled,
		repository.TransitionUpdate{ExitCode: exitCode, Detail: detail})
	if err != nil {
		return err
	}
	s.log.Infow("job cancelled", "job_id", jobID)
	return nil
}

// RecoverOrphans fails every non-terminal job found at startup. Their
// processes did not survive the restart, so the records cannot be resumed.
// Freed slots become admissible again immediately.
func (s *LedgerService) RecoverOrphans(ctx context.Context) (int, error) {
	orphans, err := s.jobs.FindAllNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for orphaned jobs: %w", err)
	}

	detail := "orphaned by restart"
	recovered := 0
	for _, job := range orphans {
		err := s.jobs.Transition(ctx, job.ID, job.State, domain.JobFailed,
			repository.TransitionUpdate{Detail: &detail})
		if err != nil {
			return recovered, fmt.Errorf("failed to recover job %d: %w", job.ID, err)
		}
		s.log.Warnw("orphaned job failed on recovery", "job_id", job.ID, "kind", job.Kind, "was", job.State)
		recovered++
	}
	return recovered, nil
}

func (s *LedgerService) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	return s.jobs.FindByID(ctx, jobID)
}

func (s *LedgerService) List(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, int, error) {
	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.jobs.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}
