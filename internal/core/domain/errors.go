package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// ConflictError signals that a job slot for (instance, kind) is already
// occupied by a non-terminal job. Callers skip, they do not retry.
type ConflictError struct {
	InstanceID int64
	Kind       BackupKind
	JobID      int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %d for instance %d kind %s is still in flight", e.JobID, e.InstanceID, e.Kind)
}

// InvalidTransitionError signals a non-monotonic job state transition.
// This is a state-corruption signal and must never be swallowed.
type InvalidTransitionError struct {
	JobID int64
	From  JobState
	To    JobState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %d: %s -> %s", e.JobID, e.From, e.To)
}

// ProcessFailure records a non-zero exit from an external tool.
type ProcessFailure struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ProcessFailure) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// NoEligibleArtifactError is returned when no artifact satisfies a restore
// target.
type NoEligibleArtifactError struct {
	InstanceID int64
	Target     time.Time
	Reason     string
}

func (e *NoEligibleArtifactError) Error() string {
	return fmt.Sprintf("no eligible artifact for instance %d at %s: %s",
		e.InstanceID, e.Target.Format(time.RFC3339), e.Reason)
}

// StagingError is returned when a restore destination is unreachable or lacks
// capacity. It is raised before any external tool is invoked.
type StagingError struct {
	Destination string
	Reason      string
	Err         error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("cannot stage restore to %s: %s", e.Destination, e.Reason)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}
