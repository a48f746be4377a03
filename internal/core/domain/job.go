package domain

import "time"

type JobState string

const (
	JobPending    JobState = "pending"
	JobRunning    JobState = "running"
	JobCancelling JobState = "cancelling"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// jobTransitions is the full transition relation. Terminal states have no
// outgoing edges, which makes terminal records immutable by construction.
var jobTransitions = map[JobState][]JobState{
	JobPending:    {JobRunning, JobFailed},
	JobRunning:    {JobSucceeded, JobFailed, JobCancelling},
	JobCancelling: {JobCancelled, JobFailed},
}

func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

func (s JobState) CanTransition(to JobState) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// NonTerminalStates is used by the ledger's conflict check.
var NonTerminalStates = []JobState{JobPending, JobRunning, JobCancelling}

// Job is one tracked execution attempt (backup or restore) against an
// instance. Created by the scheduler in Pending, mutated only through the
// ledger, immutable once terminal.
type Job struct {
	ID         int64      `db:"id"`
	InstanceID int64      `db:"instance_id"`
	PolicyID   *int64     `db:"policy_id"`
	Kind       BackupKind `db:"kind"`
	State      JobState   `db:"state"`
	PID        *int       `db:"pid"`
	ExitCode   *int       `db:"exit_code"`
	Detail     *string    `db:"detail"` // human-readable failure detail
	CreatedAt  time.Time  `db:"created_at"`
	StartedAt  *time.Time `db:"started_at"`
	EndedAt    *time.Time `db:"ended_at"`
}

func NewJob(instanceID int64, kind BackupKind, policyID *int64) *Job {
	return &Job{
		InstanceID: instanceID,
		PolicyID:   policyID,
		Kind:       kind,
		State:      JobPending,
		CreatedAt:  time.Now(),
	}
}
