package domain

import "testing"

func TestJobStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    JobState
		to      JobState
		allowed bool
	}{
		{"pending to running", JobPending, JobRunning, true},
		{"pending to failed", JobPending, JobFailed, true},
		{"pending to succeeded", JobPending, JobSucceeded, false},
		{"pending to cancelling", JobPending, JobCancelling, false},
		{"running to succeeded", JobRunning, JobSucceeded, true},
		{"running to failed", JobRunning, JobFailed, true},
		{"running to cancelling", JobRunning, JobCancelling, true},
		{"running to cancelled", JobRunning, JobCancelled, false},
		{"running to pending", JobRunning, JobPending, false},
		{"cancelling to cancelled", JobCancelling, JobCancelled, true},
		{"cancelling to failed", JobCancelling, JobFailed, true},
		{"cancelling to succeeded", JobCancelling, JobSucceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []JobState{JobPending, JobRunning, JobCancelling, JobSucceeded, JobFailed, JobCancelled}

	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if from.CanTransition(to) {
				t.Errorf("terminal state %s allows transition to %s", from, to)
			}
		}
	}
}

func TestNewJobStartsPending(t *testing.T) {
	job := NewJob(1, KindLogical, nil)
	if job.State != JobPending {
		t.Errorf("new job state = %s, want %s", job.State, JobPending)
	}
	if job.State.Terminal() {
		t.Error("new job must not be terminal")
	}
}
