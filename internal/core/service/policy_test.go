package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
)

func (e *testEnv) addPolicy(t *testing.T, instanceID int64, kind domain.BackupKind, schedule string) *domain.Policy {
	t.Helper()
	policy := domain.NewPolicy(instanceID, kind, schedule)
	require.NoError(t, e.policies.Create(context.Background(), policy))
	return policy
}

// backdatePolicy rewrites created_at so the policy has runs in the past.
func (e *testEnv) backdatePolicy(t *testing.T, policyID int64, to time.Time) {
	t.Helper()
	_, err := e.db.ExecContext(context.Background(),
		`UPDATE policy SET created_at = ? WHERE id = ?`, to.UTC(), policyID)
	require.NoError(t, err)
}

func (e *testEnv) completeJob(t *testing.T, instanceID int64, kind domain.BackupKind) *domain.Job {
	t.Helper()
	ctx := context.Background()
	job, err := e.ledger.Admit(ctx, instanceID, kind, nil)
	require.NoError(t, err)
	require.NoError(t, e.ledger.MarkStarted(ctx, job.ID, 1))
	require.NoError(t, e.ledger.MarkSucceeded(ctx, job.ID, 0))
	return job
}

func TestListDue(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	now := time.Now().UTC()

	fresh := env.addPolicy(t, instance.ID, domain.KindLogical, "0 3 * * *")

	// Created moments ago, so the first scheduled run is still ahead
	due, err := env.policySvc.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, due)

	// Two days old with no success yet: overdue
	env.backdatePolicy(t, fresh.ID, now.AddDate(0, 0, -2))
	due, err = env.policySvc.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, fresh.ID, due[0].Policy.ID)
	require.True(t, due[0].DueAt.Before(now) || due[0].DueAt.Equal(now))
}

func TestListDueAnchorsOnLastSuccess(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	now := time.Now().UTC()

	policy := env.addPolicy(t, instance.ID, domain.KindLogical, "0 3 * * *")
	env.backdatePolicy(t, policy.ID, now.AddDate(0, 0, -7))

	// A success just now pushes the next run past the current time
	env.completeJob(t, instance.ID, domain.KindLogical)

	due, err := env.policySvc.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, due, "a freshly satisfied policy must not be due")
}

func TestListDueSkipsBinlogPolicies(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	now := time.Now().UTC()

	binlog := env.addPolicy(t, instance.ID, domain.KindBinlog, "")
	env.backdatePolicy(t, binlog.ID, now.AddDate(0, 0, -30))

	due, err := env.policySvc.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestListDueMostOverdueFirst(t *testing.T) {
	env := newTestEnv(t)
	a := env.addInstance(t, "a")
	b := env.addInstance(t, "b")
	now := time.Now().UTC()

	slightly := env.addPolicy(t, a.ID, domain.KindLogical, "0 3 * * *")
	env.backdatePolicy(t, slightly.ID, now.AddDate(0, 0, -2))
	very := env.addPolicy(t, b.ID, domain.KindLogical, "0 3 * * *")
	env.backdatePolicy(t, very.ID, now.AddDate(0, 0, -10))

	due, err := env.policySvc.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, very.ID, due[0].Policy.ID)
	require.Equal(t, slightly.ID, due[1].Policy.ID)
}

func TestListDueStalestAnchorFirst(t *testing.T) {
	env := newTestEnv(t)
	a := env.addInstance(t, "a")
	b := env.addInstance(t, "b")
	now := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)

	// Both anchors sit inside the same hourly window, so each policy is
	// due at 11:00 sharp; the lower id deliberately has the fresher anchor
	fresher := env.addPolicy(t, a.ID, domain.KindLogical, "0 * * * *")
	env.backdatePolicy(t, fresher.ID, time.Date(2026, 8, 25, 10, 45, 0, 0, time.UTC))
	staler := env.addPolicy(t, b.ID, domain.KindLogical, "0 * * * *")
	env.backdatePolicy(t, staler.ID, time.Date(2026, 8, 25, 10, 15, 0, 0, time.UTC))

	due, err := env.policySvc.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.True(t, due[0].DueAt.Equal(due[1].DueAt), "the scenario needs identical due instants")
	require.Equal(t, staler.ID, due[0].Policy.ID)
	require.Equal(t, fresher.ID, due[1].Policy.ID)
}

func TestPolicyCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	ctx := context.Background()

	err := env.policySvc.Create(ctx, domain.NewPolicy(instance.ID, domain.KindLogical, "bogus"))
	require.Error(t, err)

	err = env.policySvc.Create(ctx, domain.NewPolicy(9999, domain.KindLogical, "0 3 * * *"))
	require.ErrorContains(t, err, "does not exist")

	err = env.policySvc.Create(ctx, domain.NewPolicy(instance.ID, domain.KindRestore, "0 3 * * *"))
	require.Error(t, err, "restore is not a schedulable kind")
}

func TestOneEnabledPolicyPerSlot(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	ctx := context.Background()

	first := domain.NewPolicy(instance.ID, domain.KindLogical, "0 3 * * *")
	require.NoError(t, env.policySvc.Create(ctx, first))

	err := env.policySvc.Create(ctx, domain.NewPolicy(instance.ID, domain.KindLogical, "0 4 * * *"))
	require.Error(t, err, "second enabled policy for the same slot must be rejected")

	// Disabling the first frees the slot
	require.NoError(t, env.policySvc.Disable(ctx, first.ID))
	require.NoError(t, env.policySvc.Create(ctx, domain.NewPolicy(instance.ID, domain.KindLogical, "0 4 * * *")))

	enabled := true
	policies, err := env.policies.List(ctx, repository.PolicyFilter{Enabled: &enabled})
	require.NoError(t, err)
	require.Len(t, policies, 1)
}
