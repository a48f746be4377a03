package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

func (e *testEnv) cleanup() *CleanupService {
	return NewCleanupService(e.cfg, e.artifacts, e.policies, e.store, e.log)
}

func (e *testEnv) addArtifact(t *testing.T, instanceID, jobID int64, kind domain.BackupKind, key string, createdAt time.Time, expiresAt *time.Time) *domain.Artifact {
	t.Helper()
	ctx := context.Background()
	size, err := e.store.Save(ctx, key, strings.NewReader("artifact-bytes"))
	require.NoError(t, err)

	artifact := &domain.Artifact{
		InstanceID: instanceID,
		JobID:      &jobID,
		Kind:       kind,
		Path:       key,
		Size:       size,
		ExpiresAt:  expiresAt,
		CreatedAt:  createdAt,
	}
	require.NoError(t, e.artifacts.Create(ctx, artifact))
	return artifact
}

func TestSweepRemovesExpired(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	old := env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/old.sql", now.AddDate(0, 0, -3), &past)
	mid := env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/mid.sql", now.AddDate(0, 0, -2), &past)
	newest := env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/new.sql", now.AddDate(0, 0, -1), &past)

	removed, err := env.cleanup().Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	for _, id := range []int64{old.ID, mid.ID} {
		_, err := env.artifacts.FindByID(ctx, id)
		require.True(t, errors.Is(err, domain.ErrNotFound), "expired artifact %d should be gone", id)
	}
	_, err = env.store.Open(ctx, old.Path)
	require.Error(t, err, "expired artifact bytes should be gone")

	// The newest artifact is the last restore path; expiry never takes it
	kept, err := env.artifacts.FindByID(ctx, newest.ID)
	require.NoError(t, err)
	require.Equal(t, newest.Path, kept.Path)
	rc, err := env.store.Open(ctx, newest.Path)
	require.NoError(t, err)
	rc.Close()
}

func TestSweepByRetentionCount(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	ctx := context.Background()

	policy := domain.NewPolicy(instance.ID, domain.KindLogical, "0 3 * * *")
	keep := 1
	policy.RetentionCount = &keep
	require.NoError(t, env.policies.Create(ctx, policy))

	now := time.Now().UTC()
	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/a.sql", now.AddDate(0, 0, -3), nil)
	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/b.sql", now.AddDate(0, 0, -2), nil)
	newest := env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/c.sql", now.AddDate(0, 0, -1), nil)

	removed, err := env.cleanup().Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	latest, err := env.artifacts.FindLatest(ctx, instance.ID, domain.KindLogical)
	require.NoError(t, err)
	require.Equal(t, newest.ID, latest.ID)
}

func TestSweepIgnoresOtherKinds(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	ctx := context.Background()

	policy := domain.NewPolicy(instance.ID, domain.KindLogical, "0 3 * * *")
	keep := 1
	policy.RetentionCount = &keep
	require.NoError(t, env.policies.Create(ctx, policy))

	now := time.Now().UTC()
	env.addArtifact(t, instance.ID, job.ID, domain.KindBinlog, "primary/binlog/bin.000001", now.AddDate(0, 0, -3), nil)
	env.addArtifact(t, instance.ID, job.ID, domain.KindBinlog, "primary/binlog/bin.000002", now.AddDate(0, 0, -2), nil)

	removed, err := env.cleanup().Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, removed, "a logical retention policy must not touch binlog artifacts")
}
