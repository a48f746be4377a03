package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pverhoef/dbvault/internal/builder"
	"github.com/pverhoef/dbvault/internal/core/domain"
)

func (e *testEnv) restorer(t *testing.T, bld *fakeBuilder) *RestoreService {
	t.Helper()
	s := NewRestoreService(e.cfg, e.ledger, e.instances, e.artifacts, e.run, e.store, e.log)
	s.newBuilder = func(dbType, version string) (builder.Builder, error) { return bld, nil }
	return s
}

func TestPlanSelectsNewestBase(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	s := env.restorer(t, &fakeBuilder{})
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC)
	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/old.sql", base, nil)
	want := env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/new.sql", base.AddDate(0, 0, 1), nil)
	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/future.sql", base.AddDate(0, 0, 5), nil)

	target := base.AddDate(0, 0, 2)
	plan, err := s.Plan(ctx, instance.ID, target)
	require.NoError(t, err)
	require.Equal(t, want.ID, plan.Base.ID)
	require.Empty(t, plan.Binlogs)
	require.Empty(t, plan.Truncated)
	require.Equal(t, want.Size, plan.RequiredBytes)

	// Same ledger, same answer
	again, err := s.Plan(ctx, instance.ID, target)
	require.NoError(t, err)
	require.Equal(t, plan.Base.ID, again.Base.ID)
}

func TestPlanNoEligibleBase(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.restorer(t, &fakeBuilder{})

	_, err := s.Plan(context.Background(), instance.ID, time.Now().UTC())
	var noBase *domain.NoEligibleArtifactError
	require.True(t, errors.As(err, &noBase), "error = %v, want NoEligibleArtifactError", err)
}

func TestPlanIncludesBinlogChain(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	s := env.restorer(t, &fakeBuilder{})

	at := time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC)
	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/base.sql", at, nil)
	env.addArtifact(t, instance.ID, job.ID, domain.KindBinlog, "primary/binlog/bin.000005", at.Add(time.Hour), nil)
	env.addArtifact(t, instance.ID, job.ID, domain.KindBinlog, "primary/binlog/bin.000006", at.Add(2*time.Hour), nil)
	// bin.000007 never made it; 000008 is unreachable evidence
	env.addArtifact(t, instance.ID, job.ID, domain.KindBinlog, "primary/binlog/bin.000008", at.Add(3*time.Hour), nil)

	plan, err := s.Plan(context.Background(), instance.ID, at.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, plan.Binlogs, 2)
	require.Equal(t, "primary/binlog/bin.000006", plan.Binlogs[1].Path)
	require.Contains(t, plan.Truncated, "gap")
}

func TestContiguousChain(t *testing.T) {
	mk := func(paths ...string) []*domain.Artifact {
		out := make([]*domain.Artifact, len(paths))
		for i, p := range paths {
			out[i] = &domain.Artifact{Path: p}
		}
		return out
	}

	chain, truncated := contiguousChain(mk("b/bin.000001", "b/bin.000002", "b/bin.000003"))
	require.Len(t, chain, 3)
	require.Empty(t, truncated)

	chain, truncated = contiguousChain(mk("b/bin.000001", "b/bin.000003"))
	require.Len(t, chain, 1)
	require.Contains(t, truncated, "gap")

	chain, truncated = contiguousChain(mk("b/bin.000001", "b/notabinlog"))
	require.Len(t, chain, 1)
	require.Contains(t, truncated, "unparsable")

	chain, truncated = contiguousChain(mk("b/bin.000009"))
	require.Len(t, chain, 1)
	require.Empty(t, truncated)
}

func TestCheckCapacity(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, checkCapacity(dir, 1))

	err := checkCapacity(dir, 1<<62)
	var staging *domain.StagingError
	require.True(t, errors.As(err, &staging), "error = %v, want StagingError", err)
}

func TestTriggerPhysicalRequiresDataDir(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindPhysical)
	s := env.restorer(t, &fakeBuilder{})

	env.addArtifact(t, instance.ID, job.ID, domain.KindPhysical, "primary/physical/x", time.Now().UTC().Add(-time.Hour), nil)

	_, err := s.Trigger(context.Background(), RestoreRequest{
		InstanceID: instance.ID,
		Target:     time.Now().UTC(),
	})
	var staging *domain.StagingError
	require.True(t, errors.As(err, &staging), "error = %v, want StagingError", err)
	require.Contains(t, staging.Reason, "data dir")
}

func TestExecuteLogicalRestore(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	s := env.restorer(t, &fakeBuilder{restore: "cat > /dev/null"})

	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/base.sql", time.Now().UTC().Add(-time.Hour), nil)

	done, err := s.Execute(context.Background(), RestoreRequest{
		InstanceID: instance.ID,
		Target:     time.Now().UTC(),
		StagingDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.JobSucceeded, done.State)
	require.Equal(t, domain.KindRestore, done.Kind)
}

func TestExecuteRestoreClientFailure(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	s := env.restorer(t, &fakeBuilder{restore: "echo 'syntax error' >&2; exit 1"})

	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/base.sql", time.Now().UTC().Add(-time.Hour), nil)

	done, err := s.Execute(context.Background(), RestoreRequest{
		InstanceID: instance.ID,
		Target:     time.Now().UTC(),
		StagingDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, done.State)
	require.Contains(t, *done.Detail, "syntax error")
}

func TestRestoreOccupiesSlot(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	job := env.completeJob(t, instance.ID, domain.KindLogical)
	s := env.restorer(t, &fakeBuilder{restore: "cat > /dev/null"})
	ctx := context.Background()

	env.addArtifact(t, instance.ID, job.ID, domain.KindLogical, "primary/logical/base.sql", time.Now().UTC().Add(-time.Hour), nil)

	// An open restore job blocks a second trigger
	_, err := env.ledger.Admit(ctx, instance.ID, domain.KindRestore, nil)
	require.NoError(t, err)

	_, err = s.Trigger(ctx, RestoreRequest{
		InstanceID: instance.ID,
		Target:     time.Now().UTC(),
		StagingDir: t.TempDir(),
	})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict), "error = %v, want ConflictError", err)
}
