package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pverhoef/dbvault/internal/builder"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/infrastructure/sqlite"
	"github.com/pverhoef/dbvault/internal/runner"
	"github.com/pverhoef/dbvault/internal/storage"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

type testEnv struct {
	cfg       *config.Config
	db        *sqlite.DB
	instances *sqlite.InstanceRepository
	jobs      *sqlite.JobRepository
	policies  *sqlite.PolicyRepository
	artifacts *sqlite.ArtifactRepository
	streams   *sqlite.StreamSessionRepository
	ledger    *LedgerService
	policySvc *PolicyService
	run       *runner.Runner
	store     storage.Storage
	log       *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		BackupDir: t.TempDir(),
		BinlogDir: t.TempDir(),
		DBType:    "mysql",
		Scheduler: config.SchedulerConfig{
			TickInterval:    time.Hour,
			SweepInterval:   time.Hour,
			MaxConcurrent:   2,
			LogicalTimeout:  30 * time.Second,
			PhysicalTimeout: 30 * time.Second,
			RestoreTimeout:  30 * time.Second,
			TerminateGrace:  2 * time.Second,
		},
		Streamer: config.StreamerConfig{
			HeartbeatInterval: 20 * time.Millisecond,
			RetryBudget:       2,
			BackoffCeiling:    50 * time.Millisecond,
			StableAfter:       time.Hour,
		},
	}

	log := logger.Nop()
	env := &testEnv{
		cfg:       cfg,
		db:        db,
		instances: sqlite.NewInstanceRepository(db),
		jobs:      sqlite.NewJobRepository(db),
		policies:  sqlite.NewPolicyRepository(db),
		artifacts: sqlite.NewArtifactRepository(db),
		streams:   sqlite.NewStreamSessionRepository(db),
		run:       runner.New(),
		store:     store,
		log:       log,
	}
	env.ledger = NewLedgerService(env.jobs, log)
	env.policySvc = NewPolicyService(env.policies, env.instances, env.jobs, log)
	return env
}

func (e *testEnv) scheduler(t *testing.T, bld builder.Builder) *SchedulerService {
	t.Helper()
	s := NewSchedulerService(e.cfg, e.ledger, e.policySvc, e.instances, e.artifacts, e.run, e.store, e.log)
	s.newBuilder = func(dbType, version string) (builder.Builder, error) { return bld, nil }
	return s
}

func (e *testEnv) addInstance(t *testing.T, name string) *domain.Instance {
	t.Helper()
	instance := domain.NewInstance(name, "localhost", 3306, domain.RoleSource, "/tmp/creds.cnf")
	require.NoError(t, e.instances.Create(context.Background(), instance))
	return instance
}

// waitTerminal polls the ledger until the job lands in a terminal state.
func (e *testEnv) waitTerminal(t *testing.T, jobID int64) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.ledger.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %d never reached a terminal state", jobID)
	return nil
}

func (e *testEnv) waitState(t *testing.T, jobID int64, state domain.JobState) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.ledger.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.State == state {
			return
		}
		if job.State.Terminal() {
			t.Fatalf("job %d reached terminal %s while waiting for %s", jobID, job.State, state)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %d never reached %s", jobID, state)
}

// fakeBuilder substitutes shell one-liners for the real database tooling.
type fakeBuilder struct {
	dump    string
	backup  string
	stream  string
	restore string
	replay  string
}

func script(s string) builder.Command {
	return builder.Command{Argv: []string{"/bin/sh", "-c", s}, SuccessCodes: []int{0}}
}

func (b *fakeBuilder) LogicalDump(*domain.Instance) builder.Command { return script(b.dump) }
func (b *fakeBuilder) PhysicalBackup(_ *domain.Instance, targetDir string) builder.Command {
	return builder.Command{Argv: []string{"/bin/sh", "-c", b.backup, "backup", targetDir}, SuccessCodes: []int{0}}
}
func (b *fakeBuilder) BinlogStream(_ *domain.Instance, captureDir, startFile string) builder.Command {
	// $1 is the capture directory, $2 the requested start file
	return builder.Command{Argv: []string{"/bin/sh", "-c", b.stream, "stream", captureDir, startFile}, SuccessCodes: []int{0}}
}
func (b *fakeBuilder) LogicalRestore(*domain.Instance) builder.Command { return script(b.restore) }
func (b *fakeBuilder) PhysicalRestore(backupDir, dataDir string) []builder.Command {
	return []builder.Command{script(b.restore)}
}
func (b *fakeBuilder) BinlogReplay(files []string, stop time.Time) builder.Command {
	return script(b.replay)
}

func TestTriggerBackupLogical(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{dump: "printf 'CREATE TABLE t (id INT);'"})

	job, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, job.State)

	done := env.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobSucceeded, done.State)
	require.NotNil(t, done.ExitCode)
	require.Equal(t, 0, *done.ExitCode)

	artifact, err := env.artifacts.FindLatest(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	require.Equal(t, job.ID, *artifact.JobID)
	require.NotEmpty(t, artifact.Checksum)

	rc, err := env.store.Open(context.Background(), artifact.Path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE t (id INT);", string(data))
	require.Equal(t, int64(len(data)), artifact.Size)
}

func TestTriggerBackupCompressed(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Compression = "zstd"
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{dump: "printf 'INSERT INTO t VALUES (1);'"})

	job, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)

	done := env.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobSucceeded, done.State)

	artifact, err := env.artifacts.FindLatest(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	require.Regexp(t, `\.sql\.zst$`, artifact.Path)
}

func TestTriggerBackupPhysical(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	// $1 is the target directory handed to the backup tool
	s := env.scheduler(t, &fakeBuilder{backup: `printf 'datadir-bytes' > "$1/ibdata1"`})

	job, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindPhysical)
	require.NoError(t, err)

	done := env.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobSucceeded, done.State)

	artifact, err := env.artifacts.FindLatest(context.Background(), instance.ID, domain.KindPhysical)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	require.DirExists(t, artifact.Path)
	require.FileExists(t, filepath.Join(artifact.Path, "ibdata1"))
	require.Equal(t, int64(len("datadir-bytes")), artifact.Size)
	require.Empty(t, artifact.Checksum, "directory artifacts carry no checksum")
}

func TestTriggerBackupProcessFailure(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{dump: "echo 'access denied' >&2; exit 5"})

	job, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)

	done := env.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobFailed, done.State)
	require.NotNil(t, done.ExitCode)
	require.Equal(t, 5, *done.ExitCode)
	require.NotNil(t, done.Detail)
	require.Contains(t, *done.Detail, "access denied")

	artifact, err := env.artifacts.FindLatest(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)
	require.Nil(t, artifact, "a failed backup must not record an artifact")
}

func TestTriggerBackupConflict(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{dump: "exit 0"})

	_, err := env.ledger.Admit(context.Background(), instance.ID, domain.KindLogical, nil)
	require.NoError(t, err)

	_, err = s.TriggerBackup(context.Background(), instance.ID, domain.KindLogical)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict), "error = %v, want ConflictError", err)
}

func TestTriggerBackupRejectsKind(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{})

	_, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindBinlog)
	require.Error(t, err)
	_, err = s.TriggerBackup(context.Background(), instance.ID, domain.KindRestore)
	require.Error(t, err)
}

func TestCancelRunningBackup(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{dump: "sleep 30"})

	job, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)
	env.waitState(t, job.ID, domain.JobRunning)

	require.NoError(t, s.Cancel(context.Background(), job.ID))

	done := env.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobCancelled, done.State)
}

func TestBackupTimeoutCancels(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Scheduler.LogicalTimeout = 300 * time.Millisecond
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{dump: "sleep 30"})

	job, err := s.TriggerBackup(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)

	// Overrunning the maximum duration lands in cancelled, not failed
	done := env.waitTerminal(t, job.ID)
	require.Equal(t, domain.JobCancelled, done.State)
	require.NotNil(t, done.Detail)
	require.Contains(t, *done.Detail, "maximum run duration")

	artifact, err := env.artifacts.FindLatest(context.Background(), instance.ID, domain.KindLogical)
	require.NoError(t, err)
	require.Nil(t, artifact, "a timed-out backup must not record an artifact")
}

func TestCancelPendingBackup(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{})

	job, err := env.ledger.Admit(context.Background(), instance.ID, domain.KindLogical, nil)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), job.ID))

	current, err := env.ledger.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, current.State)
}

func TestCancelTerminalJob(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	s := env.scheduler(t, &fakeBuilder{})

	job, err := env.ledger.Admit(context.Background(), instance.ID, domain.KindLogical, nil)
	require.NoError(t, err)
	require.NoError(t, env.ledger.MarkFailed(context.Background(), job.ID, "boom", nil))

	err = s.Cancel(context.Background(), job.ID)
	var invalid *domain.InvalidTransitionError
	require.True(t, errors.As(err, &invalid), "error = %v, want InvalidTransitionError", err)
}

func TestRecoverOrphans(t *testing.T) {
	env := newTestEnv(t)
	instance := env.addInstance(t, "primary")
	ctx := context.Background()

	pending, err := env.ledger.Admit(ctx, instance.ID, domain.KindLogical, nil)
	require.NoError(t, err)
	running, err := env.ledger.Admit(ctx, instance.ID, domain.KindPhysical, nil)
	require.NoError(t, err)
	require.NoError(t, env.ledger.MarkStarted(ctx, running.ID, 1234))

	n, err := env.ledger.RecoverOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []int64{pending.ID, running.ID} {
		job, err := env.ledger.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.JobFailed, job.State)
		require.Contains(t, *job.Detail, "orphaned by restart")
	}

	// Freed slots admit again
	_, err = env.ledger.Admit(ctx, instance.ID, domain.KindLogical, nil)
	require.NoError(t, err)
}
