package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/pverhoef/dbvault/internal/builder"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/runner"
	"github.com/pverhoef/dbvault/internal/storage"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

const artifactTimeFormat = "20060102T150405Z"

// SchedulerService drives policy evaluation and backup execution. Ticks
// only admit work; execution happens on worker goroutines bounded by a
// slot semaphore, so a slow backup never blocks admission of others.
type SchedulerService struct {
	cfg       *config.Config
	ledger    *LedgerService
	policies  *PolicyService
	instances repository.InstanceRepository
	artifacts repository.ArtifactRepository
	run       *runner.Runner
	store     storage.Storage
	log       *logger.Logger

	// newBuilder is swappable for tests
	newBuilder func(dbType, version string) (builder.Builder, error)

	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	handles map[int64]*runner.Handle // job id -> live process
}

func NewSchedulerService(
	cfg *config.Config,
	ledger *LedgerService,
	policies *PolicyService,
	instances repository.InstanceRepository,
	artifacts repository.ArtifactRepository,
	run *runner.Runner,
	store storage.Storage,
	log *logger.Logger,
) *SchedulerService {
	return &SchedulerService{
		cfg:        cfg,
		ledger:     ledger,
		policies:   policies,
		instances:  instances,
		artifacts:  artifacts,
		run:        run,
		store:      store,
		log:        log,
		newBuilder: builder.New,
		slots:      make(chan struct{}, cfg.Scheduler.MaxConcurrent),
		handles:    make(map[int64]*runner.Handle),
	}
}

// Run evaluates policies on every tick until ctx is cancelled, then waits
// for in-flight backups to finish.
func (s *SchedulerService) Run(ctx context.Context) error {
	s.log.Infow("scheduler started",
		"tick", s.cfg.Scheduler.TickInterval, "max_concurrent", s.cfg.Scheduler.MaxConcurrent)

	ticker := time.NewTicker(s.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler draining")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SchedulerService) tick(ctx context.Context) {
	due, err := s.policies.ListDue(ctx, time.Now().UTC())
	if err != nil {
		s.log.Errorw("policy evaluation failed", "error", err)
		return
	}

	for _, d := range due {
		policy := d.Policy
		job, err := s.ledger.Admit(ctx, policy.InstanceID, policy.Kind, &policy.ID)
		if err != nil {
			var conflict *domain.ConflictError
			if errors.As(err, &conflict) {
				// Slot still occupied; the policy stays due and is
				// re-evaluated next tick
				s.log.Debugw("backup skipped, slot occupied",
					"instance_id", policy.InstanceID, "kind", policy.Kind, "holder", conflict.JobID)
				continue
			}
			s.log.Errorw("job admission failed", "policy_id", policy.ID, "error", err)
			continue
		}
		s.spawn(ctx, job, policy)
	}
}

// TriggerBackup admits an ad-hoc backup outside any policy schedule. The
// same slot rules apply.
func (s *SchedulerService) TriggerBackup(ctx context.Context, instanceID int64, kind domain.BackupKind) (*domain.Job, error) {
	if kind != domain.KindLogical && kind != domain.KindPhysical {
		return nil, fmt.Errorf("cannot trigger %s backups on demand", kind)
	}
	if _, err := s.instances.FindByID(ctx, instanceID); err != nil {
		return nil, err
	}

	job, err := s.ledger.Admit(ctx, instanceID, kind, nil)
	if err != nil {
		return nil, err
	}
	s.spawn(ctx, job, nil)
	return job, nil
}

// Cancel requests cancellation of a job. A pending job is failed in place;
// a running one moves to cancelling and its process group is terminated.
func (s *SchedulerService) Cancel(ctx context.Context, jobID int64) error {
	job, err := s.ledger.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.State {
	case domain.JobPending:
		return s.ledger.MarkFailed(ctx, jobID, "cancelled before start", nil)
	case domain.JobRunning:
		if err := s.ledger.RequestCancel(ctx, jobID); err != nil {
			return err
		}
		s.mu.Lock()
		h := s.handles[jobID]
		s.mu.Unlock()
		if h != nil {
			go func() {
				if err := s.run.Terminate(h, s.cfg.Scheduler.TerminateGrace); err != nil {
					s.log.Errorw("terminate failed", "job_id", jobID, "error", err)
				}
			}()
		}
		return nil
	default:
		return &domain.InvalidTransitionError{JobID: jobID, From: job.State, To: domain.JobCancelling}
	}
}

func (s *SchedulerService) spawn(ctx context.Context, job *domain.Job, policy *domain.Policy) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			_ = s.ledger.MarkFailed(context.Background(), job.ID, "shutdown before start", nil)
			return
		}
		defer func() { <-s.slots }()

		if err := s.execute(ctx, job, policy); err != nil {
			s.log.Errorw("backup execution failed", "job_id", job.ID, "error", err)
		}
	}()
}

func (s *SchedulerService) timeout(kind domain.BackupKind, policy *domain.Policy) time.Duration {
	if policy != nil {
		if d := policy.MaxDuration(); d > 0 {
			return d
		}
	}
	switch kind {
	case domain.KindPhysical:
		return s.cfg.Scheduler.PhysicalTimeout
	case domain.KindRestore:
		return s.cfg.Scheduler.RestoreTimeout
	default:
		return s.cfg.Scheduler.LogicalTimeout
	}
}

func (s *SchedulerService) execute(ctx context.Context, job *domain.Job, policy *domain.Policy) error {
	instance, err := s.instances.FindByID(ctx, job.InstanceID)
	if err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, "instance lookup failed: "+err.Error(), nil)
		return err
	}

	version := ""
	if instance.ServerVersion != nil {
		version = *instance.ServerVersion
	}
	bld, err := s.newBuilder(s.cfg.DBType, version)
	if err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout(job.Kind, policy))
	defer cancel()

	switch job.Kind {
	case domain.KindLogical:
		return s.executeLogical(waitCtx, job, policy, instance, bld)
	case domain.KindPhysical:
		return s.executePhysical(waitCtx, job, policy, instance, bld)
	default:
		err := fmt.Errorf("scheduler cannot execute %s jobs", job.Kind)
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}
}

// executeLogical streams a SQL dump through optional zstd compression and
// a sha-256 digest straight into artifact storage. The dump never lands
// uncompressed on disk.
func (s *SchedulerService) executeLogical(ctx context.Context, job *domain.Job, policy *domain.Policy, instance *domain.Instance, bld builder.Builder) error {
	stamp := time.Now().UTC().Format(artifactTimeFormat)
	key := fmt.Sprintf("%s/logical/%s.sql", instance.Name, stamp)
	compress := s.cfg.Compression == "zstd"
	if compress {
		key += ".zst"
	}

	pr, pw := io.Pipe()
	hash := sha256.New()

	type saveResult struct {
		n   int64
		err error
	}
	saved := make(chan saveResult, 1)
	go func() {
		n, err := s.store.Save(ctx, key, io.TeeReader(pr, hash))
		pr.CloseWithError(err)
		saved <- saveResult{n, err}
	}()

	var stdout io.Writer = pw
	var zw *zstd.Encoder
	if compress {
		var err error
		zw, err = zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			<-saved
			_ = s.ledger.MarkFailed(ctx, job.ID, "compressor init failed: "+err.Error(), nil)
			return err
		}
		stdout = zw
	}

	h, err := s.run.StartStreaming(bld.LogicalDump(instance), nil, stdout)
	if err != nil {
		pw.CloseWithError(err)
		<-saved
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}
	s.trackHandle(job.ID, h)
	defer s.untrackHandle(job.ID)

	if err := s.ledger.MarkStarted(ctx, job.ID, h.PID); err != nil {
		_ = s.run.Terminate(h, s.cfg.Scheduler.TerminateGrace)
		pw.CloseWithError(err)
		<-saved
		return err
	}

	waitErr := s.run.Wait(ctx, h)
	if zw != nil {
		if err := zw.Close(); err != nil && waitErr == nil {
			waitErr = err
		}
	}
	pw.CloseWithError(waitErr)
	res := <-saved

	if waitErr != nil {
		_ = s.store.Delete(context.Background(), key)
		return s.finalizeFailure(job, h, waitErr)
	}
	if res.err != nil {
		_ = s.store.Delete(context.Background(), key)
		_ = s.ledger.MarkFailed(context.Background(), job.ID, "artifact store write failed: "+res.err.Error(), nil)
		return res.err
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	return s.finalizeSuccess(job, policy, instance, h, key, res.n, checksum)
}

// executePhysical takes a raw datadir copy into a local backup directory.
// Directory artifacts stay on local disk; only file artifacts go through
// the configured object store.
func (s *SchedulerService) executePhysical(ctx context.Context, job *domain.Job, policy *domain.Policy, instance *domain.Instance, bld builder.Builder) error {
	stamp := time.Now().UTC().Format(artifactTimeFormat)
	targetDir := filepath.Join(s.cfg.BackupDir, instance.Name, "physical", stamp)
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, "cannot create backup dir: "+err.Error(), nil)
		return err
	}

	h, err := s.run.Start(bld.PhysicalBackup(instance, targetDir), nil)
	if err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}
	s.trackHandle(job.ID, h)
	defer s.untrackHandle(job.ID)

	if err := s.ledger.MarkStarted(ctx, job.ID, h.PID); err != nil {
		_ = s.run.Terminate(h, s.cfg.Scheduler.TerminateGrace)
		return err
	}

	if err := s.run.Wait(ctx, h); err != nil {
		os.RemoveAll(targetDir)
		return s.finalizeFailure(job, h, err)
	}

	size, err := dirSize(targetDir)
	if err != nil {
		size = 0
	}
	return s.finalizeSuccess(job, policy, instance, h, targetDir, size, "")
}

// finalizeFailure records the terminal state for a failed or cancelled
// run. A job found in cancelling lands in cancelled, an overrun of the
// maximum duration takes the same cancellation path, everything else in
// failed with the process detail.
func (s *SchedulerService) finalizeFailure(job *domain.Job, h *runner.Handle, waitErr error) error {
	ctx := context.Background()

	current, err := s.ledger.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	exitCode := h.ExitCode()

	if current.State == domain.JobCancelling {
		return s.ledger.MarkCancelled(ctx, job.ID, &exitCode, nil)
	}

	if errors.Is(waitErr, context.DeadlineExceeded) {
		detail := "maximum run duration exceeded"
		if err := s.ledger.RequestCancel(ctx, job.ID); err != nil {
			return err
		}
		if err := s.ledger.MarkCancelled(ctx, job.ID, &exitCode, &detail); err != nil {
			return err
		}
		return waitErr
	}

	detail := waitErr.Error()
	var procErr *domain.ProcessFailure
	if errors.As(waitErr, &procErr) && procErr.Stderr != "" {
		detail = fmt.Sprintf("%s: %s", procErr.Error(), procErr.Stderr)
	}
	if err := s.ledger.MarkFailed(ctx, job.ID, detail, &exitCode); err != nil {
		return err
	}
	return waitErr
}

// finalizeSuccess records the artifact and the terminal succeeded state.
// The artifact row is written first: a crash between the two leaves an
// orphaned artifact, never a succeeded job without one.
func (s *SchedulerService) finalizeSuccess(job *domain.Job, policy *domain.Policy, instance *domain.Instance, h *runner.Handle, path string, size int64, checksum string) error {
	ctx := context.Background()

	current, err := s.ledger.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	exitCode := h.ExitCode()
	if current.State == domain.JobCancelling {
		// Cancelled after the process happened to finish; honor the
		// cancellation and drop the output
		if job.Kind == domain.KindPhysical {
			os.RemoveAll(path)
		} else {
			_ = s.store.Delete(ctx, path)
		}
		return s.ledger.MarkCancelled(ctx, job.ID, &exitCode, nil)
	}

	artifact := &domain.Artifact{
		InstanceID: instance.ID,
		JobID:      &job.ID,
		Kind:       job.Kind,
		Path:       path,
		Size:       size,
		Checksum:   checksum,
		ExpiresAt:  retentionExpiry(policy, time.Now().UTC()),
	}
	if err := s.artifacts.Create(ctx, artifact); err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, "artifact record failed: "+err.Error(), &exitCode)
		return err
	}

	if err := s.ledger.MarkSucceeded(ctx, job.ID, exitCode); err != nil {
		return err
	}
	s.log.Infow("backup completed",
		"job_id", job.ID, "instance", instance.Name, "kind", job.Kind,
		"artifact_id", artifact.ID, "size", size)
	return nil
}

func (s *SchedulerService) trackHandle(jobID int64, h *runner.Handle) {
	s.mu.Lock()
	s.handles[jobID] = h
	s.mu.Unlock()
}

func (s *SchedulerService) untrackHandle(jobID int64) {
	s.mu.Lock()
	delete(s.handles, jobID)
	s.mu.Unlock()
}

func retentionExpiry(policy *domain.Policy, now time.Time) *time.Time {
	if policy == nil || policy.RetentionDays == nil {
		return nil
	}
	t := now.AddDate(0, 0, *policy.RetentionDays)
	return &t
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
