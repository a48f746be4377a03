package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"

	"github.com/pverhoef/dbvault/internal/builder"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/runner"
	"github.com/pverhoef/dbvault/internal/storage"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// RestoreRequest asks for an instance to be rebuilt to its state at
// Target. DataDir is required for physical bases; StagingDir defaults to
// a scratch area under the backup directory.
type RestoreRequest struct {
	InstanceID int64
	Target     time.Time
	StagingDir string
	DataDir    string
}

// RestorePlan is the deterministic resolution of a restore request: one
// base artifact plus the contiguous binlog chain toward the target.
// Planning is a pure read; the same ledger state always yields the same
// plan.
type RestorePlan struct {
	InstanceID    int64
	Target        time.Time
	Base          *domain.Artifact
	Binlogs       []*domain.Artifact
	Truncated     string // why the chain stops short of the target, empty when it reaches it
	RequiredBytes int64
}

// RestoreService resolves and executes point-in-time restores. A restore
// is a job like any other: it occupies the (instance, restore) slot and
// its outcome lands in the ledger.
type RestoreService struct {
	cfg       *config.Config
	ledger    *LedgerService
	instances repository.InstanceRepository
	artifacts repository.ArtifactRepository
	run       *runner.Runner
	store     storage.Storage
	log       *logger.Logger

	newBuilder func(dbType, version string) (builder.Builder, error)
}

func NewRestoreService(
	cfg *config.Config,
	ledger *LedgerService,
	instances repository.InstanceRepository,
	artifacts repository.ArtifactRepository,
	run *runner.Runner,
	store storage.Storage,
	log *logger.Logger,
) *RestoreService {
	return &RestoreService{
		cfg:        cfg,
		ledger:     ledger,
		instances:  instances,
		artifacts:  artifacts,
		run:        run,
		store:      store,
		log:        log,
		newBuilder: builder.New,
	}
}

// Plan resolves the artifacts for a restore without touching anything.
func (s *RestoreService) Plan(ctx context.Context, instanceID int64, target time.Time) (*RestorePlan, error) {
	if _, err := s.instances.FindByID(ctx, instanceID); err != nil {
		return nil, err
	}

	base, err := s.artifacts.FindBaseBefore(ctx, instanceID, target)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, &domain.NoEligibleArtifactError{
			InstanceID: instanceID,
			Target:     target,
			Reason:     "no full backup at or before the target",
		}
	}

	binlogs, err := s.artifacts.FindBinlogBetween(ctx, instanceID, base.CreatedAt, target)
	if err != nil {
		return nil, err
	}
	binlogs, truncated := contiguousChain(binlogs)

	plan := &RestorePlan{
		InstanceID: instanceID,
		Target:     target,
		Base:       base,
		Binlogs:    binlogs,
		Truncated:  truncated,
	}
	plan.RequiredBytes = base.Size
	for _, b := range binlogs {
		plan.RequiredBytes += b.Size
	}
	return plan, nil
}

// Trigger verifies staging capacity, admits the restore job and executes
// it in the background. The capacity check happens before any record or
// subprocess so an undersized destination costs nothing.
func (s *RestoreService) Trigger(ctx context.Context, req RestoreRequest) (*domain.Job, error) {
	plan, err := s.Plan(ctx, req.InstanceID, req.Target)
	if err != nil {
		return nil, err
	}

	if req.StagingDir == "" {
		req.StagingDir = filepath.Join(s.cfg.BackupDir, ".restore-staging")
	}
	if err := os.MkdirAll(req.StagingDir, 0o750); err != nil {
		return nil, &domain.StagingError{Destination: req.StagingDir, Reason: "cannot create staging dir", Err: err}
	}
	if err := checkCapacity(req.StagingDir, plan.RequiredBytes); err != nil {
		return nil, err
	}
	if plan.Base.Kind == domain.KindPhysical && req.DataDir == "" {
		return nil, &domain.StagingError{Destination: "", Reason: "physical restore requires a data dir"}
	}

	job, err := s.ledger.Admit(ctx, req.InstanceID, domain.KindRestore, nil)
	if err != nil {
		return nil, err
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), s.cfg.Scheduler.RestoreTimeout)
		defer cancel()
		if err := s.execute(bg, job, plan, req); err != nil {
			s.log.Errorw("restore failed", "job_id", job.ID, "error", err)
		}
	}()
	return job, nil
}

// Execute runs a restore synchronously: plan, admit, restore, finalize.
func (s *RestoreService) Execute(ctx context.Context, req RestoreRequest) (*domain.Job, error) {
	job, err := s.Trigger(ctx, req)
	if err != nil {
		return nil, err
	}

	// Poll the ledger until the background execution lands
	for {
		current, err := s.ledger.Get(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if current.State.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *RestoreService) execute(ctx context.Context, job *domain.Job, plan *RestorePlan, req RestoreRequest) error {
	instance, err := s.instances.FindByID(ctx, plan.InstanceID)
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

	s.log.Infow("restore started",
		"job_id", job.ID, "instance", instance.Name,
		"base_artifact", plan.Base.ID, "binlogs", len(plan.Binlogs),
		"target", plan.Target.Format(time.RFC3339))

	switch plan.Base.Kind {
	case domain.KindLogical:
		err = s.restoreLogicalBase(ctx, job, instance, bld, plan.Base)
	case domain.KindPhysical:
		err = s.restorePhysicalBase(ctx, job, bld, plan.Base, req.DataDir)
	default:
		err = fmt.Errorf("artifact %d has non-base kind %s", plan.Base.ID, plan.Base.Kind)
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
	}
	if err != nil {
		return err
	}

	if len(plan.Binlogs) > 0 {
		if err := s.replayBinlogs(ctx, job, instance, bld, plan, req.StagingDir); err != nil {
			return err
		}
	}

	if err := s.ledger.MarkSucceeded(ctx, job.ID, 0); err != nil {
		return err
	}
	s.log.Infow("restore completed", "job_id", job.ID, "instance", instance.Name)
	return nil
}

// restoreLogicalBase streams the stored dump through decompression into
// the client, never materializing the plain SQL on disk.
func (s *RestoreService) restoreLogicalBase(ctx context.Context, job *domain.Job, instance *domain.Instance, bld builder.Builder, base *domain.Artifact) error {
	rc, err := s.store.Open(ctx, base.Path)
	if err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, "cannot open base artifact: "+err.Error(), nil)
		return err
	}
	defer rc.Close()

	var input io.Reader = rc
	if strings.HasSuffix(base.Path, ".zst") {
		zr, err := zstd.NewReader(rc)
		if err != nil {
			_ = s.ledger.MarkFailed(ctx, job.ID, "cannot open compressed artifact: "+err.Error(), nil)
			return err
		}
		defer zr.Close()
		input = zr
	}

	h, err := s.run.StartWithInput(bld.LogicalRestore(instance), nil, input)
	if err != nil {
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}
	if err := s.ledger.MarkStarted(ctx, job.ID, h.PID); err != nil {
		_ = s.run.Terminate(h, s.cfg.Scheduler.TerminateGrace)
		return err
	}

	if err := s.run.Wait(ctx, h); err != nil {
		return s.failFromProcess(job.ID, h, err)
	}
	return nil
}

// restorePhysicalBase prepares the backup directory and copies it back.
// Each step must succeed before the next runs.
func (s *RestoreService) restorePhysicalBase(ctx context.Context, job *domain.Job, bld builder.Builder, base *domain.Artifact, dataDir string) error {
	started := false
	for _, cmd := range bld.PhysicalRestore(base.Path, dataDir) {
		h, err := s.run.Start(cmd, nil)
		if err != nil {
			_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
			return err
		}
		if !started {
			if err := s.ledger.MarkStarted(ctx, job.ID, h.PID); err != nil {
				_ = s.run.Terminate(h, s.cfg.Scheduler.TerminateGrace)
				return err
			}
			started = true
		}
		if err := s.run.Wait(ctx, h); err != nil {
			return s.failFromProcess(job.ID, h, err)
		}
	}
	return nil
}

// replayBinlogs downloads the chain into staging and pipes the decoded
// events, cut off at the target time, into the client.
func (s *RestoreService) replayBinlogs(ctx context.Context, job *domain.Job, instance *domain.Instance, bld builder.Builder, plan *RestorePlan, stagingDir string) error {
	files := make([]string, 0, len(plan.Binlogs))
	for _, artifact := range plan.Binlogs {
		local := filepath.Join(stagingDir, filepath.Base(artifact.Path))
		if err := s.download(ctx, artifact.Path, local); err != nil {
			_ = s.ledger.MarkFailed(ctx, job.ID, "binlog staging failed: "+err.Error(), nil)
			return err
		}
		files = append(files, local)
	}
	defer func() {
		for _, f := range files {
			os.Remove(f)
		}
	}()

	pr, pw := io.Pipe()
	replayH, err := s.run.StartStreaming(bld.BinlogReplay(files, plan.Target), nil, pw)
	if err != nil {
		pw.Close()
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}
	clientH, err := s.run.StartWithInput(bld.LogicalRestore(instance), nil, pr)
	if err != nil {
		_ = s.run.Terminate(replayH, s.cfg.Scheduler.TerminateGrace)
		pw.Close()
		_ = s.ledger.MarkFailed(ctx, job.ID, err.Error(), nil)
		return err
	}

	replayErr := s.run.Wait(ctx, replayH)
	pw.CloseWithError(replayErr)
	clientErr := s.run.Wait(ctx, clientH)

	if replayErr != nil {
		_ = s.run.Terminate(clientH, s.cfg.Scheduler.TerminateGrace)
		return s.failFromProcess(job.ID, replayH, replayErr)
	}
	if clientErr != nil {
		return s.failFromProcess(job.ID, clientH, clientErr)
	}
	return nil
}

func (s *RestoreService) download(ctx context.Context, key, local string) error {
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(local)
		return err
	}
	return f.Close()
}

func (s *RestoreService) failFromProcess(jobID int64, h *runner.Handle, waitErr error) error {
	exitCode := h.ExitCode()

	// Overrunning the restore timeout is a cancellation, not a failure
	if errors.Is(waitErr, context.DeadlineExceeded) {
		detail := "maximum run duration exceeded"
		if err := s.ledger.RequestCancel(context.Background(), jobID); err != nil {
			return err
		}
		if err := s.ledger.MarkCancelled(context.Background(), jobID, &exitCode, &detail); err != nil {
			return err
		}
		return waitErr
	}

	detail := waitErr.Error()
	var procErr *domain.ProcessFailure
	if errors.As(waitErr, &procErr) && procErr.Stderr != "" {
		detail = fmt.Sprintf("%s: %s", procErr.Error(), procErr.Stderr)
	}
	if err := s.ledger.MarkFailed(context.Background(), jobID, detail, &exitCode); err != nil {
		return err
	}
	return waitErr
}

// checkCapacity verifies the filesystem holding dir has room for the plan.
func checkCapacity(dir string, required int64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return &domain.StagingError{Destination: dir, Reason: "cannot stat filesystem", Err: err}
	}
	available := int64(st.Bavail) * st.Bsize
	if available < required {
		return &domain.StagingError{
			Destination: dir,
			Reason: fmt.Sprintf("needs %d bytes, filesystem has %d available",
				required, available),
		}
	}
	return nil
}

// contiguousChain trims a binlog artifact list at the first gap in the
// numeric file sequence. Replaying across a gap would silently lose
// transactions, so the chain stops where the evidence stops.
func contiguousChain(binlogs []*domain.Artifact) ([]*domain.Artifact, string) {
	if len(binlogs) < 2 {
		return binlogs, ""
	}

	prev, ok := binlogSeq(binlogs[0].Path)
	if !ok {
		return binlogs[:1], fmt.Sprintf("unparsable binlog name %s", binlogs[0].Path)
	}
	for i := 1; i < len(binlogs); i++ {
		seq, ok := binlogSeq(binlogs[i].Path)
		if !ok {
			return binlogs[:i], fmt.Sprintf("unparsable binlog name %s", binlogs[i].Path)
		}
		if seq != prev+1 {
			return binlogs[:i], fmt.Sprintf("gap after sequence %06d", prev)
		}
		prev = seq
	}
	return binlogs, ""
}

func binlogSeq(path string) (int64, bool) {
	name := filepath.Base(path)
	dot := strings.LastIndex(name, ".")
	if dot < 0 || dot == len(name)-1 {
		return 0, false
	}
	seq, err := strconv.ParseInt(name[dot+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
