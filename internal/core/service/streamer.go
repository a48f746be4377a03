package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pverhoef/dbvault/internal/builder"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/runner"
	"github.com/pverhoef/dbvault/internal/storage"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// StreamerService keeps one continuous binlog capture per source instance
// with an enabled binlog policy. Each capture is a supervised mysqlbinlog
// process mirroring raw log files into the capture directory; completed
// (rotated) files are archived as binlog artifacts.
type StreamerService struct {
	cfg       *config.Config
	instances repository.InstanceRepository
	policies  repository.PolicyRepository
	streams   repository.StreamSessionRepository
	artifacts repository.ArtifactRepository
	run       *runner.Runner
	store     storage.Storage
	log       *logger.Logger

	newBuilder   func(dbType, version string) (builder.Builder, error)
	masterStatus func(ctx context.Context, instance *domain.Instance) (string, int64, error)

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

func NewStreamerService(
	cfg *config.Config,
	instances repository.InstanceRepository,
	policies repository.PolicyRepository,
	streams repository.StreamSessionRepository,
	artifacts repository.ArtifactRepository,
	run *runner.Runner,
	store storage.Storage,
	log *logger.Logger,
) *StreamerService {
	return &StreamerService{
		cfg:          cfg,
		instances:    instances,
		policies:     policies,
		streams:      streams,
		artifacts:    artifacts,
		run:          run,
		store:        store,
		log:          log,
		newBuilder:   builder.New,
		masterStatus: masterStatus,
		cancels:      make(map[int64]context.CancelFunc),
	}
}

// Run reconciles supervisors against enabled binlog policies until ctx is
// cancelled, then waits for all captures to wind down.
func (s *StreamerService) Run(ctx context.Context) error {
	s.log.Info("binlog streamer started")

	ticker := time.NewTicker(s.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile starts missing supervisors and stops ones whose policy or
// instance went away.
func (s *StreamerService) reconcile(ctx context.Context) {
	sources, err := s.instances.FindActiveSources(ctx)
	if err != nil {
		s.log.Errorw("streamer reconcile failed", "error", err)
		return
	}

	wanted := make(map[int64]*domain.Instance)
	for _, instance := range sources {
		_, err := s.policies.FindActive(ctx, instance.ID, domain.KindBinlog)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Errorw("policy lookup failed", "instance_id", instance.ID, "error", err)
			continue
		}
		wanted[instance.ID] = instance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.cancels {
		if _, ok := wanted[id]; !ok {
			cancel()
			delete(s.cancels, id)
		}
	}
	for id, instance := range wanted {
		if _, ok := s.cancels[id]; ok {
			continue
		}
		superviseCtx, cancel := context.WithCancel(ctx)
		s.cancels[id] = cancel
		s.wg.Add(1)
		go func(instance *domain.Instance) {
			defer s.wg.Done()
			s.supervise(superviseCtx, instance)
			s.mu.Lock()
			delete(s.cancels, instance.ID)
			s.mu.Unlock()
		}(instance)
	}
}

// Resync abandons the active session and starts over from the server's
// current binlog coordinates. The superseded session is kept for audit.
func (s *StreamerService) Resync(ctx context.Context, instanceID int64) (*domain.StreamSession, error) {
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	// Stop the running supervisor first so it cannot heartbeat the old
	// session while we replace it
	s.mu.Lock()
	if cancel, ok := s.cancels[instanceID]; ok {
		cancel()
		delete(s.cancels, instanceID)
	}
	s.mu.Unlock()

	active, err := s.streams.FindActive(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if err := s.streams.Supersede(ctx, active.ID); err != nil {
			return nil, err
		}
	}

	file, pos, err := s.masterStatus(ctx, instance)
	if err != nil {
		return nil, err
	}

	session := domain.NewStreamSession(instanceID)
	session.LogFile = file
	session.LogPos = pos
	if err := s.streams.Create(ctx, session); err != nil {
		return nil, err
	}
	s.log.Infow("stream resynced", "instance_id", instanceID, "log_file", file, "log_pos", pos)
	return session, nil
}

// supervise runs the capture loop for one instance: spawn, watch, archive
// rotations, back off on failure, stop when the retry budget is spent.
func (s *StreamerService) supervise(ctx context.Context, instance *domain.Instance) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.cfg.Streamer.BackoffCeiling
	bo.MaxElapsedTime = 0

	for {
		session, err := s.ensureSession(ctx, instance)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorw("stream session setup failed", "instance", instance.Name, "error", err)
			if !s.sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		if session.State == domain.StreamStopped || session.Failures > s.cfg.Streamer.RetryBudget {
			// Budget spent; the session stays stopped until an operator
			// resyncs
			return
		}

		startedAt := time.Now()
		runErr := s.capture(ctx, instance, session)

		if ctx.Err() != nil {
			detail := "shutdown"
			_ = s.streams.UpdateState(context.Background(), session.ID, domain.StreamStopped, session.Failures, &detail)
			return
		}

		failures := session.Failures
		if time.Since(startedAt) >= s.cfg.Streamer.StableAfter {
			// A long healthy run clears the slate
			failures = 0
			bo.Reset()
		}
		failures++

		detail := "capture exited"
		if runErr != nil {
			detail = runErr.Error()
		}

		if failures > s.cfg.Streamer.RetryBudget {
			s.log.Errorw("stream retry budget exhausted",
				"instance", instance.Name, "failures", failures, "detail", detail)
			_ = s.streams.UpdateState(context.Background(), session.ID, domain.StreamStopped, failures, &detail)
			return
		}

		s.log.Warnw("stream capture interrupted, reconnecting",
			"instance", instance.Name, "failures", failures, "detail", detail)
		if err := s.streams.UpdateState(ctx, session.ID, domain.StreamReconnecting, failures, &detail); err != nil {
			s.log.Errorw("stream state update failed", "session_id", session.ID, "error", err)
		}

		if !s.sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// ensureSession returns the live session for the instance, creating one
// anchored at the server's current coordinates when none exists.
func (s *StreamerService) ensureSession(ctx context.Context, instance *domain.Instance) (*domain.StreamSession, error) {
	session, err := s.streams.FindActive(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	file, pos, err := s.masterStatus(ctx, instance)
	if err != nil {
		return nil, err
	}
	session = domain.NewStreamSession(instance.ID)
	session.LogFile = file
	session.LogPos = pos
	if err := s.streams.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// capture runs one mysqlbinlog process to exit, heartbeating the position
// and archiving rotated files while it lives.
func (s *StreamerService) capture(ctx context.Context, instance *domain.Instance, session *domain.StreamSession) error {
	version := ""
	if instance.ServerVersion != nil {
		version = *instance.ServerVersion
	}
	bld, err := s.newBuilder(s.cfg.DBType, version)
	if err != nil {
		return err
	}

	captureDir := filepath.Join(s.cfg.BinlogDir, instance.Name)
	if err := os.MkdirAll(captureDir, 0o750); err != nil {
		return fmt.Errorf("cannot create capture dir: %w", err)
	}

	startFile := session.LogFile
	if startFile == "" {
		startFile, _, err = s.masterStatus(ctx, instance)
		if err != nil {
			return err
		}
	}

	h, err := s.run.Start(bld.BinlogStream(instance, captureDir, startFile), nil)
	if err != nil {
		return err
	}

	pid := h.PID
	if err := s.streams.SetPID(ctx, session.ID, &pid); err != nil {
		s.log.Errorw("stream pid update failed", "session_id", session.ID, "error", err)
	}
	if err := s.streams.UpdateState(ctx, session.ID, domain.StreamStreaming, session.Failures, nil); err != nil {
		s.log.Errorw("stream state update failed", "session_id", session.ID, "error", err)
	}
	s.log.Infow("stream capture started",
		"instance", instance.Name, "session_id", session.ID, "start_file", startFile, "pid", pid)

	ticker := time.NewTicker(s.cfg.Streamer.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.run.Terminate(h, s.cfg.Scheduler.TerminateGrace)
			s.heartbeat(context.Background(), instance, session, captureDir)
			return ctx.Err()
		case <-h.Done():
			// Final scan catches files completed right before the exit
			s.heartbeat(ctx, instance, session, captureDir)
			waitErr := s.run.Wait(ctx, h)
			if waitErr != nil {
				return waitErr
			}
			return errors.New("capture process exited")
		case <-ticker.C:
			s.heartbeat(ctx, instance, session, captureDir)
		}
	}
}

// heartbeat records the live file position and archives every capture
// file older than the one currently being written.
func (s *StreamerService) heartbeat(ctx context.Context, instance *domain.Instance, session *domain.StreamSession, captureDir string) {
	files, err := listBinlogFiles(captureDir)
	if err != nil {
		s.log.Errorw("capture dir scan failed", "dir", captureDir, "error", err)
		return
	}
	if len(files) == 0 {
		return
	}

	current := files[len(files)-1]
	info, err := os.Stat(filepath.Join(captureDir, current))
	if err == nil {
		err = s.streams.UpdatePosition(ctx, session.ID, current, info.Size(), time.Now().UTC())
		if err != nil {
			s.log.Errorw("stream position update failed", "session_id", session.ID, "error", err)
		}
	}

	for _, name := range files[:len(files)-1] {
		if err := s.archive(ctx, instance, session, captureDir, name); err != nil {
			s.log.Errorw("binlog archive failed", "file", name, "error", err)
			// Leave the file in place; the next heartbeat retries
			return
		}
	}
}

// archive uploads one rotated capture file as a binlog artifact and then
// removes the local copy. The artifact row references the session, not a
// job: continuous capture has no job lifecycle.
func (s *StreamerService) archive(ctx context.Context, instance *domain.Instance, session *domain.StreamSession, captureDir, name string) error {
	localPath := filepath.Join(captureDir, name)
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	hash := sha256.New()
	key := fmt.Sprintf("%s/binlog/%s", instance.Name, name)
	size, err := s.store.Save(ctx, key, io.TeeReader(f, hash))
	if err != nil {
		return err
	}

	artifact := &domain.Artifact{
		InstanceID: instance.ID,
		SessionID:  &session.ID,
		Kind:       domain.KindBinlog,
		Path:       key,
		Size:       size,
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		ExpiresAt:  s.binlogExpiry(ctx, instance.ID),
	}
	if err := s.artifacts.Create(ctx, artifact); err != nil {
		_ = s.store.Delete(ctx, key)
		return err
	}

	if err := os.Remove(localPath); err != nil {
		s.log.Warnw("cannot remove archived capture file", "path", localPath, "error", err)
	}
	s.log.Infow("binlog archived",
		"instance", instance.Name, "file", name, "artifact_id", artifact.ID, "size", size)
	return nil
}

func (s *StreamerService) binlogExpiry(ctx context.Context, instanceID int64) *time.Time {
	policy, err := s.policies.FindActive(ctx, instanceID, domain.KindBinlog)
	if err != nil || policy.RetentionDays == nil {
		return nil
	}
	t := time.Now().UTC().AddDate(0, 0, *policy.RetentionDays)
	return &t
}

func (s *StreamerService) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// listBinlogFiles returns capture files sorted by name. Binlog names carry
// a fixed-width numeric suffix, so lexical order is rotation order.
func listBinlogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		dot := strings.LastIndex(name, ".")
		if dot < 0 || dot == len(name)-1 {
			continue
		}
		suffix := name[dot+1:]
		numeric := true
		for _, r := range suffix {
			if r < '0' || r > '9' {
				numeric = false
				break
			}
		}
		if numeric {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}
