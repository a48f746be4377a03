package service

import (
	"context"
	"os"
	"time"

	"github.com/pverhoef/dbvault/internal/api/util"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/storage"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// CleanupService enforces retention. Expired artifacts are removed oldest
// first, and the newest artifact per (instance, kind) is never removed no
// matter how old it is, so a restore path always remains.
type CleanupService struct {
	cfg       *config.Config
	artifacts repository.ArtifactRepository
	policies  repository.PolicyRepository
	store     storage.Storage
	log       *logger.Logger
}

func NewCleanupService(
	cfg *config.Config,
	artifacts repository.ArtifactRepository,
	policies repository.PolicyRepository,
	store storage.Storage,
	log *logger.Logger,
) *CleanupService {
	return &CleanupService{cfg: cfg, artifacts: artifacts, policies: policies, store: store, log: log}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *CleanupService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Scheduler.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Errorw("retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep removes artifacts past their expiry and artifacts beyond a
// policy's retention count. Returns the number removed.
func (s *CleanupService) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	removed := 0

	expired, err := s.artifacts.FindExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, artifact := range expired {
		ok, err := s.remove(ctx, artifact)
		if err != nil {
			s.log.Errorw("artifact removal failed", "artifact_id", artifact.ID, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}

	n, err := s.sweepByCount(ctx)
	if err != nil {
		return removed, err
	}
	removed += n

	if removed > 0 {
		s.log.Infow("retention sweep completed", "removed", removed)
	}
	return removed, nil
}

func (s *CleanupService) sweepByCount(ctx context.Context) (int, error) {
	enabled := true
	policies, err := s.policies.List(ctx, repository.PolicyFilter{Enabled: &enabled})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, policy := range policies {
		if policy.RetentionCount == nil {
			continue
		}

		artifacts, err := s.artifacts.List(ctx, repository.ArtifactFilter{
			ListFilter: util.ListFilter{
				Filters: []util.QueryFilter{
					{Field: "instance_id", Operator: util.OpEq, Value: policy.InstanceID},
					{Field: "kind", Operator: util.OpEq, Value: string(policy.Kind)},
				},
				Order: []util.OrderClause{
					{Field: "created_at", Direction: util.OrderDesc},
					{Field: "id", Direction: util.OrderDesc},
				},
			},
		})
		if err != nil {
			return removed, err
		}
		if len(artifacts) <= *policy.RetentionCount {
			continue
		}

		// Drop the surplus oldest first
		surplus := artifacts[*policy.RetentionCount:]
		for i := len(surplus) - 1; i >= 0; i-- {
			ok, err := s.remove(ctx, surplus[i])
			if err != nil {
				s.log.Errorw("artifact removal failed", "artifact_id", surplus[i].ID, "error", err)
				continue
			}
			if ok {
				removed++
			}
		}
	}
	return removed, nil
}

// remove deletes an artifact's bytes and then its record. The newest
// artifact for its (instance, kind) is left alone.
func (s *CleanupService) remove(ctx context.Context, artifact *domain.Artifact) (bool, error) {
	latest, err := s.artifacts.FindLatest(ctx, artifact.InstanceID, artifact.Kind)
	if err != nil {
		return false, err
	}
	if latest != nil && latest.ID == artifact.ID {
		s.log.Debugw("retention floor keeps newest artifact", "artifact_id", artifact.ID, "kind", artifact.Kind)
		return false, nil
	}

	if artifact.Kind == domain.KindPhysical {
		if err := os.RemoveAll(artifact.Path); err != nil {
			return false, err
		}
	} else {
		if err := s.store.Delete(ctx, artifact.Path); err != nil {
			return false, err
		}
	}

	if err := s.artifacts.Delete(ctx, artifact.ID); err != nil {
		return false, err
	}
	s.log.Infow("artifact removed", "artifact_id", artifact.ID, "kind", artifact.Kind, "path", artifact.Path)
	return true, nil
}
