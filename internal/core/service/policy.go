package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// DuePolicy pairs a policy with the instant that made it due and the
// anchor (last success, or creation when none) that instant was computed
// from.
type DuePolicy struct {
	Policy *domain.Policy
	DueAt  time.Time
	Anchor time.Time
}

// PolicyService manages backup policies and answers the scheduler's "what
// is due" question.
type PolicyService struct {
	policies  repository.PolicyRepository
	instances repository.InstanceRepository
	jobs      repository.JobRepository
	log       *logger.Logger
}

func NewPolicyService(
	policies repository.PolicyRepository,
	instances repository.InstanceRepository,
	jobs repository.JobRepository,
	log *logger.Logger,
) *PolicyService {
	return &PolicyService{policies: policies, instances: instances, jobs: jobs, log: log}
}

func (s *PolicyService) Create(ctx context.Context, policy *domain.Policy) error {
	if !domain.ValidBackupKind(policy.Kind) {
		return fmt.Errorf("invalid backup kind %q", policy.Kind)
	}
	if err := policy.ValidateSchedule(); err != nil {
		return err
	}
	if _, err := s.instances.FindByID(ctx, policy.InstanceID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("instance %d does not exist", policy.InstanceID)
		}
		return err
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		return err
	}
	s.log.Infow("policy created", "policy_id", policy.ID, "instance_id", policy.InstanceID, "kind", policy.Kind)
	return nil
}

func (s *PolicyService) Update(ctx context.Context, policy *domain.Policy) error {
	if err := policy.ValidateSchedule(); err != nil {
		return err
	}
	return s.policies.Update(ctx, policy)
}

func (s *PolicyService) Get(ctx context.Context, id int64) (*domain.Policy, error) {
	return s.policies.FindByID(ctx, id)
}

func (s *PolicyService) List(ctx context.Context, filter repository.PolicyFilter) ([]*domain.Policy, int, error) {
	policies, err := s.policies.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.policies.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return policies, total, nil
}

// Disable turns a policy off without deleting it, freeing its slot in the
// one-enabled-per-(instance, kind) constraint.
func (s *PolicyService) Disable(ctx context.Context, id int64) error {
	policy, err := s.policies.FindByID(ctx, id)
	if err != nil {
		return err
	}
	policy.Enabled = false
	return s.policies.Update(ctx, policy)
}

// ListDue returns enabled schedulable policies whose next run after their
// last successful job is at or before now, most overdue first. Binlog
// policies never appear: the capture loop owns them.
func (s *PolicyService) ListDue(ctx context.Context, now time.Time) ([]DuePolicy, error) {
	enabled, err := s.policies.FindAllEnabled(ctx)
	if err != nil {
		return nil, err
	}

	due := []DuePolicy{}
	for _, policy := range enabled {
		if policy.Kind == domain.KindBinlog {
			continue
		}

		last, err := s.jobs.LastSuccess(ctx, policy.InstanceID, policy.Kind)
		if err != nil {
			return nil, err
		}
		// A policy with no successful run yet anchors on its creation
		anchor := policy.CreatedAt
		if last != nil {
			anchor = *last
		}

		next, err := policy.NextRun(anchor)
		if err != nil {
			s.log.Warnw("skipping policy with unparsable schedule", "policy_id", policy.ID, "error", err)
			continue
		}
		if !next.After(now) {
			due = append(due, DuePolicy{Policy: policy, DueAt: next, Anchor: anchor})
		}
	}

	// Equally due policies order by staleness: the one longest without a
	// success runs first
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		if !due[i].Anchor.Equal(due[j].Anchor) {
			return due[i].Anchor.Before(due[j].Anchor)
		}
		return due[i].Policy.ID < due[j].Policy.ID
	})
	return due, nil
}
