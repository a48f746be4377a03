package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// InstanceService manages the registry of monitored servers.
type InstanceService struct {
	instances repository.InstanceRepository
	log       *logger.Logger

	// probeVersion is swappable for tests
	probeVersion func(ctx context.Context, instance *domain.Instance) (string, error)
}

func NewInstanceService(instances repository.InstanceRepository, log *logger.Logger) *InstanceService {
	return &InstanceService{
		instances:    instances,
		log:          log,
		probeVersion: serverVersion,
	}
}

// Register adds an instance and records its server version if it is
// reachable. An unreachable server still registers; the version lands on
// the first successful health check.
func (s *InstanceService) Register(ctx context.Context, instance *domain.Instance) error {
	if instance.Name == "" || instance.Host == "" {
		return fmt.Errorf("instance name and host are required")
	}
	if instance.Port <= 0 || instance.Port > 65535 {
		return fmt.Errorf("invalid port %d", instance.Port)
	}
	if instance.Role != domain.RoleSource && instance.Role != domain.RoleReplica {
		return fmt.Errorf("role must be %q or %q", domain.RoleSource, domain.RoleReplica)
	}
	if _, err := os.Stat(instance.CredentialsFile); err != nil {
		return fmt.Errorf("credentials file %s is not readable: %w", instance.CredentialsFile, err)
	}

	if version, err := s.probeVersion(ctx, instance); err != nil {
		s.log.Warnw("instance registered unreachable", "name", instance.Name, "error", err)
	} else {
		now := time.Now().UTC()
		instance.ServerVersion = &version
		instance.LastSeenAt = &now
	}

	if err := s.instances.Create(ctx, instance); err != nil {
		return err
	}
	s.log.Infow("instance registered", "instance_id", instance.ID, "name", instance.Name, "addr", instance.Addr())
	return nil
}

func (s *InstanceService) Get(ctx context.Context, id int64) (*domain.Instance, error) {
	return s.instances.FindByID(ctx, id)
}

func (s *InstanceService) GetByName(ctx context.Context, name string) (*domain.Instance, error) {
	return s.instances.FindByName(ctx, name)
}

func (s *InstanceService) Update(ctx context.Context, instance *domain.Instance) error {
	return s.instances.Update(ctx, instance)
}

// Deactivate retires an instance from scheduling while keeping its
// history resolvable.
func (s *InstanceService) Deactivate(ctx context.Context, id int64) error {
	if err := s.instances.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Infow("instance deactivated", "instance_id", id)
	return nil
}

func (s *InstanceService) List(ctx context.Context, filter repository.InstanceFilter) ([]*domain.Instance, int, error) {
	instances, err := s.instances.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.instances.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return instances, total, nil
}

// HealthCheck probes the server and refreshes its recorded version and
// last-seen time.
func (s *InstanceService) HealthCheck(ctx context.Context, id int64) (*domain.Instance, error) {
	instance, err := s.instances.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	version, err := s.probeVersion(ctx, instance)
	if err != nil {
		return instance, fmt.Errorf("instance %s is unreachable: %w", instance.Name, err)
	}

	now := time.Now().UTC()
	instance.ServerVersion = &version
	instance.LastSeenAt = &now
	if err := s.instances.Update(ctx, instance); err != nil {
		return nil, err
	}
	return instance, nil
}
