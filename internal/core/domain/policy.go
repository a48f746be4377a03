package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type BackupKind string

const (
	KindLogical  BackupKind = "logical"
	KindPhysical BackupKind = "physical"
	KindBinlog   BackupKind = "binlog"
	KindRestore  BackupKind = "restore"
)

// BackupKinds are the kinds a policy may schedule. Restore jobs share the
// job table but are never policy-driven.
var BackupKinds = []BackupKind{KindLogical, KindPhysical, KindBinlog}

func ValidBackupKind(k BackupKind) bool {
	for _, known := range BackupKinds {
		if k == known {
			return true
		}
	}
	return false
}

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Policy is a declarative backup rule bound to an instance. At most one
// enabled policy per (instance, kind).
type Policy struct {
	ID             int64      `db:"id"`
	InstanceID     int64      `db:"instance_id"`
	Kind           BackupKind `db:"kind"`
	Schedule       string     `db:"schedule"` // standard 5-field cron expression
	RetentionCount *int       `db:"retention_count"`
	RetentionDays  *int       `db:"retention_days"`
	MaxDurationSec *int64     `db:"max_duration_sec"`
	Enabled        bool       `db:"enabled"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func NewPolicy(instanceID int64, kind BackupKind, schedule string) *Policy {
	now := time.Now()
	return &Policy{
		InstanceID: instanceID,
		Kind:       kind,
		Schedule:   schedule,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ValidateSchedule checks the cron expression. Binlog policies carry no
// schedule (the capture runs continuously), everything else requires one.
func (p *Policy) ValidateSchedule() error {
	if p.Kind == KindBinlog {
		if p.Schedule != "" {
			return fmt.Errorf("binlog policies do not take a schedule")
		}
		return nil
	}
	if p.Schedule == "" {
		return fmt.Errorf("schedule is required for %s policies", p.Kind)
	}
	if _, err := scheduleParser.Parse(p.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
	}
	return nil
}

// NextRun returns the first scheduled run strictly after the given time.
func (p *Policy) NextRun(after time.Time) (time.Time, error) {
	sched, err := scheduleParser.Parse(p.Schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
	}
	return sched.Next(after), nil
}

// MaxDuration returns the per-policy job timeout override, or zero when the
// configured per-kind default should apply.
func (p *Policy) MaxDuration() time.Duration {
	if p.MaxDurationSec == nil {
		return 0
	}
	return time.Duration(*p.MaxDurationSec) * time.Second
}
