package domain

import "time"

// Artifact is the durable output of a successful backup job, or a rotated
// binlog file produced by a stream session. Exactly one of JobID and
// SessionID is set.
type Artifact struct {
	ID         int64      `db:"id"`
	InstanceID int64      `db:"instance_id"`
	JobID      *int64     `db:"job_id"`
	SessionID  *int64     `db:"session_id"`
	Kind       BackupKind `db:"kind"`
	Path       string     `db:"path"` // local path or storage URI
	Size       int64      `db:"size"`
	Checksum   string     `db:"checksum"` // sha-256, empty for directory artifacts
	ExpiresAt  *time.Time `db:"expires_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Expired reports whether the artifact's retention expiry has passed.
// Artifacts without an expiry never expire.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}
