package repository

import (
	"context"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

type StreamFilter struct {
	InstanceID *int64
	Limit      int
	Offset     int
}

type StreamSessionRepository interface {
	Create(ctx context.Context, session *domain.StreamSession) error
	FindByID(ctx context.Context, id int64) (*domain.StreamSession, error)
	List(ctx context.Context, filter StreamFilter) ([]*domain.StreamSession, error)

	// FindActive returns the current (non-superseded) session for an
	// instance, nil if none. A stopped session stays current until it
	// is superseded by a resync.
	FindActive(ctx context.Context, instanceID int64) (*domain.StreamSession, error)

	// UpdatePosition persists a heartbeat. The stored position never moves
	// backwards; the update is a no-op (no error) if it would regress.
	UpdatePosition(ctx context.Context, id int64, logFile string, logPos int64, heartbeat time.Time) error

	// UpdateState persists a state change with the consecutive-failure count
	UpdateState(ctx context.Context, id int64, state domain.StreamState, failures int, detail *string) error

	SetPID(ctx context.Context, id int64, pid *int) error

	// Supersede marks the session as replaced. Superseded sessions are kept
	// for audit.
	Supersede(ctx context.Context, id int64) error
}
