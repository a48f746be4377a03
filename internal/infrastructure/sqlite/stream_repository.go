package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/repository"
)

type StreamSessionRepository struct {
	db *DB
}

func NewStreamSessionRepository(db *DB) *StreamSessionRepository {
	return &StreamSessionRepository{db: db}
}

func (r *StreamSessionRepository) Create(ctx context.Context, session *domain.StreamSession) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO stream_session (instance_id, state, log_file, log_pos, pid, failures, last_heartbeat, detail, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.InstanceID, session.State, session.LogFile, session.LogPos,
		NullInt(session.PID), session.Failures, NullTime(session.LastHeartbeat),
		NullString(session.Detail), session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create stream session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get stream session id: %w", err)
	}
	session.ID = id
	return nil
}

func (r *StreamSessionRepository) FindByID(ctx context.Context, id int64) (*domain.StreamSession, error) {
	var session domain.StreamSession
	err := r.db.GetContext(ctx, &session, `SELECT * FROM stream_session WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stream session: %w", err)
	}
	return &session, nil
}

func (r *StreamSessionRepository) List(ctx context.Context, filter repository.StreamFilter) ([]*domain.StreamSession, error) {
	query := `SELECT * FROM stream_session WHERE 1=1`
	args := []interface{}{}

	if filter.InstanceID != nil {
		query += " AND instance_id = ?"
		args = append(args, *filter.InstanceID)
	}

	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	sessions := []*domain.StreamSession{}
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list stream sessions: %w", err)
	}
	return sessions, nil
}

func (r *StreamSessionRepository) FindActive(ctx context.Context, instanceID int64) (*domain.StreamSession, error) {
	var session domain.StreamSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM stream_session
		WHERE instance_id = ? AND superseded_at IS NULL`,
		instanceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active stream session: %w", err)
	}
	return &session, nil
}

// UpdatePosition records a heartbeat. The guard keeps the persisted
// position monotonic: a stale write lands as a no-op, not an error.
func (r *StreamSessionRepository) UpdatePosition(ctx context.Context, id int64, logFile string, logPos int64, heartbeat time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE stream_session
		SET log_file = ?, log_pos = ?, last_heartbeat = ?
		WHERE id = ? AND (log_file < ? OR (log_file = ? AND log_pos <= ?))`,
		logFile, logPos, heartbeat.UTC(),
		id, logFile, logFile, logPos,
	)
	if err != nil {
		return fmt.Errorf("failed to update stream position: %w", err)
	}
	return nil
}

func (r *StreamSessionRepository) UpdateState(ctx context.Context, id int64, state domain.StreamState, failures int, detail *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE stream_session SET state = ?, failures = ?, detail = ? WHERE id = ?`,
		state, failures, NullString(detail), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update stream state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *StreamSessionRepository) SetPID(ctx context.Context, id int64, pid *int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE stream_session SET pid = ? WHERE id = ?`,
		NullInt(pid), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set stream pid: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *StreamSessionRepository) Supersede(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE stream_session SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede stream session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
