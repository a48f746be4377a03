package domain

import "time"

type StreamState string

const (
	StreamStarting     StreamState = "starting"
	StreamStreaming    StreamState = "streaming"
	StreamReconnecting StreamState = "reconnecting"
	StreamStopped      StreamState = "stopped"
)

var streamTransitions = map[StreamState][]StreamState{
	StreamStarting:     {StreamStreaming, StreamReconnecting, StreamStopped},
	StreamStreaming:    {StreamReconnecting, StreamStopped},
	StreamReconnecting: {StreamStreaming, StreamStopped},
}

func (s StreamState) CanTransition(to StreamState) bool {
	for _, next := range streamTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// StreamSession is the persistent state of one binlog capture. Sessions are
// superseded rather than deleted so position history stays auditable. The
// persisted position only moves forward; an explicit resync creates a new
// session instead of rewinding the old one.
type StreamSession struct {
	ID            int64       `db:"id"`
	InstanceID    int64       `db:"instance_id"`
	State         StreamState `db:"state"`
	LogFile       string      `db:"log_file"`
	LogPos        int64       `db:"log_pos"`
	PID           *int        `db:"pid"`
	Failures      int         `db:"failures"` // consecutive failures
	LastHeartbeat *time.Time  `db:"last_heartbeat"`
	Detail        *string     `db:"detail"`
	StartedAt     time.Time   `db:"started_at"`
	SupersededAt  *time.Time  `db:"superseded_at"`
}

func NewStreamSession(instanceID int64) *StreamSession {
	return &StreamSession{
		InstanceID: instanceID,
		State:      StreamStarting,
		StartedAt:  time.Now(),
	}
}

// Active reports whether this session is the live one for its instance.
func (s *StreamSession) Active() bool {
	return s.SupersededAt == nil && s.State != StreamStopped
}
