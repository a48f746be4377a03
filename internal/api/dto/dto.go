package dto

import (
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/service"
)

// ListResponse is the envelope for all paginated collections.
type ListResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

type CreateInstanceRequest struct {
	Name            string `json:"name" binding:"required"`
	Host            string `json:"host" binding:"required"`
	Port            int    `json:"port" binding:"required"`
	Role            string `json:"role" binding:"required"`
	CredentialsFile string `json:"credentials_file" binding:"required"`
}

type UpdateInstanceRequest struct {
	Host            *string `json:"host"`
	Port            *int    `json:"port"`
	CredentialsFile *string `json:"credentials_file"`
}

type InstanceResponse struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Role          string     `json:"role"`
	Active        bool       `json:"active"`
	ServerVersion *string    `json:"server_version,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func NewInstanceResponse(i *domain.Instance) InstanceResponse {
	return InstanceResponse{
		ID:            i.ID,
		Name:          i.Name,
		Host:          i.Host,
		Port:          i.Port,
		Role:          string(i.Role),
		Active:        i.Active,
		ServerVersion: i.ServerVersion,
		LastSeenAt:    i.LastSeenAt,
		CreatedAt:     i.CreatedAt,
	}
}

type CreatePolicyRequest struct {
	InstanceID     int64  `json:"instance_id" binding:"required"`
	Kind           string `json:"kind" binding:"required"`
	Schedule       string `json:"schedule"`
	RetentionCount *int   `json:"retention_count"`
	RetentionDays  *int   `json:"retention_days"`
	MaxDurationSec *int64 `json:"max_duration_sec"`
}

type UpdatePolicyRequest struct {
	Schedule       *string `json:"schedule"`
	RetentionCount *int    `json:"retention_count"`
	RetentionDays  *int    `json:"retention_days"`
	MaxDurationSec *int64  `json:"max_duration_sec"`
	Enabled        *bool   `json:"enabled"`
}

type PolicyResponse struct {
	ID             int64     `json:"id"`
	InstanceID     int64     `json:"instance_id"`
	Kind           string    `json:"kind"`
	Schedule       string    `json:"schedule,omitempty"`
	RetentionCount *int      `json:"retention_count,omitempty"`
	RetentionDays  *int      `json:"retention_days,omitempty"`
	MaxDurationSec *int64    `json:"max_duration_sec,omitempty"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewPolicyResponse(p *domain.Policy) PolicyResponse {
	return PolicyResponse{
		ID:             p.ID,
		InstanceID:     p.InstanceID,
		Kind:           string(p.Kind),
		Schedule:       p.Schedule,
		RetentionCount: p.RetentionCount,
		RetentionDays:  p.RetentionDays,
		MaxDurationSec: p.MaxDurationSec,
		Enabled:        p.Enabled,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type JobResponse struct {
	ID         int64      `json:"id"`
	InstanceID int64      `json:"instance_id"`
	PolicyID   *int64     `json:"policy_id,omitempty"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	PID        *int       `json:"pid,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Detail     *string    `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

func NewJobResponse(j *domain.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		InstanceID: j.InstanceID,
		PolicyID:   j.PolicyID,
		Kind:       string(j.Kind),
		State:      string(j.State),
		PID:        j.PID,
		ExitCode:   j.ExitCode,
		Detail:     j.Detail,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		EndedAt:    j.EndedAt,
	}
}

type TriggerBackupRequest struct {
	InstanceID int64  `json:"instance_id" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
}

type ArtifactResponse struct {
	ID         int64      `json:"id"`
	InstanceID int64      `json:"instance_id"`
	JobID      *int64     `json:"job_id,omitempty"`
	SessionID  *int64     `json:"session_id,omitempty"`
	Kind       string     `json:"kind"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	Checksum   string     `json:"checksum,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func NewArtifactResponse(a *domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:         a.ID,
		InstanceID: a.InstanceID,
		JobID:      a.JobID,
		SessionID:  a.SessionID,
		Kind:       string(a.Kind),
		Path:       a.Path,
		Size:       a.Size,
		Checksum:   a.Checksum,
		ExpiresAt:  a.ExpiresAt,
		CreatedAt:  a.CreatedAt,
	}
}

type RestoreRequest struct {
	InstanceID int64     `json:"instance_id" binding:"required"`
	Target     time.Time `json:"target" binding:"required"`
	StagingDir string    `json:"staging_dir"`
	DataDir    string    `json:"data_dir"`
}

type RestorePlanResponse struct {
	InstanceID    int64              `json:"instance_id"`
	Target        time.Time          `json:"target"`
	Base          ArtifactResponse   `json:"base"`
	Binlogs       []ArtifactResponse `json:"binlogs"`
	Truncated     string             `json:"truncated,omitempty"`
	RequiredBytes int64              `json:"required_bytes"`
}

func NewRestorePlanResponse(p *service.RestorePlan) RestorePlanResponse {
	binlogs := make([]ArtifactResponse, 0, len(p.Binlogs))
	for _, b := range p.Binlogs {
		binlogs = append(binlogs, NewArtifactResponse(b))
	}
	return RestorePlanResponse{
		InstanceID:    p.InstanceID,
		Target:        p.Target,
		Base:          NewArtifactResponse(p.Base),
		Binlogs:       binlogs,
		Truncated:     p.Truncated,
		RequiredBytes: p.RequiredBytes,
	}
}

type StreamSessionResponse struct {
	ID            int64      `json:"id"`
	InstanceID    int64      `json:"instance_id"`
	State         string     `json:"state"`
	LogFile       string     `json:"log_file,omitempty"`
	LogPos        int64      `json:"log_pos"`
	PID           *int       `json:"pid,omitempty"`
	Failures      int        `json:"failures"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Detail        *string    `json:"detail,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	SupersededAt  *time.Time `json:"superseded_at,omitempty"`
}

func NewStreamSessionResponse(s *domain.StreamSession) StreamSessionResponse {
	return StreamSessionResponse{
		ID:            s.ID,
		InstanceID:    s.InstanceID,
		State:         string(s.State),
		LogFile:       s.LogFile,
		LogPos:        s.LogPos,
		PID:           s.PID,
		Failures:      s.Failures,
		LastHeartbeat: s.LastHeartbeat,
		Detail:        s.Detail,
		StartedAt:     s.StartedAt,
		SupersededAt:  s.SupersededAt,
	}
}
