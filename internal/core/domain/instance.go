package domain

import (
	"net"
	"strconv"
	"time"
)

type InstanceRole string

const (
	RoleSource  InstanceRole = "source"
	RoleReplica InstanceRole = "replica"
)

// Instance is a monitored MySQL server. Instances are never deleted, only
// deactivated, so job and artifact history stays resolvable.
type Instance struct {
	ID              int64        `db:"id"`
	Name            string       `db:"name"`
	Host            string       `db:"host"`
	Port            int          `db:"port"`
	Role            InstanceRole `db:"role"`
	CredentialsFile string       `db:"credentials_file"` // defaults-file handed to backup tools
	Active          bool         `db:"active"`
	ServerVersion   *string      `db:"server_version"`
	LastSeenAt      *time.Time   `db:"last_seen_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func NewInstance(name, host string, port int, role InstanceRole, credentialsFile string) *Instance {
	now := time.Now()
	return &Instance{
		Name:            name,
		Host:            host,
		Port:            port,
		Role:            role,
		CredentialsFile: credentialsFile,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (i *Instance) Addr() string {
	if i.Port == 0 {
		return i.Host
	}
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}
