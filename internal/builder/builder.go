package builder

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

// Command is a fully resolved subprocess invocation. Argv[0] is the
// binary; SuccessCodes lists the exit codes treated as success.
type Command struct {
	Argv         []string
	SuccessCodes []int
}

// Allowed reports whether code counts as a successful exit.
func (c Command) Allowed(code int) bool {
	for _, ok := range c.SuccessCodes {
		if code == ok {
			return true
		}
	}
	return false
}

func (c Command) String() string {
	if len(c.Argv) == 0 {
		return ""
	}
	return c.Argv[0]
}

// Builder produces the command lines for one server flavor. Commands
// that stream (dumps, restores) read or write their payload on
// stdin/stdout so callers control compression and destinations.
type Builder interface {
	// LogicalDump writes a full SQL dump to stdout.
	LogicalDump(instance *domain.Instance) Command

	// PhysicalBackup writes a raw datadir copy into targetDir.
	PhysicalBackup(instance *domain.Instance, targetDir string) Command

	// BinlogStream follows the server's binary log remotely, mirroring
	// raw log files into captureDir starting at startFile.
	BinlogStream(instance *domain.Instance, captureDir, startFile string) Command

	// LogicalRestore replays a SQL dump read from stdin.
	LogicalRestore(instance *domain.Instance) Command

	// PhysicalRestore prepares backupDir and copies it back into dataDir.
	// The returned commands run in order; each must succeed.
	PhysicalRestore(backupDir, dataDir string) []Command

	// BinlogReplay decodes the given raw binlog files up to stopTime,
	// writing replayable SQL to stdout.
	BinlogReplay(files []string, stopTime time.Time) Command
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// Version is a parsed server version for flag selection.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) LessThan(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// ParseVersion extracts a semantic version from a server version string
// such as "8.0.39" or "11.4.2-MariaDB-log".
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("unrecognized server version %q", s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// binlogStopFormat is the datetime layout mysqlbinlog accepts.
const binlogStopFormat = "2006-01-02 15:04:05"
