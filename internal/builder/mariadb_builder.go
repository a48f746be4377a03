package builder

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

// MariadbBuilder builds commands for MariaDB servers using mariadb-dump,
// mariadb-backup and mariadb-binlog.
type MariadbBuilder struct {
	version Version
}

func NewMariadbBuilder(version Version) *MariadbBuilder {
	return &MariadbBuilder{version: version}
}

func (b *MariadbBuilder) LogicalDump(instance *domain.Instance) Command {
	return Command{
		Argv: []string{
			"mariadb-dump",
			"--defaults-extra-file=" + instance.CredentialsFile,
			"--host=" + instance.Host,
			"--port=" + strconv.Itoa(instance.Port),
			"--single-transaction",
			"--routines",
			"--events",
			"--triggers",
			"--all-databases",
			"--master-data=2",
		},
		SuccessCodes: []int{0},
	}
}

func (b *MariadbBuilder) PhysicalBackup(instance *domain.Instance, targetDir string) Command {
	return Command{
		Argv: []string{
			"mariadb-backup",
			"--defaults-extra-file=" + instance.CredentialsFile,
			"--host=" + instance.Host,
			"--port=" + strconv.Itoa(instance.Port),
			"--backup",
			"--target-dir=" + targetDir,
		},
		SuccessCodes: []int{0},
	}
}

func (b *MariadbBuilder) BinlogStream(instance *domain.Instance, captureDir, startFile string) Command {
	return Command{
		Argv: []string{
			"mariadb-binlog",
			"--defaults-extra-file=" + instance.CredentialsFile,
			"--host=" + instance.Host,
			"--port=" + strconv.Itoa(instance.Port),
			"--read-from-remote-server",
			"--raw",
			"--stop-never",
			"--result-file=" + captureDir + "/",
			startFile,
		},
		SuccessCodes: []int{0, 1},
	}
}

func (b *MariadbBuilder) LogicalRestore(instance *domain.Instance) Command {
	return Command{
		Argv: []string{
			"mariadb",
			"--defaults-extra-file=" + instance.CredentialsFile,
			"--host=" + instance.Host,
			"--port=" + strconv.Itoa(instance.Port),
		},
		SuccessCodes: []int{0},
	}
}

func (b *MariadbBuilder) PhysicalRestore(backupDir, dataDir string) []Command {
	return []Command{
		{
			Argv: []string{
				"mariadb-backup",
				"--prepare",
				"--target-dir=" + backupDir,
			},
			SuccessCodes: []int{0},
		},
		{
			Argv: []string{
				"mariadb-backup",
				"--copy-back",
				"--target-dir=" + backupDir,
				"--datadir=" + dataDir,
			},
			SuccessCodes: []int{0},
		},
	}
}

func (b *MariadbBuilder) BinlogReplay(files []string, stopTime time.Time) Command {
	argv := []string{
		"mariadb-binlog",
		"--disable-log-bin",
		fmt.Sprintf("--stop-datetime=%s", stopTime.UTC().Format(binlogStopFormat)),
	}
	argv = append(argv, files...)
	return Command{Argv: argv, SuccessCodes: []int{0}}
}
