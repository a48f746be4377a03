package builder

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

// MysqlBuilder builds commands for Oracle MySQL servers using mysqldump,
// xtrabackup and mysqlbinlog.
type MysqlBuilder struct {
	version Version
}

func NewMysqlBuilder(version Version) *MysqlBuilder {
	return &MysqlBuilder{version: version}
}

func (b *MysqlBuilder) LogicalDump(instance *domain.Instance) Command {
	argv := []string{
		"mysqldump",
		"--defaults-extra-file=" + instance.CredentialsFile,
		"--host=" + instance.Host,
		"--port=" + strconv.Itoa(instance.Port),
		"--single-transaction",
		"--routines",
		"--events",
		"--triggers",
		"--all-databases",
	}
	// --master-data was renamed in 8.0.26
	if b.version.LessThan(Version{Major: 8, Minor: 0, Patch: 26}) {
		argv = append(argv, "--master-data=2")
	} else {
		argv = append(argv, "--source-data=2")
	}
	return Command{Argv: argv, SuccessCodes: []int{0}}
}

func (b *MysqlBuilder) PhysicalBackup(instance *domain.Instance, targetDir string) Command {
	return Command{
		Argv: []string{
			"xtrabackup",
			"--defaults-extra-file=" + instance.CredentialsFile,
			"--host=" + instance.Host,
			"--port=" + strconv.Itoa(instance.Port),
			"--backup",
			"--target-dir=" + targetDir,
		},
		SuccessCodes: []int{0},
	}
}

func (b *MysqlBuilder) BinlogStream(instance *domain.Instance, captureDir, startFile string) Command {
	return Command{
		Argv: []string{
			"mysqlbinlog",
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

func (b *MysqlBuilder) LogicalRestore(instance *domain.Instance) Command {
	return Command{
		Argv: []string{
			"mysql",
			"--defaults-extra-file=" + instance.CredentialsFile,
			"--host=" + instance.Host,
			"--port=" + strconv.Itoa(instance.Port),
		},
		SuccessCodes: []int{0},
	}
}

func (b *MysqlBuilder) PhysicalRestore(backupDir, dataDir string) []Command {
	return []Command{
		{
			Argv: []string{
				"xtrabackup",
				"--prepare",
				"--target-dir=" + backupDir,
			},
			SuccessCodes: []int{0},
		},
		{
			Argv: []string{
				"xtrabackup",
				"--copy-back",
				"--target-dir=" + backupDir,
				"--datadir=" + dataDir,
			},
			SuccessCodes: []int{0},
		},
	}
}

func (b *MysqlBuilder) BinlogReplay(files []string, stopTime time.Time) Command {
	argv := []string{
		"mysqlbinlog",
		"--disable-log-bin",
		fmt.Sprintf("--stop-datetime=%s", stopTime.UTC().Format(binlogStopFormat)),
	}
	argv = append(argv, files...)
	return Command{Argv: argv, SuccessCodes: []int{0}}
}
