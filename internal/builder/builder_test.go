package builder

import (
	"strings"
	"testing"
	"time"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

func testInstance() *domain.Instance {
	return &domain.Instance{
		Name:            "primary",
		Host:            "db1.internal",
		Port:            3306,
		CredentialsFile: "/etc/dbvault/primary.cnf",
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{"8.0.39", Version{8, 0, 39}, false},
		{"11.4.2-MariaDB-log", Version{11, 4, 2}, false},
		{"5.7.44-log", Version{5, 7, 44}, false},
		{"garbage", Version{}, true},
	}

	for _, tt := range tests {
		got, err := ParseVersion(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestVersionLessThan(t *testing.T) {
	a := Version{8, 0, 25}
	b := Version{8, 0, 26}
	if !a.LessThan(b) {
		t.Error("8.0.25 should be less than 8.0.26")
	}
	if b.LessThan(a) {
		t.Error("8.0.26 should not be less than 8.0.25")
	}
	if b.LessThan(b) {
		t.Error("a version is not less than itself")
	}
}

func TestMysqlDumpBinlogFlag(t *testing.T) {
	old := NewMysqlBuilder(Version{8, 0, 25}).LogicalDump(testInstance())
	if !hasArg(old.Argv, "--master-data=2") {
		t.Errorf("pre-8.0.26 dump missing --master-data: %v", old.Argv)
	}

	current := NewMysqlBuilder(Version{8, 0, 39}).LogicalDump(testInstance())
	if !hasArg(current.Argv, "--source-data=2") {
		t.Errorf("8.0.26+ dump missing --source-data: %v", current.Argv)
	}
}

func TestBinlogStreamCommand(t *testing.T) {
	cmd := NewMariadbBuilder(Version{10, 11, 6}).BinlogStream(testInstance(), "/var/lib/dbvault/binlog/primary", "mysql-bin.000042")

	if cmd.Argv[0] != "mariadb-binlog" {
		t.Errorf("binary = %s, want mariadb-binlog", cmd.Argv[0])
	}
	for _, want := range []string{"--read-from-remote-server", "--raw", "--stop-never"} {
		if !hasArg(cmd.Argv, want) {
			t.Errorf("missing %s in %v", want, cmd.Argv)
		}
	}
	if cmd.Argv[len(cmd.Argv)-1] != "mysql-bin.000042" {
		t.Errorf("start file should be the last arg: %v", cmd.Argv)
	}
	// mysqlbinlog exits 1 when the connection drops, which is a
	// reconnect, not a failure of the invocation itself
	if !cmd.Allowed(1) {
		t.Error("stream command should allow exit code 1")
	}
}

func TestPhysicalRestoreOrder(t *testing.T) {
	cmds := NewMysqlBuilder(Version{8, 0, 39}).PhysicalRestore("/backups/primary/physical/x", "/var/lib/mysql")
	if len(cmds) != 2 {
		t.Fatalf("expected prepare + copy-back, got %d commands", len(cmds))
	}
	if !hasArg(cmds[0].Argv, "--prepare") {
		t.Errorf("first command must prepare: %v", cmds[0].Argv)
	}
	if !hasArg(cmds[1].Argv, "--copy-back") {
		t.Errorf("second command must copy back: %v", cmds[1].Argv)
	}
}

func TestBinlogReplayStopTime(t *testing.T) {
	stop := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	cmd := NewMysqlBuilder(Version{8, 0, 39}).BinlogReplay([]string{"/staging/mysql-bin.000001"}, stop)

	found := false
	for _, arg := range cmd.Argv {
		if strings.HasPrefix(arg, "--stop-datetime=") && strings.Contains(arg, "2026-08-25 14:30:00") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing stop datetime in %v", cmd.Argv)
	}
}

func TestFactory(t *testing.T) {
	if _, err := New("mariadb", "11.4.2-MariaDB"); err != nil {
		t.Errorf("mariadb builder: %v", err)
	}
	if _, err := New("mysql", ""); err != nil {
		t.Errorf("mysql builder without version: %v", err)
	}
	if _, err := New("postgres", "16.1"); err == nil {
		t.Error("unsupported db type must error")
	}
}

func hasArg(argv []string, want string) bool {
	for _, arg := range argv {
		if arg == want {
			return true
		}
	}
	return false
}
