package service

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/pverhoef/dbvault/internal/core/domain"
)

// clientCredentials holds the [client] section of a defaults file. The
// same file handed to the backup tools drives the direct SQL connections,
// so there is exactly one place credentials live.
type clientCredentials struct {
	User     string
	Password string
}

func readClientCredentials(path string) (clientCredentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return clientCredentials{}, fmt.Errorf("cannot read credentials file: %w", err)
	}
	defer f.Close()

	var creds clientCredentials
	inClient := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inClient = strings.EqualFold(line, "[client]")
			continue
		}
		if !inClient {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "user":
			creds.User = value
		case "password":
			creds.Password = value
		}
	}
	if err := scanner.Err(); err != nil {
		return clientCredentials{}, fmt.Errorf("cannot read credentials file: %w", err)
	}
	if creds.User == "" {
		return clientCredentials{}, fmt.Errorf("credentials file %s has no [client] user", path)
	}
	return creds, nil
}

// openInstanceDB opens a short-lived connection to the instance for
// control queries (version probe, master status). Callers must Close.
func openInstanceDB(instance *domain.Instance) (*sql.DB, error) {
	creds, err := readClientCredentials(instance.CredentialsFile)
	if err != nil {
		return nil, err
	}

	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = instance.Addr()
	cfg.Timeout = 10 * time.Second
	cfg.ReadTimeout = 30 * time.Second

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot build connector for %s: %w", instance.Name, err)
	}
	return sql.OpenDB(connector), nil
}

// serverVersion probes the instance's reported version string.
func serverVersion(ctx context.Context, instance *domain.Instance) (string, error) {
	db, err := openInstanceDB(instance)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", fmt.Errorf("version probe failed for %s: %w", instance.Name, err)
	}
	return version, nil
}

// masterStatus returns the server's current binary log file and position.
func masterStatus(ctx context.Context, instance *domain.Instance) (string, int64, error) {
	db, err := openInstanceDB(instance)
	if err != nil {
		return "", 0, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW MASTER STATUS")
	if err != nil {
		return "", 0, fmt.Errorf("master status query failed for %s: %w", instance.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", 0, fmt.Errorf("binary logging is not enabled on %s", instance.Name)
	}

	cols, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}
	values := make([]interface{}, len(cols))
	var file sql.NullString
	var pos sql.NullInt64
	values[0] = &file
	values[1] = &pos
	for i := 2; i < len(cols); i++ {
		values[i] = new(sql.RawBytes)
	}
	if err := rows.Scan(values...); err != nil {
		return "", 0, fmt.Errorf("master status scan failed for %s: %w", instance.Name, err)
	}
	return file.String, pos.Int64, rows.Err()
}
