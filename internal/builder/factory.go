package builder

import "fmt"

const (
	DbTypeMariadb = "mariadb"
	DbTypeMysql   = "mysql"
)

// New returns the builder for the configured server flavor. The version
// string comes from the instance's recorded server version; an empty
// string falls back to flavor defaults.
func New(dbType, serverVersion string) (Builder, error) {
	version, err := ParseVersion(serverVersion)
	if err != nil && serverVersion != "" {
		return nil, err
	}

	switch dbType {
	case DbTypeMariadb:
		if serverVersion == "" {
			version = Version{Major: 10, Minor: 6}
		}
		return NewMariadbBuilder(version), nil
	case DbTypeMysql:
		if serverVersion == "" {
			version = Version{Major: 8}
		}
		return NewMysqlBuilder(version), nil
	default:
		return nil, fmt.Errorf("unsupported db type %q", dbType)
	}
}
