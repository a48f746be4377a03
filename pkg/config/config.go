package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	LogicalTimeout  time.Duration `mapstructure:"logical_timeout"`
	PhysicalTimeout time.Duration `mapstructure:"physical_timeout"`
	RestoreTimeout  time.Duration `mapstructure:"restore_timeout"`
	TerminateGrace  time.Duration `mapstructure:"terminate_grace"`
}

type StreamerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RetryBudget       int           `mapstructure:"retry_budget"`
	BackoffCeiling    time.Duration `mapstructure:"backoff_ceiling"`
	StableAfter       time.Duration `mapstructure:"stable_after"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type StorageConfig struct {
	Type string   `mapstructure:"type"` // "local" or "s3"
	S3   S3Config `mapstructure:"s3"`
}

type Config struct {
	// Required fields
	BackupDir    string `mapstructure:"backup_dir"`
	BinlogDir    string `mapstructure:"binlog_dir"`
	DBType       string `mapstructure:"db_type"` // "mariadb" or "mysql"
	JWTSecretKey string `mapstructure:"jwt_secret_key"`

	Compression string `mapstructure:"compression"` // "" or "zstd"

	// Optional API settings
	APIHost string `mapstructure:"api_host"`
	APIPort int    `mapstructure:"api_port"`

	// Optional SSL settings
	SSLCert string `mapstructure:"ssl_cert"`
	SSLKey  string `mapstructure:"ssl_key"`

	// Optional CORS settings
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Optional logging settings
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Streamer  StreamerConfig  `mapstructure:"streamer"`
	Storage   StorageConfig   `mapstructure:"storage"`

	ConfigPath string
	DBPath     string `mapstructure:"db_path"`

	DevMode bool `mapstructure:"dev_mode"`
}

const (
	DefaultConfigPath = "/etc/dbvault/config.yml"
	DefaultDBPath     = "/var/lib/dbvault/db.sqlite3"
	DefaultAPIHost    = "0.0.0.0"
	DefaultAPIPort    = 8341
	DefaultLogLevel   = "info"

	DefaultTickInterval    = 30 * time.Second
	DefaultSweepInterval   = time.Hour
	DefaultMaxConcurrent   = 4
	DefaultLogicalTimeout  = 6 * time.Hour
	DefaultPhysicalTimeout = 12 * time.Hour
	DefaultRestoreTimeout  = 24 * time.Hour
	DefaultTerminateGrace  = 30 * time.Second

	DefaultHeartbeatInterval = 10 * time.Second
	DefaultRetryBudget       = 5
	DefaultBackoffCeiling    = 5 * time.Minute
	DefaultStableAfter       = 5 * time.Minute
)

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("api_host", DefaultAPIHost)
	viper.SetDefault("api_port", DefaultAPIPort)
	viper.SetDefault("log_level", DefaultLogLevel)
	viper.SetDefault("db_path", DefaultDBPath)
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("scheduler.tick_interval", DefaultTickInterval)
	viper.SetDefault("scheduler.sweep_interval", DefaultSweepInterval)
	viper.SetDefault("scheduler.max_concurrent", DefaultMaxConcurrent)
	viper.SetDefault("scheduler.logical_timeout", DefaultLogicalTimeout)
	viper.SetDefault("scheduler.physical_timeout", DefaultPhysicalTimeout)
	viper.SetDefault("scheduler.restore_timeout", DefaultRestoreTimeout)
	viper.SetDefault("scheduler.terminate_grace", DefaultTerminateGrace)
	viper.SetDefault("streamer.heartbeat_interval", DefaultHeartbeatInterval)
	viper.SetDefault("streamer.retry_budget", DefaultRetryBudget)
	viper.SetDefault("streamer.backoff_ceiling", DefaultBackoffCeiling)
	viper.SetDefault("streamer.stable_after", DefaultStableAfter)

	// Allow environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DBVAULT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ConfigPath = configPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.BackupDir == "" {
		return fmt.Errorf("backup_dir is required")
	}

	if c.BinlogDir == "" {
		return fmt.Errorf("binlog_dir is required")
	}

	if c.DBType == "" {
		return fmt.Errorf("db_type is required")
	}

	if c.DBType != "mariadb" && c.DBType != "mysql" {
		return fmt.Errorf("db_type must be 'mariadb' or 'mysql'")
	}

	if c.JWTSecretKey == "" {
		return fmt.Errorf("jwt_secret_key is required")
	}

	if _, err := os.Stat(c.BackupDir); os.IsNotExist(err) {
		return fmt.Errorf("backup_dir does not exist: %s", c.BackupDir)
	}

	if c.Compression != "" && c.Compression != "zstd" {
		return fmt.Errorf("compression must be empty or 'zstd'")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("storage.type must be 'local' or 's3'")
	}

	if c.Storage.Type == "s3" {
		if c.Storage.S3.Bucket == "" || c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3 requires bucket and region")
		}
	}

	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1")
	}

	if c.Streamer.RetryBudget < 1 {
		return fmt.Errorf("streamer.retry_budget must be at least 1")
	}

	// Validate SSL config if provided
	if c.SSLCert != "" || c.SSLKey != "" {
		if c.SSLCert == "" || c.SSLKey == "" {
			return fmt.Errorf("both ssl_cert and ssl_key must be provided")
		}
		if _, err := os.Stat(c.SSLCert); os.IsNotExist(err) {
			return fmt.Errorf("ssl_cert does not exist: %s", c.SSLCert)
		}
		if _, err := os.Stat(c.SSLKey); os.IsNotExist(err) {
			return fmt.Errorf("ssl_key does not exist: %s", c.SSLKey)
		}
	}

	return nil
}

func (c *Config) IsDevMode() bool {
	return c.DevMode
}
