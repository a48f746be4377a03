package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pverhoef/dbvault/internal/api"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/core/service"
	"github.com/pverhoef/dbvault/internal/infrastructure/sqlite"
	"github.com/pverhoef/dbvault/internal/runner"
	"github.com/pverhoef/dbvault/internal/storage"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dbvault",
	Short: "MySQL and MariaDB backup orchestrator",
	Long: `dbvault schedules and runs logical, physical and binlog backups of
MySQL and MariaDB servers, tracks every run in a durable job ledger, and
restores instances to a point in time from the recorded artifacts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(policiesCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(usersCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

// Services is the wired application graph shared by all commands.
type Services struct {
	Cfg *config.Config
	Log *logger.Logger
	DB  *sqlite.DB

	Instances *service.InstanceService
	Policies  *service.PolicyService
	Ledger    *service.LedgerService
	Scheduler *service.SchedulerService
	Cleanup   *service.CleanupService
	Streamer  *service.StreamerService
	Restores  *service.RestoreService
	Auth      *service.AuthService

	InstanceRepo repository.InstanceRepository
	ArtifactRepo repository.ArtifactRepository
	StreamRepo   repository.StreamSessionRepository
}

func initServices(ctx context.Context) (*Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	switch cfg.Storage.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, storage.S3Options{
			Region:    cfg.Storage.S3.Region,
			Bucket:    cfg.Storage.S3.Bucket,
			Prefix:    cfg.Storage.S3.Prefix,
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
		})
	default:
		store, err = storage.NewLocalStorage(cfg.BackupDir)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	instanceRepo := sqlite.NewInstanceRepository(db)
	policyRepo := sqlite.NewPolicyRepository(db)
	jobRepo := sqlite.NewJobRepository(db)
	artifactRepo := sqlite.NewArtifactRepository(db)
	streamRepo := sqlite.NewStreamSessionRepository(db)
	userRepo := sqlite.NewUserRepository(db)

	run := runner.New()

	ledger := service.NewLedgerService(jobRepo, log)
	policies := service.NewPolicyService(policyRepo, instanceRepo, jobRepo, log)
	instances := service.NewInstanceService(instanceRepo, log)
	scheduler := service.NewSchedulerService(cfg, ledger, policies, instanceRepo, artifactRepo, run, store, log)
	cleanup := service.NewCleanupService(cfg, artifactRepo, policyRepo, store, log)
	streamer := service.NewStreamerService(cfg, instanceRepo, policyRepo, streamRepo, artifactRepo, run, store, log)
	restores := service.NewRestoreService(cfg, ledger, instanceRepo, artifactRepo, run, store, log)
	auth := service.NewAuthService(userRepo, cfg.JWTSecretKey)

	return &Services{
		Cfg:          cfg,
		Log:          log,
		DB:           db,
		Instances:    instances,
		Policies:     policies,
		Ledger:       ledger,
		Scheduler:    scheduler,
		Cleanup:      cleanup,
		Streamer:     streamer,
		Restores:     restores,
		Auth:         auth,
		InstanceRepo: instanceRepo,
		ArtifactRepo: artifactRepo,
		StreamRepo:   streamRepo,
	}, nil
}

func (s *Services) Close() {
	s.DB.Close()
	s.Log.Close()
}

func (s *Services) apiHandlers() api.Handlers {
	return api.Handlers{
		Auth:      s.Auth,
		Instances: s.Instances,
		Policies:  s.Policies,
		Ledger:    s.Ledger,
		Scheduler: s.Scheduler,
		Restores:  s.Restores,
		Streamer:  s.Streamer,
		Artifacts: s.ArtifactRepo,
		Streams:   s.StreamRepo,
	}
}
