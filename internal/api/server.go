package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/handler"
	"github.com/pverhoef/dbvault/internal/api/middleware"
	"github.com/pverhoef/dbvault/internal/core/repository"
	"github.com/pverhoef/dbvault/internal/core/service"
	"github.com/pverhoef/dbvault/pkg/config"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// Handlers bundles everything the router needs.
type Handlers struct {
	Auth      *service.AuthService
	Instances *service.InstanceService
	Policies  *service.PolicyService
	Ledger    *service.LedgerService
	Scheduler *service.SchedulerService
	Restores  *service.RestoreService
	Streamer  *service.StreamerService
	Artifacts repository.ArtifactRepository
	Streams   repository.StreamSessionRepository
}

type Server struct {
	cfg    *config.Config
	log    *logger.Logger
	engine *gin.Engine
	srv    *http.Server
}

func NewServer(cfg *config.Config, log *logger.Logger, h Handlers) *Server {
	if !cfg.IsDevMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORSOrigins))
	engine.Use(middleware.ErrorHandler(log))

	authHandler := handler.NewAuthHandler(h.Auth)
	instanceHandler := handler.NewInstanceHandler(h.Instances)
	policyHandler := handler.NewPolicyHandler(h.Policies)
	jobHandler := handler.NewJobHandler(h.Ledger, h.Scheduler)
	artifactHandler := handler.NewArtifactHandler(h.Artifacts)
	backupHandler := handler.NewBackupHandler(h.Scheduler)
	restoreHandler := handler.NewRestoreHandler(h.Restores)
	streamHandler := handler.NewStreamHandler(h.Streams, h.Streamer)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST("/auth/login", authHandler.Login)

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.Auth(h.Auth))
	{
		v1.POST("/instances", instanceHandler.Create)
		v1.GET("/instances", instanceHandler.List)
		v1.GET("/instances/:id", instanceHandler.Get)
		v1.PATCH("/instances/:id", instanceHandler.Update)
		v1.DELETE("/instances/:id", instanceHandler.Deactivate)
		v1.POST("/instances/:id/health", instanceHandler.HealthCheck)
		v1.POST("/instances/:id/stream/resync", streamHandler.Resync)

		v1.POST("/policies", policyHandler.Create)
		v1.GET("/policies", policyHandler.List)
		v1.GET("/policies/:id", policyHandler.Get)
		v1.PATCH("/policies/:id", policyHandler.Update)
		v1.DELETE("/policies/:id", policyHandler.Disable)

		v1.GET("/jobs", jobHandler.List)
		v1.GET("/jobs/:id", jobHandler.Get)
		v1.POST("/jobs/:id/cancel", jobHandler.Cancel)

		v1.GET("/artifacts", artifactHandler.List)
		v1.GET("/artifacts/:id", artifactHandler.Get)

		v1.POST("/backups", backupHandler.Trigger)

		v1.GET("/restores/plan", restoreHandler.Plan)
		v1.POST("/restores", restoreHandler.Trigger)

		v1.GET("/streams", streamHandler.List)
		v1.GET("/streams/:id", streamHandler.Get)
	}

	return &Server{cfg: cfg, log: log, engine: engine}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails. TLS is used when a cert pair is
// configured.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.SSLCert != "" {
		s.log.Infow("api listening", "addr", addr, "tls", true)
		return s.srv.ListenAndServeTLS(s.cfg.SSLCert, s.cfg.SSLKey)
	}
	s.log.Infow("api listening", "addr", addr, "tls", false)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
