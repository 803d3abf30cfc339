// Package api exposes the job submission and retrieval surface over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"turntable/internal/broker"
	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/media/ingest"
	"turntable/internal/queue"
	"turntable/internal/stage"
	"turntable/internal/storage"
)

// HealthReporter is the workflow manager's readiness surface.
type HealthReporter interface {
	HealthCheck(ctx context.Context) []stage.Health
}

// Server wires HTTP handlers to the queue store, broker, and artifact store.
type Server struct {
	cfg       *config.Config
	store     *queue.Store
	broker    broker.Broker
	artifacts storage.Store
	health    HealthReporter
	logger    *slog.Logger

	// validate probes an uploaded file; overridable in tests so handler
	// behavior can be exercised without ffprobe.
	validate func(ctx context.Context, path string) (ingest.Probe, error)
}

func NewServer(cfg *config.Config, store *queue.Store, b broker.Broker, artifacts storage.Store, health HealthReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	ingestor := ingest.New(cfg, logger)
	return &Server{
		cfg:       cfg,
		store:     store,
		broker:    b,
		artifacts: artifacts,
		health:    health,
		logger:    logger.With(logging.String(logging.FieldComponent, "api")),
		validate:  ingestor.Validate,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = s.cfg.Ingest.MaxUploadMiB << 20

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	v1.POST("/videos", s.uploadVideo)
	v1.GET("/videos", s.listJobs)
	v1.GET("/videos/:task_id", s.getStatus)
	v1.GET("/videos/:task_id/result", s.getResult)
	v1.DELETE("/videos/:task_id", s.deleteVideo)

	// S3 artifacts are served by the bucket itself; the local backend has no
	// server of its own, so the daemon fronts it.
	if s.cfg.Storage.Backend == "local" {
		router.GET("/artifacts/*key", s.serveArtifact)
	}
	return router
}

// Serve runs the HTTP listener until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Paths.APIBind,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("api listening", logging.String("bind", s.cfg.Paths.APIBind))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// artifactURL resolves a storage key into the URL clients fetch it from.
func (s *Server) artifactURL(key string) string {
	if key == "" {
		return ""
	}
	return s.cfg.Paths.PublicURL + "/artifacts/" + key
}
