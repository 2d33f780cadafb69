package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/middleware"
	"github.com/idemdrem-diagnosis-server/internal/service"
)

// DiagnosisEngine is the decision pipeline served over HTTP.
type DiagnosisEngine interface {
	ClassifyImage(ctx context.Context, data []byte, contentType string) (*domain.ClassifyResult, error)
	Confirm(ctx context.Context, req *service.ConfirmRequest) (*domain.DiagnosisResult, error)
	Catalog() *domain.SymptomCatalog
	Engine() domain.EngineConfig
	Models() []string
}

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	engine        DiagnosisEngine
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	checks        map[string]HealthCheck
	deployedAt    time.Time
}

// ServerOption configures optional server behaviour.
type ServerOption func(*Server)

// WithHealthCheck registers a dependency probe reported by /health.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, engine DiagnosisEngine, logger *logrus.Logger, opts ...ServerOption) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if gin.Mode() != gin.TestMode {
		if cfg.Logging.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}

	router := gin.New()

	var limiter *middleware.ClientRateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewClientRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		engine:        engine,
		logger:        logger,
		router:        router,
		checks:        make(map[string]HealthCheck),
		deployedAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes(middleware.RateLimit(limiter))

	return server
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(rateLimit gin.HandlerFunc) {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/info", s.handleInfo)
		api.POST("/upload", rateLimit, s.handleUpload)
		api.POST("/confirm_symptoms", rateLimit, s.handleConfirmSymptoms)
	}
}
