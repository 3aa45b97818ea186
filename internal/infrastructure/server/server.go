package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/scriptmonkey/internal/api/http"
	"github.com/GriffinCanCode/scriptmonkey/internal/api/middleware"
	"github.com/GriffinCanCode/scriptmonkey/internal/api/ws"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/tracing"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	components *Components
	hub        *ws.Hub
	logger     *logging.Logger
	config     *config.Config
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing ScriptMonkey server",
		zap.String("addr", cfg.Address()),
		zap.String("script_root", cfg.Storage.ScriptRoot()),
		zap.String("prefs_backend", cfg.Storage.PrefsBackend),
	)

	components, err := Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Registry loaded", zap.Int("scripts", components.Registry.Len()))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(components.Tracer))
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(monitoring.Middleware(components.Metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := api.NewHandlers(components.Registry, components.Browser, logger.Logger)
	handlers.Register(router)

	hub := ws.NewHub(components.Registry, logger.Logger, components.Metrics)
	router.GET("/events", hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(components.Metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:     router,
		components: components,
		hub:        hub,
		logger:     logger,
		config:     cfg,
	}, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Address()
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.hub.Close(); err != nil {
		s.logger.Error("Failed to close websocket hub", zap.Error(err))
	}
	if err := s.components.Close(); err != nil {
		s.logger.Error("Failed to close components", zap.Error(err))
		return fmt.Errorf("failed to close components: %w", err)
	}

	s.logger.Sync()
	return nil
}
