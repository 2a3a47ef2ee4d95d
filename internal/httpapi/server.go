// Package httpapi provides the HTTP API for the specfactory daemon.
//
// The server exposes the conversational session surface under /api/v1
// plus a health check. Every route is instrumented with OpenTelemetry
// metrics and correlated structured logging.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rodcar/agentic-software-factory/internal/archive"
	"github.com/rodcar/agentic-software-factory/internal/document"
	"github.com/rodcar/agentic-software-factory/internal/logging"
	"github.com/rodcar/agentic-software-factory/internal/session"
)

// Config holds HTTP server configuration.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() *Config {
	return &Config{
		Port:            9090,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server exposes session orchestration over HTTP.
type Server struct {
	echo    *echo.Echo
	config  *Config
	manager session.Manager
	store   document.Store
	archive archive.Store
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a new HTTP server. The archive store is optional;
// when nil the search endpoint reports the archive as unconfigured.
func NewServer(cfg *Config, manager session.Manager, store document.Store, archiveStore archive.Store, logger *zap.Logger) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		config:  cfg,
		manager: manager,
		store:   store,
		archive: archiveStore,
		metrics: NewMetrics(logger),
		logger:  logger,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.correlationMiddleware())
	e.Use(s.metrics.Middleware())
	e.Use(s.loggingMiddleware())

	s.registerRoutes()

	return s, nil
}

// correlationMiddleware copies the request id issued by the RequestID
// middleware into the request context so downstream logs carry it.
func (s *Server) correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions/:id/messages", s.handleMessage)
	v1.GET("/sessions/:id", s.handleSession)
	v1.DELETE("/sessions/:id", s.handleCloseSession)
	v1.GET("/sessions/:id/documents/:kind", s.handleDocument)
	v1.GET("/sessions/:id/export/:kind", s.handleExport)
	v1.GET("/archive/search", s.handleArchiveSearch)
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then performs graceful shutdown.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other
// error encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server. Start performs this on
// context cancellation; Shutdown exists for callers that manage the
// listener themselves.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for registering additional
// routes such as the Prometheus scrape handler.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
