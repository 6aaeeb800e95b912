// Package http provides the HTTP API for knowd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/engine"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Service is the engine surface the API exposes.
type Service interface {
	Query(ctx context.Context, query string, qc *knowledge.QueryContext) (*knowledge.QueryResult, error)
	InitializeTenant(ctx context.Context, tenantID string, domains []string, welcome bool) ([]knowledge.PartitionKey, error)
	TeardownTenant(ctx context.Context, tenantID string) (engine.TeardownReport, error)
	AddDocument(ctx context.Context, key knowledge.PartitionKey, doc knowledge.Document) (string, error)
	RemoveDocument(ctx context.Context, key knowledge.PartitionKey, id string) error
	ListDocuments(ctx context.Context, key knowledge.PartitionKey, f partition.Filter) ([]knowledge.Document, error)
	RecordFeedback(ctx context.Context, fb effectiveness.Feedback) error
	RecordQueryUsage(ctx context.Context, u effectiveness.Usage) error
	Health(ctx context.Context) engine.Health
}

// Server provides HTTP endpoints for knowd.
type Server struct {
	echo    *echo.Echo
	service Service
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// MaxBodyBytes caps request bodies, e.g. "1M".
	MaxBodyBytes string
}

// NewServer creates a new HTTP server.
func NewServer(service Service, logger *logging.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	if cfg.MaxBodyBytes == "" {
		cfg.MaxBodyBytes = "1M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger.Named("http"),
		config:  cfg,
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger attaches the request id to the context and logs every
// request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidateID(rid, "requestID") == nil {
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		}

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/feedback", s.handleFeedback)
	v1.POST("/usage", s.handleUsage)
	v1.POST("/tenants/:tenant", s.handleInitTenant)
	v1.DELETE("/tenants/:tenant", s.handleTeardownTenant)
	v1.POST("/documents", s.handleAddDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.DELETE("/documents/:id", s.handleRemoveDocument)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
