package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/engine"
	"github.com/fyrsmithlabs/knowd/internal/feedbackbus"
	httpserver "github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Config file (default ~/.config/knowd/config.yaml)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowd daemon",
	Long: `Start the knowd daemon: load persisted knowledge, serve the HTTP API and,
when enabled, consume feedback events from NATS.

Configuration comes from defaults, the config file and KNOWD_* environment
variables, in that order.

Examples:
  # Start with defaults
  knowd serve

  # Keep snapshots in SQLite and cache in Redis
  KNOWD_PERSISTENCE_BACKEND=sqlite KNOWD_CACHE_BACKEND=redis \
  KNOWD_CACHE_REDIS_ADDR=localhost:6379 knowd serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

// runServe starts every component and blocks until ctx is cancelled.
//
// Startup order:
//  1. Loads and validates configuration
//  2. Initializes telemetry and logger
//  3. Builds the engine and loads persisted knowledge
//  4. Subscribes to the feedback bus when enabled
//  5. Starts the HTTP server
func runServe(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OTEL)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting knowd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("persistence", cfg.Persistence.Backend))

	eng, err := engine.Build(ctx, cfg, logger, tel.Tracer("github.com/fyrsmithlabs/knowd"))
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Close(context.Background())
		return fmt.Errorf("failed to start engine: %w", err)
	}

	srv, err := httpserver.NewServer(eng, logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		_ = eng.Close(context.Background())
		return err
	}

	var (
		nc  *nats.Conn
		sub *feedbackbus.Subscriber
	)
	if cfg.FeedbackBus.Enabled {
		nc, err = feedbackbus.Connect(cfg.FeedbackBus, logger)
		if err != nil {
			_ = eng.Close(context.Background())
			return err
		}
		sub = feedbackbus.NewSubscriber(nc, eng, feedbackbus.SubjectsFromConfig(cfg.FeedbackBus), logger)
		if err := sub.Start(); err != nil {
			nc.Close()
			_ = eng.Close(context.Background())
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case serveErr = <-errCh:
		logger.Error(context.Background(), "http server stopped", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sub != nil {
		if err := sub.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("feedback bus: %w", err))
		}
		nc.Close()
	}
	if err := eng.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine close: %w", err))
	}
	if serveErr != nil {
		errs = append(errs, serveErr)
	}

	logger.Info(context.Background(), "knowd stopped")
	return errors.Join(errs...)
}
