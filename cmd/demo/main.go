// Package main runs the scopelog demo service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsamuelsen/scopelog"
	"github.com/jsamuelsen/scopelog/config"
	"github.com/jsamuelsen/scopelog/internal/demo"
	"github.com/jsamuelsen/scopelog/internal/telemetry"
	"github.com/jsamuelsen/scopelog/middleware"
)

// Build-time variables, injected via ldflags.
var (
	// Version is the semantic version of the service.
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load and validate configuration (fail fast).
	cfg, err := config.Load(os.Getenv("SCOPELOG_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize the log sink.
	if err := scopelog.Init(scopelog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
		File: scopelog.FileConfig{
			Enabled:    cfg.Log.File.Enabled,
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	}); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	logger := scopelog.New("main")
	logger.Info(ctx, "starting service", scopelog.Fields{
		"version": Version,
		"commit":  Commit,
	})

	// Telemetry (noop unless OTEL_EXPORTER_OTLP_ENDPOINT is set).
	telProvider, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	defer func() {
		if shutdownErr := telProvider.Shutdown(ctx); shutdownErr != nil {
			logger.Error(ctx, "telemetry shutdown error", shutdownErr)
		}
	}()

	// Compile the exclusion set eagerly; bad patterns fail startup.
	matcher, err := middleware.NewExclusionMatcher(cfg.Exclude)
	if err != nil {
		return fmt.Errorf("invalid exclude config: %w", err)
	}

	server := demo.NewServer(cfg.Server, logger)

	demo.SetupRouter(server.Engine(), demo.RouterConfig{
		Logger:      logger,
		ServiceName: cfg.Service.Name,
		Scope: middleware.Config{
			Enrich:        demo.AuthEnricher(scopelog.New("enrichment")),
			EnrichTimeout: cfg.Enrichment.Timeout,
			Exclude:       matcher,
			Metrics:       middleware.NewMetrics(prometheus.DefaultRegisterer),
		},
	})

	serverErr := server.Start()

	return waitForShutdown(ctx, logger, server, serverErr, cfg.Server.ShutdownTimeout)
}

// waitForShutdown blocks until a shutdown signal is received or a server
// error occurs, then drains in-flight requests.
func waitForShutdown(
	ctx context.Context,
	logger *scopelog.Logger,
	server *demo.Server,
	serverErr <-chan error,
	shutdownTimeout time.Duration,
) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)

	case sig := <-quit:
		logger.Info(ctx, "received shutdown signal", scopelog.Fields{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info(ctx, "shutdown complete")

	return nil
}
