package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldsmith/doorvox/internal/capture"
	"github.com/fieldsmith/doorvox/internal/config"
	"github.com/fieldsmith/doorvox/internal/door"
	"github.com/fieldsmith/doorvox/internal/extraction"
	"github.com/fieldsmith/doorvox/internal/httpapi"
	"github.com/fieldsmith/doorvox/internal/logging"
	"github.com/fieldsmith/doorvox/internal/persist"
	"github.com/fieldsmith/doorvox/internal/pipeline"
	"github.com/fieldsmith/doorvox/internal/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline daemon",
	Long: `Start the doorvox HTTP API and keep it running until interrupted.

Examples:
  # Run with the default config file
  doorvox serve

  # Run against a specific config
  doorvox serve --config ./doorvox.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	uploader, err := upload.NewClient(cfg.Upload.BaseURL, logger.Named("upload"))
	if err != nil {
		return fmt.Errorf("build upload client: %w", err)
	}

	extractor, err := extraction.NewClient(extraction.Config{
		BaseURL: cfg.Extraction.BaseURL,
		APIKey:  cfg.Extraction.APIKey,
		Timeout: cfg.Extraction.Timeout,
	}, logger.Named("extraction"))
	if err != nil {
		return fmt.Errorf("build extraction client: %w", err)
	}

	syncer, err := persist.NewClient(persist.Config{
		BaseURL:       cfg.Backend.BaseURL,
		MaxRetries:    cfg.Backend.MaxRetries,
		DegradedHosts: cfg.Backend.DegradedHosts,
	}, logger.Named("persist"), persist.WithMetrics(persist.NewMetrics(registry)))
	if err != nil {
		return fmt.Errorf("build sync client: %w", err)
	}

	svc, err := pipeline.NewService(uploader, extractor, syncer, door.NewStore(), logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	session := capture.NewSession(capture.Detect(cfg.Capture.Device), logger.Named("capture"))

	server, err := httpapi.NewServer(svc, session, registry, logger.Named("http"), &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
