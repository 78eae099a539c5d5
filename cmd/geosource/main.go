// Package main provides the entry point for the geosource service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jobrunner/geosource/internal/app"
	"github.com/jobrunner/geosource/internal/config"
	"github.com/jobrunner/geosource/internal/observability"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geosource",
	Short: "geosource - bounding box lookups over geospatial record stores",
	Long: `geosource serves the records of geospatial collections as GeoJSON.

Every configured source answers two lookups for a bounding box: the shapes
of all records inside it, and the most recent record inside it. Boxes and
results can be expressed in EPSG:4326 or EPSG:3857.

Features:
  - MongoDB, SQLite and JSON file sources
  - Reprojection between the caller's and the store's projection
  - Multiple dataset storage backends (local, AWS S3, Azure, HTTP)
  - Hot-reload of sources and datasets
  - TLS with automatic certificate management
  - Prometheus metrics and OpenTelemetry tracing`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("geosource %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("sources", "./sources.yaml", "source definitions file")
	rootCmd.PersistentFlags().String("projection-engine", config.EngineBuiltin, "projection engine (builtin, spatialite)")
	rootCmd.PersistentFlags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	rootCmd.PersistentFlags().String("storage-path", "./data", "local dataset directory")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	rootCmd.Flags().Bool("frontend", false, "serve the map viewer at /")
	rootCmd.Flags().Bool("tracing", false, "enable OpenTelemetry tracing")

	rootCmd.AddCommand(versionCmd, shapesCmd, importCmd)
}

// loadConfig reads the configuration, letting explicitly set flags of cmd
// override file and environment values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	cfg, err := config.Load(cfgFile,
		config.WithFlag("logging.level", flags.Lookup("log-level")),
		config.WithFlag("logging.format", flags.Lookup("log-format")),
		config.WithFlag("sources.file", flags.Lookup("sources")),
		config.WithFlag("projection.engine", flags.Lookup("projection-engine")),
		config.WithFlag("storage.type", flags.Lookup("storage-type")),
		config.WithFlag("storage.local_path", flags.Lookup("storage-path")),
		config.WithFlag("server.host", flags.Lookup("host")),
		config.WithFlag("server.port", flags.Lookup("port")),
		config.WithFlag("tls.enabled", flags.Lookup("tls")),
		config.WithFlag("tls.domains", flags.Lookup("tls-domains")),
		config.WithFlag("tls.email", flags.Lookup("tls-email")),
		config.WithFlag("server.cors.allowed_origins", flags.Lookup("cors")),
		config.WithFlag("server.frontend_enabled", flags.Lookup("frontend")),
		config.WithFlag("tracing.enabled", flags.Lookup("tracing")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("starting geosource",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"sources_file", cfg.Sources.File,
		"storage_type", cfg.Storage.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("server error", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return runErr
}
