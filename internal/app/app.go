// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	httpAdapter "github.com/jobrunner/geosource/internal/adapters/http"
	"github.com/jobrunner/geosource/internal/adapters/metrics"
	"github.com/jobrunner/geosource/internal/adapters/projection"
	"github.com/jobrunner/geosource/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/geosource/internal/adapters/tls"
	"github.com/jobrunner/geosource/internal/adapters/watcher"
	"github.com/jobrunner/geosource/internal/application"
	"github.com/jobrunner/geosource/internal/config"
	"github.com/jobrunner/geosource/internal/observability"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Projector     output.Projector
	Registry      *application.SourceRegistry
	HealthService *application.HealthService
	Datasets      *application.DatasetSync
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector

	builder         *sourceBuilder
	closeProjector  func() error
	shutdownTracing observability.ShutdownFunc
	reloadMu        sync.Mutex
}

// New creates and initializes a new application. Sources are not loaded
// until Start or ReloadSources.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		Exporter:    cfg.Tracing.Exporter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	app.shutdownTracing = shutdownTracing

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(metrics.DefaultNamespace)
		metricsCollector = app.Metrics
	}

	if err := app.initProjector(ctx); err != nil {
		return nil, fmt.Errorf("initializing projection engine: %w", err)
	}

	app.builder = newSourceBuilder(cfg.Storage.DataPath(), app.Projector, metricsCollector, logger)
	app.Registry = application.NewSourceRegistry(metricsCollector, logger)
	app.HealthService = application.NewHealthService(app.Registry)

	// Remote datasets are mirrored into the data directory; local ones are
	// read in place.
	if cfg.Storage.IsRemote() {
		store, err := initStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		app.Datasets = application.NewDatasetSync(store, metricsCollector, logger, cfg.Storage.DataDir, app.ReloadSources)
		app.SyncService = application.NewSyncService(app.Datasets, app.Registry, cfg.Storage.SyncInterval, logger)
	}

	deps := httpAdapter.Dependencies{
		Shapes:      app.Registry,
		Catalog:     app.Registry,
		Health:      app.HealthService,
		MetricsPath: cfg.Metrics.Path,
	}
	if app.SyncService != nil {
		deps.Sync = app.SyncService
	}
	if app.Metrics != nil {
		deps.Metrics = app.Metrics
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, deps, logger)

	tlsServer, err := tlsAdapter.NewServer(
		tlsAdapter.Config{
			Enabled:  cfg.TLS.Enabled,
			Domains:  cfg.TLS.Domains,
			Email:    cfg.TLS.Email,
			CacheDir: cfg.TLS.CacheDir,
			Staging:  cfg.TLS.Staging,
			DNS: tlsAdapter.DNSConfig{
				SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
				ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
				ClientID:          cfg.TLS.DNS.ClientID,
			},
		},
		app.HTTPServer.HTTPServer(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("initializing TLS: %w", err)
	}
	app.TLSServer = tlsServer

	if cfg.Sources.Watch {
		app.initWatcher()
	}

	return app, nil
}

func (a *App) initProjector(ctx context.Context) error {
	switch a.Config.Projection.Engine {
	case config.EngineSpatiaLite:
		sl, err := projection.NewSpatiaLite(ctx)
		if err != nil {
			return err
		}
		a.Projector = sl
		a.closeProjector = sl.Close
	default:
		a.Projector = projection.NewBuiltin()
	}
	return nil
}

// initWatcher reloads the sources when the sources file changes, and when a
// dataset changes in a local data directory. Remote datasets are covered by
// the dataset sync.
func (a *App) initWatcher() {
	cfg := watcher.Config{Files: []string{a.Config.Sources.File}}
	if !a.Config.Storage.IsRemote() {
		cfg.DataDirs = []string{a.Config.Storage.LocalPath}
	}

	w, err := watcher.New(cfg, a.handleFileEvents, a.Logger)
	if err != nil {
		a.Logger.Warn("failed to initialize file watcher", "error", err)
		return
	}
	a.Watcher = w
}

// Start loads the sources and serves the API until the server stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.LoadSources(ctx); err != nil {
		return err
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}
	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	if err := a.TLSServer.ManageCertificates(ctx); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	return a.TLSServer.ListenAndServe()
}

// LoadSources performs the initial dataset sync, if any, and registers the
// configured sources.
func (a *App) LoadSources(ctx context.Context) error {
	if a.Datasets != nil {
		stats, err := a.Datasets.Sync(ctx)
		if err != nil {
			a.Logger.Warn("initial dataset sync failed", "error", err)
		}
		// A sync that changed files has already reloaded the sources.
		if err == nil && stats.Changed() {
			return nil
		}
	}
	return a.ReloadSources(ctx)
}

// ReloadSources re-reads the sources file and replaces the registered
// sources. An unreadable or invalid file leaves the current sources in place.
func (a *App) ReloadSources(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	file, err := config.LoadSources(a.Config.Sources.File)
	if err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}
	sources, err := a.builder.Build(ctx, file)
	if err != nil {
		return fmt.Errorf("building sources: %w", err)
	}

	stats := a.Registry.Reload(ctx, sources)
	a.builder.Prune(ctx)

	if stats.Loaded == 0 && stats.Failed > 0 {
		a.Logger.Warn("no source could be connected", "failed", stats.Failed)
	}
	return nil
}

// handleFileEvents handles file system events for hot-reload.
func (a *App) handleFileEvents(ctx context.Context, events []watcher.Event) error {
	for _, event := range events {
		a.Logger.Info("file event", "path", event.Path, "operation", event.Operation.String())
	}
	return a.ReloadSources(ctx)
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	var errs []error

	if a.Watcher != nil {
		if err := a.Watcher.Stop(); err != nil {
			a.Logger.Warn("failed to stop file watcher", "error", err)
		}
	}
	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	if err := a.TLSServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
		errs = append(errs, err)
	}

	if err := a.Registry.Close(ctx); err != nil {
		a.Logger.Error("failed to close sources", "error", err)
		errs = append(errs, err)
	}
	a.builder.Close(ctx)

	if a.closeProjector != nil {
		if err := a.closeProjector(); err != nil {
			a.Logger.Warn("failed to close projection engine", "error", err)
		}
	}

	observability.ShutdownWithTimeout(ctx, a.shutdownTracing, a.Logger)
	return errors.Join(errs...)
}

// initStorage initializes the dataset storage backend.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	return storage.New(ctx, storage.Config{
		Type:      output.StorageType(cfg.Type),
		LocalPath: cfg.LocalPath,
		S3: storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		},
		HTTP: storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		},
	})
}
