package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jobrunner/geosource/internal/adapters/memstore"
	"github.com/jobrunner/geosource/internal/adapters/mongostore"
	"github.com/jobrunner/geosource/internal/adapters/sqlitestore"
	"github.com/jobrunner/geosource/internal/application"
	"github.com/jobrunner/geosource/internal/config"
	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// sourceBuilder turns source definitions into sources. Sources that name the
// same MongoDB connection share one client, and the client survives reloads
// for as long as some source still uses it.
type sourceBuilder struct {
	dataPath  string
	projector output.Projector
	metrics   output.MetricsCollector
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]*mongo.Client // keyed by connection string
	inUse   map[string]bool
}

func newSourceBuilder(dataPath string, projector output.Projector, metrics output.MetricsCollector, logger *slog.Logger) *sourceBuilder {
	return &sourceBuilder{
		dataPath:  dataPath,
		projector: projector,
		metrics:   metrics,
		logger:    logger,
		clients:   make(map[string]*mongo.Client),
		inUse:     make(map[string]bool),
	}
}

// Build creates one source per definition. No store is connected yet.
func (b *sourceBuilder) Build(ctx context.Context, file *config.SourcesFile) ([]*application.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inUse = make(map[string]bool)
	sources := make([]*application.Source, 0, len(file.Sources))
	for i := range file.Sources {
		def := &file.Sources[i]
		store, err := b.store(ctx, file, def)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", def.EffectiveName(), err)
		}
		src, err := application.NewSource(sourceConfig(def), store, b.projector, b.metrics, b.logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (b *sourceBuilder) store(ctx context.Context, file *config.SourcesFile, def *config.SourceDef) (output.RecordStore, error) {
	switch def.Driver {
	case config.DriverMongoDB:
		return b.mongoStore(ctx, file, def)
	case config.DriverSQLite:
		return sqlitestore.New(b.datasetPath(def.Dataset), sqlitestore.Options{ReadOnly: true}), nil
	case config.DriverFile:
		return memstore.New(b.datasetPath(def.Dataset)), nil
	default:
		return nil, &domain.ConfigError{Field: "driver", Message: fmt.Sprintf("unknown driver %q", def.Driver)}
	}
}

func (b *sourceBuilder) mongoStore(ctx context.Context, file *config.SourcesFile, def *config.SourceDef) (output.RecordStore, error) {
	var db *mongo.Database
	uri, database := def.URI, def.Database

	if def.Connection != "" {
		conn, ok := file.Connections[def.Connection]
		if !ok {
			return nil, &domain.ConfigError{Field: "connection", Message: "unknown connection " + def.Connection}
		}
		database = firstNonEmpty(def.Database, conn.Database, mongostore.DatabaseFromURI(conn.URI))
		if database == "" {
			return nil, &domain.ConfigError{Field: "database", Message: "connection " + def.Connection + " names no database"}
		}

		client, err := b.client(ctx, conn.URI)
		if err != nil {
			// A dedicated dial lets the registry record the failure on this
			// source alone; the next reload tries the shared client again.
			b.logger.Warn("shared mongodb connection unavailable", "connection", def.Connection, "error", err)
			uri = conn.URI
		} else {
			db = client.Database(database)
		}
	}

	c, err := mongostore.NewConnection(db, uri, database)
	if err != nil {
		return nil, err
	}
	store, err := mongostore.New(c)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (b *sourceBuilder) client(ctx context.Context, uri string) (*mongo.Client, error) {
	b.inUse[uri] = true
	if client, ok := b.clients[uri]; ok {
		return client, nil
	}
	client, err := mongostore.OpenClient(ctx, uri, mongostore.DefaultConnectTimeout)
	if err != nil {
		return nil, err
	}
	b.clients[uri] = client
	return client, nil
}

// Prune disconnects the clients the last Build did not use. Call it after the
// registry has dropped the sources of the previous build.
func (b *sourceBuilder) Prune(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for uri, client := range b.clients {
		if b.inUse[uri] {
			continue
		}
		if err := client.Disconnect(ctx); err != nil {
			b.logger.Warn("failed to disconnect mongodb client", "error", err)
		}
		delete(b.clients, uri)
	}
}

// Close disconnects every client.
func (b *sourceBuilder) Close(ctx context.Context) {
	b.mu.Lock()
	b.inUse = make(map[string]bool)
	b.mu.Unlock()
	b.Prune(ctx)
}

func (b *sourceBuilder) datasetPath(dataset string) string {
	if filepath.IsAbs(dataset) {
		return dataset
	}
	return filepath.Join(b.dataPath, dataset)
}

func sourceConfig(def *config.SourceDef) application.SourceConfig {
	return application.SourceConfig{
		Name:          def.EffectiveName(),
		Driver:        def.Driver,
		Collection:    def.Collection,
		GeoKey:        def.Key,
		Projection:    def.Projection,
		Query:         domain.Filter(def.Query),
		Select:        domain.Selection(def.Select),
		FilterKey:     def.FilterKey,
		RecencyField:  def.RecencyField,
		Stream:        def.Stream,
		SkipMalformed: def.SkipMalformed,
		Limit:         def.Limit,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
