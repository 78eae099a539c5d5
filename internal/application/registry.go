// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// SourceRegistry manages the configured data sources and routes lookups to them.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]*sourceEntry
	metrics output.MetricsCollector
	logger  *slog.Logger
}

type sourceEntry struct {
	Source   *Source
	Status   domain.SourceStatus
	LoadedAt time.Time
	Error    error
}

// NewSourceRegistry creates a new source registry.
func NewSourceRegistry(metrics output.MetricsCollector, logger *slog.Logger) *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[string]*sourceEntry),
		metrics: metrics,
		logger:  logger,
	}
}

// Load connects the source's store and registers it under its name. A source
// already registered under that name is replaced and its store closed.
// A source whose store fails to connect stays registered with StatusError.
func (r *SourceRegistry) Load(ctx context.Context, src *Source) error {
	name := src.Name()
	r.logger.Info("loading source", "name", name, "collection", src.cfg.Collection, "driver", src.cfg.Driver)

	entry := &sourceEntry{Source: src, Status: domain.StatusConnecting}

	if err := src.Store().Connect(ctx); err != nil {
		r.logger.Error("failed to connect source", "name", name, "error", err)
		entry.Status = domain.StatusError
		entry.Error = err
	} else {
		entry.Status = domain.StatusReady
		entry.LoadedAt = time.Now()
		r.checkCollection(ctx, src)
	}

	r.mu.Lock()
	previous := r.sources[name]
	r.sources[name] = entry
	r.mu.Unlock()

	if previous != nil {
		r.closeEntry(ctx, name, previous)
	}

	r.updateMetrics()
	if entry.Error != nil {
		return fmt.Errorf("connect source %s: %w", name, entry.Error)
	}
	r.logger.Info("source loaded", "name", name, "projection", src.Native())
	return nil
}

// checkCollection warns when a store that lists its collections lacks the
// configured one. The source stays ready since the collection may be created
// later, e.g. by an import.
func (r *SourceRegistry) checkCollection(ctx context.Context, src *Source) {
	lister, ok := src.Store().(output.CollectionLister)
	if !ok {
		return
	}
	names, err := lister.Collections(ctx)
	if err != nil {
		r.logger.Warn("failed to list collections", "name", src.Name(), "error", err)
		return
	}
	if !slices.Contains(names, src.cfg.Collection) {
		r.logger.Warn("collection not found in source", "name", src.Name(), "collection", src.cfg.Collection, "available", names)
	}
}

// Unload removes a source and closes its store.
func (r *SourceRegistry) Unload(ctx context.Context, name string) error {
	r.logger.Info("unloading source", "name", name)

	r.mu.Lock()
	entry, ok := r.sources[name]
	if ok {
		entry.Status = domain.StatusClosing
		delete(r.sources, name)
	}
	r.mu.Unlock()

	if !ok {
		return domain.ErrSourceNotFound
	}

	err := entry.Source.Store().Close(ctx)
	if err != nil {
		r.logger.Error("failed to close source", "name", name, "error", err)
	}
	r.updateMetrics()
	return err
}

// ReloadStats contains statistics from a reload.
type ReloadStats struct {
	Loaded  int
	Removed int
	Failed  int
}

// Reload replaces the registered sources with the given set. Every given source
// is (re)loaded; registered sources missing from the set are unloaded.
func (r *SourceRegistry) Reload(ctx context.Context, sources []*Source) ReloadStats {
	stats := ReloadStats{}
	keep := make(map[string]bool, len(sources))

	for _, src := range sources {
		keep[src.Name()] = true
		if err := r.Load(ctx, src); err != nil {
			stats.Failed++
			continue
		}
		stats.Loaded++
	}

	for _, name := range r.Names() {
		if keep[name] {
			continue
		}
		if err := r.Unload(ctx, name); err != nil {
			r.logger.Warn("failed to unload source", "name", name, "error", err)
		}
		stats.Removed++
	}

	r.logger.Info("sources reloaded", "loaded", stats.Loaded, "failed", stats.Failed, "removed", stats.Removed)
	return stats
}

// Close unloads every source.
func (r *SourceRegistry) Close(ctx context.Context) error {
	var firstErr error
	for _, name := range r.Names() {
		if err := r.Unload(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *SourceRegistry) closeEntry(ctx context.Context, name string, entry *sourceEntry) {
	if err := entry.Source.Store().Close(ctx); err != nil {
		r.logger.Warn("failed to close replaced source", "name", name, "error", err)
	}
}

// ListSources returns all registered sources sorted by name.
func (r *SourceRegistry) ListSources(_ context.Context) ([]domain.SourceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]domain.SourceInfo, 0, len(r.sources))
	for _, entry := range r.sources {
		infos = append(infos, entry.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

// GetSource returns a specific source by name.
func (r *SourceRegistry) GetSource(_ context.Context, name string) (*domain.SourceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sources[name]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}

	info := entry.info()
	return &info, nil
}

func (e *sourceEntry) info() domain.SourceInfo {
	info := e.Source.Info()
	info.Status = e.Status
	info.LoadedAt = e.LoadedAt
	if e.Error != nil {
		info.Error = e.Error.Error()
	}
	return info
}

// Source returns a ready source by name.
func (r *SourceRegistry) Source(name string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sources[name]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	if entry.Status != domain.StatusReady {
		return nil, fmt.Errorf("source %s is %s: %w", name, entry.Status, domain.ErrNotConnected)
	}
	return entry.Source, nil
}

// GetShapes looks up the named source and returns its features in the box.
func (r *SourceRegistry) GetShapes(ctx context.Context, name string, req domain.BoundsRequest) (*geojson.FeatureCollection, error) {
	src, err := r.Source(name)
	if err != nil {
		return nil, err
	}
	return src.GetShapes(ctx, req)
}

// GetMostRecent looks up the named source and returns its newest record in the box.
func (r *SourceRegistry) GetMostRecent(ctx context.Context, name string, req domain.BoundsRequest) (*domain.Record, error) {
	src, err := r.Source(name)
	if err != nil {
		return nil, err
	}
	return src.GetMostRecent(ctx, req)
}

// Names returns the names of all registered sources, sorted.
func (r *SourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsLoaded returns true if a source with the given name is registered.
func (r *SourceRegistry) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[name]
	return ok
}

// SourceCount returns the number of registered sources.
func (r *SourceRegistry) SourceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// updateMetrics updates the metrics collector with current source counts.
func (r *SourceRegistry) updateMetrics() {
	r.mu.RLock()
	total := len(r.sources)
	ready := 0
	for _, entry := range r.sources {
		if entry.Status == domain.StatusReady {
			ready++
		}
	}
	r.mu.RUnlock()

	r.metrics.SetSourcesLoaded(total)
	r.metrics.SetSourcesReady(ready)
}
