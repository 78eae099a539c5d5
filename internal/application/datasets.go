package application

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Updated int
	Removed int
}

// Changed returns true if the sync touched any local file.
func (s SyncStats) Changed() bool {
	return s.Added+s.Updated+s.Removed > 0
}

// DatasetSync mirrors dataset files from object storage into a local directory
// used by file based sources. After a sync that changed files the OnChange
// callback is invoked, typically to reload the sources.
type DatasetSync struct {
	mu        sync.Mutex
	storage   output.ObjectStorage
	metrics   output.MetricsCollector
	logger    *slog.Logger
	localPath string
	known     map[string]output.StorageObject // key -> last downloaded version
	onChange  func(ctx context.Context) error
}

// NewDatasetSync creates a dataset synchronizer.
func NewDatasetSync(
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	localPath string,
	onChange func(ctx context.Context) error,
) *DatasetSync {
	return &DatasetSync{
		storage:   storage,
		metrics:   metrics,
		logger:    logger,
		localPath: localPath,
		known:     make(map[string]output.StorageObject),
		onChange:  onChange,
	}
}

// Sync downloads new and changed dataset files and removes local copies of
// files that no longer exist in remote storage.
func (d *DatasetSync) Sync(ctx context.Context) (SyncStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("syncing datasets from storage")

	start := time.Now()
	objects, err := d.storage.List(ctx)
	d.metrics.IncStorageOperations("list", err == nil)
	d.metrics.ObserveStorageDuration("list", time.Since(start))
	if err != nil {
		return SyncStats{}, err
	}

	remote := make(map[string]output.StorageObject, len(objects))
	for _, obj := range objects {
		if domain.IsDatasetFile(obj.Key) {
			remote[obj.Key] = obj
		}
	}

	stats := SyncStats{}

	for key, obj := range remote {
		previous, seen := d.known[key]
		localPath := filepath.Join(d.localPath, key)
		if seen && previous.SameVersion(obj) && fileExists(localPath) {
			d.logger.Debug("dataset unchanged, skipping", "key", key)
			continue
		}

		start := time.Now()
		err := d.storage.Download(ctx, key, localPath)
		d.metrics.IncStorageOperations("download", err == nil)
		d.metrics.ObserveStorageDuration("download", time.Since(start))
		if err != nil {
			d.logger.Error("failed to download dataset", "key", key, "error", err)
			continue
		}

		d.known[key] = obj
		if seen {
			stats.Updated++
			d.logger.Info("dataset updated", "key", key)
		} else {
			stats.Added++
			d.logger.Info("new dataset synced", "key", key)
		}
	}

	for key := range d.known {
		if _, exists := remote[key]; exists {
			continue
		}
		localPath := filepath.Join(d.localPath, key)
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to delete local dataset", "path", localPath, "error", err)
			continue
		}
		delete(d.known, key)
		stats.Removed++
		d.logger.Info("removed dataset not in remote storage", "key", key)
	}

	if stats.Changed() && d.onChange != nil {
		if err := d.onChange(ctx); err != nil {
			d.logger.Error("reload after sync failed", "error", err)
		}
	}

	d.logger.Info("dataset sync completed",
		"added", stats.Added,
		"updated", stats.Updated,
		"removed", stats.Removed,
		"total", len(d.known),
	)
	return stats, nil
}

// DatasetCount returns the number of datasets mirrored locally.
func (d *DatasetSync) DatasetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.known)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
