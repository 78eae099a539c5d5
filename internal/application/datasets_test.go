package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jobrunner/geosource/internal/ports/output"
)

func TestDatasetSync_AddsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	storage := &mockStorage{objects: []output.StorageObject{
		{Key: "a.json", ETag: "1"},
		{Key: "b.sqlite", ETag: "1"},
		{Key: "notes.txt", ETag: "1"},
	}}
	reloads := 0
	sync := NewDatasetSync(storage, &output.NoOpMetrics{}, testLogger(), dir, func(context.Context) error {
		reloads++
		return nil
	})
	ctx := context.Background()

	stats, err := sync.Sync(ctx)
	if err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if stats.Added != 2 || stats.Removed != 0 {
		t.Errorf("stats = %+v, want 2 added", stats)
	}
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}
	if sync.DatasetCount() != 2 {
		t.Errorf("DatasetCount() = %d, want 2", sync.DatasetCount())
	}

	// Unchanged remote state downloads nothing and does not reload.
	storage.downloads = nil
	stats, err = sync.Sync(ctx)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if stats.Changed() || len(storage.downloads) != 0 {
		t.Errorf("stats = %+v, downloads = %v, want no changes", stats, storage.downloads)
	}
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}

	// One file changed, one removed.
	storage.objects = []output.StorageObject{{Key: "a.json", ETag: "2"}}
	stats, err = sync.Sync(ctx)
	if err != nil {
		t.Fatalf("third sync failed: %v", err)
	}
	if stats.Updated != 1 || stats.Removed != 1 {
		t.Errorf("stats = %+v, want 1 updated, 1 removed", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.sqlite")); !os.IsNotExist(err) {
		t.Error("removed dataset should be deleted locally")
	}
	if reloads != 2 {
		t.Errorf("reloads = %d, want 2", reloads)
	}
}

func TestDatasetSync_RedownloadsMissingFile(t *testing.T) {
	dir := t.TempDir()
	storage := &mockStorage{objects: []output.StorageObject{{Key: "a.json", Size: 2, LastModified: 100}}}
	sync := NewDatasetSync(storage, &output.NoOpMetrics{}, testLogger(), dir, nil)
	ctx := context.Background()

	if _, err := sync.Sync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "a.json")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	stats, err := sync.Sync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("stats = %+v, want the missing file downloaded again", stats)
	}
}

func TestDatasetSync_Errors(t *testing.T) {
	listErr := errors.New("access denied")
	sync := NewDatasetSync(&mockStorage{listErr: listErr}, &output.NoOpMetrics{}, testLogger(), t.TempDir(), nil)

	if _, err := sync.Sync(context.Background()); !errors.Is(err, listErr) {
		t.Errorf("error = %v, want list error", err)
	}

	storage := &mockStorage{
		objects:     []output.StorageObject{{Key: "a.json"}},
		downloadErr: errors.New("timeout"),
	}
	sync = NewDatasetSync(storage, &output.NoOpMetrics{}, testLogger(), t.TempDir(), nil)
	stats, err := sync.Sync(context.Background())
	if err != nil {
		t.Fatalf("download failures should not fail the sync: %v", err)
	}
	if stats.Added != 0 || sync.DatasetCount() != 0 {
		t.Errorf("stats = %+v, count = %d, want nothing added", stats, sync.DatasetCount())
	}
}
