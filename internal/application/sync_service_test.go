package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/geosource/internal/ports/output"
)

func newTestSyncService(t *testing.T, storage *mockStorage, interval time.Duration) *SyncService {
	t.Helper()
	datasets := NewDatasetSync(storage, &output.NoOpMetrics{}, testLogger(), t.TempDir(), nil)
	registry := NewSourceRegistry(&output.NoOpMetrics{}, testLogger())
	return NewSyncService(datasets, registry, interval, testLogger())
}

func TestSyncService_RateLimiting(t *testing.T) {
	service := newTestSyncService(t, &mockStorage{}, time.Hour)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }
	ctx := context.Background()

	if wait := service.RetryAfter(); wait != 0 {
		t.Errorf("RetryAfter() before any sync = %v, want 0", wait)
	}

	result, err := service.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("first sync should succeed, got error: %v", err)
	}
	if result.DatasetsAdded != 0 || result.Reloaded {
		t.Errorf("result = %+v, want nothing added with empty storage", result)
	}
	if !result.NextScheduledAt.Equal(now.Add(time.Hour)) {
		t.Errorf("NextScheduledAt = %v, want one interval after the manual sync", result.NextScheduledAt)
	}

	now = now.Add(10 * time.Second)
	if _, err := service.TriggerSync(ctx); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if wait := service.RetryAfter(); wait != 20*time.Second {
		t.Errorf("RetryAfter() = %v, want 20s", wait)
	}

	now = now.Add(SyncCooldown)
	if _, err := service.TriggerSync(ctx); err != nil {
		t.Errorf("sync after the cooldown failed: %v", err)
	}
}

func TestSyncService_StartStop(t *testing.T) {
	service := newTestSyncService(t, &mockStorage{}, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	if service.NextSync().IsZero() {
		t.Error("NextSync() should be set once the scheduler runs")
	}
	service.Stop()
	service.Stop()
}

func TestSyncService_ScheduledSync(t *testing.T) {
	storage := &mockStorage{objects: []output.StorageObject{{Key: "a.json", ETag: "1"}}}
	service := newTestSyncService(t, storage, 20*time.Millisecond)

	service.Start(context.Background())
	defer service.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for service.datasets.DatasetCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled sync never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncService_Interval(t *testing.T) {
	interval := 2 * time.Hour
	service := newTestSyncService(t, &mockStorage{}, interval)

	if service.Interval() != interval {
		t.Errorf("expected interval %v, got %v", interval, service.Interval())
	}
}

func TestSyncService_SyncAddsNewDatasets(t *testing.T) {
	storage := &mockStorage{
		objects: []output.StorageObject{
			{Key: "test1.json"},
			{Key: "test2.sqlite"},
		},
	}
	service := newTestSyncService(t, storage, time.Hour)

	result, err := service.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.DatasetsAdded != 2 || result.DatasetsTotal != 2 {
		t.Errorf("result = %+v, want 2 added of 2", result)
	}
	if !result.Reloaded {
		t.Error("a sync that added datasets should report a reload")
	}
}

func TestSyncService_SyncError(t *testing.T) {
	service := newTestSyncService(t, &mockStorage{listErr: errors.New("denied")}, time.Hour)

	if _, err := service.TriggerSync(context.Background()); err == nil {
		t.Error("expected the storage error")
	}
}
