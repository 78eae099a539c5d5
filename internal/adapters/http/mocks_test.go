package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/application"
	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/input"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockShapes implements input.ShapeService for testing.
type mockShapes struct {
	mu        sync.Mutex
	fc        *geojson.FeatureCollection
	recent    *domain.Record
	err       error
	block     bool
	lastName  string
	lastReq   domain.BoundsRequest
	callCount int
}

func (m *mockShapes) remember(name string, req domain.BoundsRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastName = name
	m.lastReq = req
	m.callCount++
}

func (m *mockShapes) GetShapes(ctx context.Context, name string, req domain.BoundsRequest) (*geojson.FeatureCollection, error) {
	m.remember(name, req)
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.fc, nil
}

func (m *mockShapes) GetMostRecent(_ context.Context, name string, req domain.BoundsRequest) (*domain.Record, error) {
	m.remember(name, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.recent, nil
}

// mockCatalog implements input.SourceCatalog for testing.
type mockCatalog struct {
	sources []domain.SourceInfo
	err     error
}

func (m *mockCatalog) ListSources(_ context.Context) ([]domain.SourceInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sources, nil
}

func (m *mockCatalog) GetSource(_ context.Context, name string) (*domain.SourceInfo, error) {
	for i := range m.sources {
		if m.sources[i].Name == name {
			return &m.sources[i], nil
		}
	}
	return nil, domain.ErrSourceNotFound
}

// mockHealth implements input.HealthChecker for testing.
type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }

func (m *mockHealth) IsReady(_ context.Context) bool { return m.ready }

func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:       m.healthy,
		Ready:         m.ready,
		SourcesLoaded: 2,
		SourcesReady:  1,
		Components:    map[string]string{"source:parcels": "ready", "source:trees": "error"},
	}
}

// mockSyncer implements Syncer for testing.
type mockSyncer struct {
	result     application.SyncResult
	err        error
	retryAfter time.Duration
}

func (m *mockSyncer) TriggerSync(_ context.Context) (application.SyncResult, error) {
	return m.result, m.err
}

func (m *mockSyncer) RetryAfter() time.Duration { return m.retryAfter }

// mockInstrumentation implements Instrumentation for testing.
type mockInstrumentation struct {
	mu       sync.Mutex
	observed int
}

func (m *mockInstrumentation) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "geosource_sources_loaded 2\n")
	})
}

func (m *mockInstrumentation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		m.mu.Lock()
		m.observed++
		m.mu.Unlock()
	})
}
