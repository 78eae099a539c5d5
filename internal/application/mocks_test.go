package application

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockStore implements output.RecordStore for testing.
type mockStore struct {
	mu         sync.Mutex
	records    []domain.Record
	recent     *domain.Record
	connectErr error
	findErr    error
	cursorErr  error
	queries    []domain.Query
	connected  bool
	closed     int
}

func (m *mockStore) Connect(_ context.Context) error {
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockStore) Close(_ context.Context) error {
	m.closed++
	return nil
}

func (m *mockStore) record(q domain.Query) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
}

func (m *mockStore) lastQuery() domain.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return domain.Query{}
	}
	return m.queries[len(m.queries)-1]
}

func (m *mockStore) FindOne(_ context.Context, q domain.Query) (*domain.Record, error) {
	m.record(q)
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.recent == nil {
		return nil, domain.ErrRecordNotFound
	}
	return m.recent, nil
}

func (m *mockStore) Find(_ context.Context, q domain.Query) ([]domain.Record, error) {
	m.record(q)
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.records, nil
}

func (m *mockStore) Stream(_ context.Context, q domain.Query) (output.RecordCursor, error) {
	m.record(q)
	if m.findErr != nil {
		return nil, m.findErr
	}
	return &mockCursor{SliceCursor: output.NewSliceCursor(m.records), err: m.cursorErr}, nil
}

// mockCursor wraps a SliceCursor and reports err once exhausted.
type mockCursor struct {
	*output.SliceCursor
	err    error
	closed bool
}

func (c *mockCursor) Err() error { return c.err }

func (c *mockCursor) Close(_ context.Context) error {
	c.closed = true
	return nil
}

// mockProjector implements output.Projector for EPSG:4326 and EPSG:3857 using
// the spherical mercator formulas.
type mockProjector struct {
	pointCalls int
	failWith   error
}

func (m *mockProjector) Canonical(code string) (domain.Projection, error) {
	p, err := domain.ParseProjection(code)
	if err != nil {
		return "", err
	}
	if p != domain.ProjectionWGS84 && p != domain.ProjectionWebMercator {
		return "", domain.ErrUnsupportedProjection
	}
	return p, nil
}

func (m *mockProjector) fn(from, to domain.Projection) orb.Projection {
	if from == domain.ProjectionWGS84 && to == domain.ProjectionWebMercator {
		return project.WGS84.ToMercator
	}
	return project.Mercator.ToWGS84
}

func (m *mockProjector) ProjectPoint(_ context.Context, from, to domain.Projection, p orb.Point) (orb.Point, error) {
	m.pointCalls++
	if m.failWith != nil {
		return orb.Point{}, m.failWith
	}
	return m.fn(from, to)(p), nil
}

func (m *mockProjector) ProjectCollection(_ context.Context, from, to domain.Projection, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	fn := m.fn(from, to)
	for _, f := range fc.Features {
		f.Geometry = project.Geometry(f.Geometry, fn)
	}
	return fc, nil
}

// mockMetrics records the calls the application makes.
type mockMetrics struct {
	output.NoOpMetrics
	mu        sync.Mutex
	queries   map[string]int
	malformed int
	loaded    int
	ready     int
	features  int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{queries: make(map[string]int)}
}

func (m *mockMetrics) IncQueryCount(_, operation string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := operation + ":ok"
	if !success {
		key = operation + ":error"
	}
	m.queries[key]++
}

func (m *mockMetrics) ObserveFeatureCount(_ string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features = count
}

func (m *mockMetrics) IncMalformedRecords(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed++
}

func (m *mockMetrics) SetSourcesLoaded(count int) { m.loaded = count }

func (m *mockMetrics) SetSourcesReady(count int) { m.ready = count }

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	downloads   []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloads = append(m.downloads, key)
	return os.WriteFile(dest, []byte("[]"), 0o600)
}

// listingStore adds output.CollectionLister to mockStore.
type listingStore struct {
	*mockStore
	collections []string
}

func (s *listingStore) Collections(_ context.Context) ([]string, error) {
	return s.collections, nil
}
