package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/domain"
)

// DriverName is the database/sql driver that loads SpatiaLite on connect.
const DriverName = "sqlite3_with_extensions"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		Extensions: getSpatiaLiteLibraryPaths(),
	})
}

// getSpatiaLiteLibraryPaths returns a list of paths to try for loading SpatiaLite.
// The order is important: environment variable first, then platform-specific paths.
func getSpatiaLiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	return []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu amd64
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",

		// Debian/Ubuntu arm64
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",

		// Generic names resolved through LD_LIBRARY_PATH
		"mod_spatialite.so",
		"mod_spatialite",
		"mod_spatialite.dylib",
	}
}

// SpatiaLite reprojects between any two EPSG systems known to SpatiaLite's
// spatial_ref_sys table. It keeps a private in-memory database.
type SpatiaLite struct {
	db *sql.DB

	mu    sync.RWMutex
	srids map[int]bool // srid -> present in spatial_ref_sys
}

// NewSpatiaLite opens the in-memory database and initializes the spatial
// reference table.
func NewSpatiaLite(ctx context.Context) (*SpatiaLite, error) {
	db, err := sql.Open(DriverName, "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("opening spatialite database: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}

	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaData(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing spatial metadata: %w", err)
	}

	return &SpatiaLite{db: db, srids: make(map[int]bool)}, nil
}

// Close closes the database.
func (s *SpatiaLite) Close() error {
	return s.db.Close()
}

// Canonical normalizes code and checks that SpatiaLite knows its SRID.
func (s *SpatiaLite) Canonical(code string) (domain.Projection, error) {
	p, err := domain.ParseProjection(code)
	if err != nil {
		return "", err
	}
	if _, err := s.srid(context.Background(), p); err != nil {
		return "", err
	}
	return p, nil
}

// ProjectPoint reprojects a single point.
func (s *SpatiaLite) ProjectPoint(ctx context.Context, from, to domain.Projection, p orb.Point) (orb.Point, error) {
	if from == to {
		return p, nil
	}
	fromSRID, toSRID, err := s.pair(ctx, from, to)
	if err != nil {
		return orb.Point{}, err
	}

	var x, y sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT X(t), Y(t) FROM (SELECT Transform(MakePoint(?, ?, ?), ?) AS t)`,
		p[0], p[1], fromSRID, toSRID,
	).Scan(&x, &y)
	if err != nil {
		return orb.Point{}, fmt.Errorf("transforming point: %w", err)
	}
	if !x.Valid || !y.Valid {
		return orb.Point{}, fmt.Errorf("transforming point %v from %s to %s: no result", p, from, to)
	}
	return orb.Point{x.Float64, y.Float64}, nil
}

// ProjectCollection returns a collection whose feature geometries are
// reprojected by SpatiaLite. The input collection is not modified.
func (s *SpatiaLite) ProjectCollection(ctx context.Context, from, to domain.Projection, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	if from == to {
		return fc, nil
	}
	fromSRID, toSRID, err := s.pair(ctx, from, to)
	if err != nil {
		return nil, err
	}

	out := geojson.NewFeatureCollection()
	out.BBox = fc.BBox
	out.ExtraMembers = fc.ExtraMembers
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		projected := *f
		if f.Geometry != nil {
			g, err := s.projectGeometry(ctx, f.Geometry, fromSRID, toSRID)
			if err != nil {
				return nil, fmt.Errorf("feature %v: %w", f.ID, err)
			}
			projected.Geometry = g
		}
		out.Features = append(out.Features, &projected)
	}
	return out, nil
}

func (s *SpatiaLite) projectGeometry(ctx context.Context, g orb.Geometry, fromSRID, toSRID int) (orb.Geometry, error) {
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, err
	}

	var result sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT AsGeoJSON(Transform(SetSRID(GeomFromGeoJSON(?), ?), ?), 15)`,
		string(data), fromSRID, toSRID,
	).Scan(&result)
	if err != nil {
		return nil, fmt.Errorf("transforming geometry: %w", err)
	}
	if !result.Valid {
		return nil, errors.New("transforming geometry: no result")
	}

	projected, err := geojson.UnmarshalGeometry([]byte(result.String))
	if err != nil {
		return nil, fmt.Errorf("decoding transformed geometry: %w", err)
	}
	return projected.Geometry(), nil
}

func (s *SpatiaLite) pair(ctx context.Context, from, to domain.Projection) (int, int, error) {
	fromSRID, err := s.srid(ctx, from)
	if err != nil {
		return 0, 0, err
	}
	toSRID, err := s.srid(ctx, to)
	if err != nil {
		return 0, 0, err
	}
	return fromSRID, toSRID, nil
}

// srid returns the EPSG code of p if spatial_ref_sys contains it.
func (s *SpatiaLite) srid(ctx context.Context, p domain.Projection) (int, error) {
	if p.IsProj4() {
		return 0, fmt.Errorf("%s (proj4 definitions need an EPSG code): %w", p, domain.ErrUnsupportedProjection)
	}
	srid, ok := p.SRID()
	if !ok {
		return 0, fmt.Errorf("%s: %w", p, domain.ErrUnsupportedProjection)
	}

	s.mu.RLock()
	known, cached := s.srids[srid]
	s.mu.RUnlock()

	if !cached {
		var count int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spatial_ref_sys WHERE srid = ?`, srid).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("looking up %s: %w", p, err)
		}
		known = count > 0

		s.mu.Lock()
		s.srids[srid] = known
		s.mu.Unlock()
	}

	if !known {
		return 0, fmt.Errorf("%s is not in spatial_ref_sys: %w", p, domain.ErrUnsupportedProjection)
	}
	return srid, nil
}
