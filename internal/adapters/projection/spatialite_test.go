package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/domain"
)

func TestGetSpatiaLiteLibraryPaths(t *testing.T) {
	t.Run("environment override", func(t *testing.T) {
		t.Setenv("SPATIALITE_LIBRARY_PATH", "/opt/spatialite/mod_spatialite.so")
		paths := getSpatiaLiteLibraryPaths()
		if len(paths) != 1 || paths[0] != "/opt/spatialite/mod_spatialite.so" {
			t.Errorf("getSpatiaLiteLibraryPaths() = %v, want only the env path", paths)
		}
	})

	t.Run("platform defaults", func(t *testing.T) {
		t.Setenv("SPATIALITE_LIBRARY_PATH", "")
		paths := getSpatiaLiteLibraryPaths()
		if len(paths) < 2 {
			t.Fatalf("getSpatiaLiteLibraryPaths() returned %d paths", len(paths))
		}
		if paths[len(paths)-1] != "mod_spatialite.dylib" {
			t.Errorf("last path = %q, want generic name", paths[len(paths)-1])
		}
	})
}

// newTestSpatiaLite skips the test when the extension cannot be loaded.
func newTestSpatiaLite(t *testing.T) *SpatiaLite {
	t.Helper()
	s, err := NewSpatiaLite(context.Background())
	if err != nil {
		t.Skipf("SpatiaLite not available: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSpatiaLiteCanonical(t *testing.T) {
	s := newTestSpatiaLite(t)

	tests := []struct {
		code    string
		want    domain.Projection
		wantErr bool
	}{
		{"", domain.ProjectionWGS84, false},
		{"EPSG:25832", "EPSG:25832", false},
		{"google", domain.ProjectionWebMercator, false},
		{"EPSG:999999", "", true},
		{"+proj=merc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := s.Canonical(tt.code)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnsupportedProjection) {
					t.Errorf("Canonical(%q) error = %v, want ErrUnsupportedProjection", tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Canonical(%q) error: %v", tt.code, err)
			}
			if got != tt.want {
				t.Errorf("Canonical(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestSpatiaLiteMatchesBuiltin(t *testing.T) {
	s := newTestSpatiaLite(t)
	b := NewBuiltin()
	ctx := context.Background()

	for _, p := range []orb.Point{{0, 0}, {13.4, 52.5}, {-122.4, 37.8}} {
		want, _ := b.ProjectPoint(ctx, domain.ProjectionWGS84, domain.ProjectionWebMercator, p)
		got, err := s.ProjectPoint(ctx, domain.ProjectionWGS84, domain.ProjectionWebMercator, p)
		if err != nil {
			t.Fatalf("ProjectPoint(%v) error: %v", p, err)
		}
		if !closeTo(got, want, 0.01) {
			t.Errorf("ProjectPoint(%v) = %v, want %v", p, got, want)
		}
	}
}

func TestSpatiaLiteProjectCollection(t *testing.T) {
	s := newTestSpatiaLite(t)

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {10, 10}}))

	out, err := s.ProjectCollection(context.Background(), domain.ProjectionWGS84, domain.ProjectionWebMercator, fc)
	if err != nil {
		t.Fatalf("ProjectCollection() error: %v", err)
	}
	ls, ok := out.Features[0].Geometry.(orb.LineString)
	if !ok || len(ls) != 2 {
		t.Fatalf("geometry = %#v, want two point line string", out.Features[0].Geometry)
	}
	if ls[1][0] < 1_000_000 {
		t.Errorf("x = %v, want mercator metres", ls[1][0])
	}
	if fc.Features[0].Geometry.(orb.LineString)[1] != (orb.Point{10, 10}) {
		t.Error("input collection was modified")
	}
}
