// Package projection provides the coordinate reprojection engines.
package projection

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/geosource/internal/domain"
)

// MaxMercatorLatitude is the latitude at which Web Mercator is cut off.
const MaxMercatorLatitude = 85.0511287798

// Builtin reprojects between WGS 84 and Web Mercator without external
// libraries. Any other projection is rejected by Canonical.
type Builtin struct{}

// NewBuiltin creates the built-in projector.
func NewBuiltin() *Builtin {
	return &Builtin{}
}

// Canonical normalizes code and accepts only EPSG:4326 and EPSG:3857 and their aliases.
func (b *Builtin) Canonical(code string) (domain.Projection, error) {
	p, err := domain.ParseProjection(code)
	if err != nil {
		return "", err
	}
	if p.IsProj4() {
		return "", fmt.Errorf("%s (proj4 definitions need the spatialite engine and an EPSG code): %w", p, domain.ErrUnsupportedProjection)
	}
	if p != domain.ProjectionWGS84 && p != domain.ProjectionWebMercator {
		return "", fmt.Errorf("%s (builtin engine supports EPSG:4326 and EPSG:3857): %w", p, domain.ErrUnsupportedProjection)
	}
	return p, nil
}

// ProjectPoint reprojects a single point.
func (b *Builtin) ProjectPoint(_ context.Context, from, to domain.Projection, p orb.Point) (orb.Point, error) {
	fn, err := b.transform(from, to)
	if err != nil {
		return orb.Point{}, err
	}
	if fn == nil {
		return p, nil
	}
	return fn(p), nil
}

// ProjectCollection returns a collection whose feature geometries are
// reprojected copies. The input collection is not modified.
func (b *Builtin) ProjectCollection(_ context.Context, from, to domain.Projection, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	fn, err := b.transform(from, to)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return fc, nil
	}

	out := geojson.NewFeatureCollection()
	out.BBox = fc.BBox
	out.ExtraMembers = fc.ExtraMembers
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		projected := *f
		if f.Geometry != nil {
			projected.Geometry = project.Geometry(orb.Clone(f.Geometry), fn)
		}
		out.Features = append(out.Features, &projected)
	}
	return out, nil
}

// transform returns the point function for the pair, or nil when no change is needed.
func (b *Builtin) transform(from, to domain.Projection) (orb.Projection, error) {
	switch {
	case from == to:
		return nil, nil
	case from == domain.ProjectionWGS84 && to == domain.ProjectionWebMercator:
		return toMercator, nil
	case from == domain.ProjectionWebMercator && to == domain.ProjectionWGS84:
		return project.Mercator.ToWGS84, nil
	default:
		return nil, fmt.Errorf("%s to %s: %w", from, to, domain.ErrUnsupportedProjection)
	}
}

// toMercator clamps the latitude so that polar points stay finite.
func toMercator(p orb.Point) orb.Point {
	p[1] = math.Max(-MaxMercatorLatitude, math.Min(MaxMercatorLatitude, p[1]))
	return project.WGS84.ToMercator(p)
}
