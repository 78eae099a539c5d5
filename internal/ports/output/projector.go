package output

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/domain"
)

// Projector defines the secondary port for coordinate reprojection.
type Projector interface {
	// Canonical normalizes a projection code. It returns an error wrapping
	// domain.ErrUnsupportedProjection if the engine cannot handle it.
	Canonical(code string) (domain.Projection, error)

	// ProjectPoint reprojects a single point.
	ProjectPoint(ctx context.Context, from, to domain.Projection, p orb.Point) (orb.Point, error)

	// ProjectCollection reprojects the geometry of every feature. Feature
	// properties are left alone.
	ProjectCollection(ctx context.Context, from, to domain.Projection, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error)
}
