// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosource/internal/domain"
)

// ShapeService defines the primary port for bounding-box lookups.
type ShapeService interface {
	// GetShapes returns the features of a source inside the request box.
	GetShapes(ctx context.Context, source string, req domain.BoundsRequest) (*geojson.FeatureCollection, error)

	// GetMostRecent returns the newest record of a source inside the request box,
	// or nil if none matches.
	GetMostRecent(ctx context.Context, source string, req domain.BoundsRequest) (*domain.Record, error)
}

// SourceCatalog defines the primary port for source management.
type SourceCatalog interface {
	// ListSources returns all registered sources.
	ListSources(ctx context.Context) ([]domain.SourceInfo, error)

	// GetSource returns a specific source by name.
	GetSource(ctx context.Context, name string) (*domain.SourceInfo, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy       bool              // Overall health status
	Ready         bool              // Ready to accept requests
	SourcesLoaded int               // Number of registered sources
	SourcesReady  int               // Number of connected sources
	Components    map[string]string // Component statuses
}
