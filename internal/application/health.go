package application

import (
	"context"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry *SourceRegistry
}

// NewHealthService creates a new health service.
func NewHealthService(registry *SourceRegistry) *HealthService {
	return &HealthService{
		registry: registry,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true if at least one source is connected or none is configured.
func (s *HealthService) IsReady(ctx context.Context) bool {
	sources, err := s.registry.ListSources(ctx)
	if err != nil {
		return false
	}

	for _, src := range sources {
		if src.IsReady() {
			return true
		}
	}

	return len(sources) == 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	sources, _ := s.registry.ListSources(ctx)

	ready := 0
	components := make(map[string]string, len(sources))
	for _, src := range sources {
		if src.IsReady() {
			ready++
		}
		components["source:"+src.Name] = string(src.Status)
	}

	return input.HealthDetails{
		Healthy:       s.IsHealthy(ctx),
		Ready:         s.IsReady(ctx),
		SourcesLoaded: len(sources),
		SourcesReady:  ready,
		Components:    components,
	}
}

// SourceHealth contains health info for a single source.
type SourceHealth struct {
	Name   string
	Status domain.SourceStatus
	Ready  bool
	Error  string
}

// GetSourceHealth returns health info for all sources.
func (s *HealthService) GetSourceHealth(ctx context.Context) []SourceHealth {
	sources, _ := s.registry.ListSources(ctx)

	health := make([]SourceHealth, len(sources))
	for i, src := range sources {
		health[i] = SourceHealth{
			Name:   src.Name,
			Status: src.Status,
			Ready:  src.IsReady(),
			Error:  src.Error,
		}
	}

	return health
}
