package application

import (
	"github.com/paulmach/orb"

	"github.com/jobrunner/geosource/internal/domain"
)

// BuildFilter returns the base filter with a WithinBox predicate over box set
// at geoKey. Any existing entry for geoKey is replaced.
//
// The base filter is copied. Sources share their configured filter between
// concurrent requests, so it must never be written to.
func BuildFilter(base domain.Filter, geoKey string, box orb.Bound) domain.Filter {
	filter := base.Clone()
	filter[geoKey] = domain.WithinBox{Box: box}
	return filter
}
