package application

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// TransformBounds converts a box from the caller's projection into the native
// projection of a source. Each corner is projected as an isolated point, which
// is an approximation: the true extent of the box in the target system may be
// larger than the box spanned by the two projected corners.
//
// The box is returned unchanged when both projections are the same.
func TransformBounds(ctx context.Context, projector output.Projector, box orb.Bound, caller, native domain.Projection) (orb.Bound, error) {
	if caller == native {
		return box, nil
	}

	lo, err := projector.ProjectPoint(ctx, caller, native, box.Min)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("project min corner: %w", err)
	}
	hi, err := projector.ProjectPoint(ctx, caller, native, box.Max)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("project max corner: %w", err)
	}

	return orb.Bound{Min: lo, Max: lo}.Extend(hi), nil
}
