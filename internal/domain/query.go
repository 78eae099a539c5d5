package domain

import (
	"math"

	"github.com/paulmach/orb"
)

// Filter is a store query filter keyed by document path. Values are either
// plain values matched by equality, operator documents such as {"$in": [...]},
// or a WithinBox predicate.
type Filter map[string]interface{}

// Clone returns a shallow copy of the filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Selection chooses which document fields a store returns, as a map from
// path to 1 (include) or 0 (exclude).
type Selection map[string]interface{}

// WithinBox is a spatial predicate matching documents whose geometry at the
// filtered path lies inside Box.
type WithinBox struct {
	Box orb.Bound
}

// Corners returns the box as [[minX, minY], [maxX, maxY]].
func (w WithinBox) Corners() [][]float64 {
	return [][]float64{
		{w.Box.Min[0], w.Box.Min[1]},
		{w.Box.Max[0], w.Box.Max[1]},
	}
}

// ContainsBound returns true if b lies completely inside the box.
func (w WithinBox) ContainsBound(b orb.Bound) bool {
	return b.Min[0] >= w.Box.Min[0] && b.Max[0] <= w.Box.Max[0] &&
		b.Min[1] >= w.Box.Min[1] && b.Max[1] <= w.Box.Max[1]
}

// SortField orders results by a document path.
type SortField struct {
	Field      string
	Descending bool
}

// Query is the store-level description of a lookup. Box is expressed in the
// store's native projection and is also present as a WithinBox under GeoKey
// in Filter.
type Query struct {
	Collection string
	Filter     Filter
	Select     Selection
	GeoKey     string
	Box        orb.Bound
	Sort       []SortField
	Limit      int64
}

// BoundsRequest is a bounding-box lookup in the caller's projection.
type BoundsRequest struct {
	MinX        float64
	MinY        float64
	MaxX        float64
	MaxY        float64
	Projection  string // Caller projection, canonicalized by the source
	FilterValue string // Value for the source's secondary filter key (optional)
}

// NewBoundsRequest creates a request from corner coordinates.
func NewBoundsRequest(minX, minY, maxX, maxY float64, projection string) BoundsRequest {
	return BoundsRequest{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, Projection: projection}
}

// Bound returns the request box.
func (r BoundsRequest) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.MinX, r.MinY},
		Max: orb.Point{r.MaxX, r.MaxY},
	}
}

// Validate checks that the box corners are finite and ordered.
func (r BoundsRequest) Validate() error {
	for _, v := range []float64{r.MinX, r.MinY, r.MaxX, r.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{
				Field:      "bbox",
				Value:      v,
				Constraint: "finite",
				Message:    "bounding box coordinates must be finite numbers",
			}
		}
	}
	if r.MinX > r.MaxX || r.MinY > r.MaxY {
		return &ValidationError{
			Field:      "bbox",
			Value:      [4]float64{r.MinX, r.MinY, r.MaxX, r.MaxY},
			Constraint: "minx <= maxx, miny <= maxy",
			Message:    "bounding box minimum must not exceed maximum",
		}
	}
	return nil
}
