package domain

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
)

func TestFilterClone(t *testing.T) {
	base := Filter{"survey": "spring"}

	clone := base.Clone()
	clone["geo_info.centroid"] = WithinBox{}

	if len(base) != 1 {
		t.Errorf("len(base) = %d, want 1", len(base))
	}
	if clone["survey"] != "spring" {
		t.Errorf("clone[survey] = %v, want spring", clone["survey"])
	}
}

func TestFilterCloneNil(t *testing.T) {
	var base Filter
	clone := base.Clone()
	if clone == nil {
		t.Fatal("Clone of a nil filter should return an empty filter")
	}
	clone["k"] = "v"
}

func TestWithinBoxCorners(t *testing.T) {
	w := WithinBox{Box: orb.Bound{Min: orb.Point{-1, -2}, Max: orb.Point{3, 4}}}

	want := [][]float64{{-1, -2}, {3, 4}}
	if got := w.Corners(); !reflect.DeepEqual(got, want) {
		t.Errorf("Corners() = %v, want %v", got, want)
	}
}

func TestWithinBoxContainsBound(t *testing.T) {
	w := WithinBox{Box: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}}

	tests := []struct {
		name string
		b    orb.Bound
		want bool
	}{
		{"inside", orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}, true},
		{"equal", w.Box, true},
		{"crossing", orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{11, 11}}, false},
		{"outside", orb.Bound{Min: orb.Point{20, 20}, Max: orb.Point{21, 21}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.ContainsBound(tt.b); got != tt.want {
				t.Errorf("ContainsBound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoundsRequestBound(t *testing.T) {
	r := NewBoundsRequest(1, 2, 3, 4, "EPSG:4326")

	want := orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}
	if got := r.Bound(); !got.Equal(want) {
		t.Errorf("Bound() = %v, want %v", got, want)
	}
	if r.Projection != "EPSG:4326" {
		t.Errorf("Projection = %q, want EPSG:4326", r.Projection)
	}
}

func TestBoundsRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     BoundsRequest
		wantErr bool
	}{
		{name: "valid", req: NewBoundsRequest(-10, -10, 10, 10, "")},
		{name: "degenerate point", req: NewBoundsRequest(1, 1, 1, 1, "")},
		{name: "swapped x", req: NewBoundsRequest(10, -10, -10, 10, ""), wantErr: true},
		{name: "swapped y", req: NewBoundsRequest(-10, 10, 10, -10, ""), wantErr: true},
		{name: "nan", req: NewBoundsRequest(math.NaN(), 0, 1, 1, ""), wantErr: true},
		{name: "infinite", req: NewBoundsRequest(0, 0, math.Inf(1), 1, ""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error should wrap ErrInvalidInput, got %v", err)
			}
		})
	}
}
