package domain

import (
	"errors"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
)

func surveyDocument() map[string]interface{} {
	return map[string]interface{}{
		"_id":       "d1",
		"object_id": "lot-9",
		"survey":    "spring",
		"score":     int32(7),
		"tags":      []interface{}{"vacant", "corner"},
		"geo_info": map[string]interface{}{
			"humanReadableName": "9 Oak Ave",
			"centroid":          []interface{}{5.0, 5.0},
			"geometry": map[string]interface{}{
				"type":        "Polygon",
				"coordinates": []interface{}{[]interface{}{[]interface{}{4.0, 4.0}, []interface{}{6.0, 4.0}, []interface{}{6.0, 6.0}, []interface{}{4.0, 4.0}}},
			},
		},
	}
}

func TestLookupPath(t *testing.T) {
	doc := surveyDocument()

	tests := []struct {
		path   string
		wantOK bool
	}{
		{"survey", true},
		{"geo_info.centroid", true},
		{"geo_info.humanReadableName", true},
		{"geo_info.missing", false},
		{"survey.nested", false},
		{"absent", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, ok := LookupPath(doc, tt.path)
			if ok != tt.wantOK {
				t.Errorf("LookupPath(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	box := func(minX, minY, maxX, maxY float64) WithinBox {
		return WithinBox{Box: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}}
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty filter", filter: Filter{}, want: true},
		{name: "equality", filter: Filter{"survey": "spring"}, want: true},
		{name: "equality mismatch", filter: Filter{"survey": "fall"}, want: false},
		{name: "missing field", filter: Filter{"owner": "x"}, want: false},
		{name: "numeric across types", filter: Filter{"score": 7.0}, want: true},
		{name: "array element", filter: Filter{"tags": "corner"}, want: true},
		{name: "nested path", filter: Filter{"geo_info.humanReadableName": "9 Oak Ave"}, want: true},
		{name: "centroid inside box", filter: Filter{"geo_info.centroid": box(0, 0, 10, 10)}, want: true},
		{name: "centroid outside box", filter: Filter{"geo_info.centroid": box(6, 6, 10, 10)}, want: false},
		{name: "centroid on box edge", filter: Filter{"geo_info.centroid": box(5, 5, 10, 10)}, want: true},
		{name: "geometry inside box", filter: Filter{"geo_info.geometry": box(0, 0, 10, 10)}, want: true},
		{name: "geometry crossing box", filter: Filter{"geo_info.geometry": box(5, 0, 10, 10)}, want: false},
		{name: "box on missing path", filter: Filter{"geo_info.point": box(0, 0, 10, 10)}, want: false},
		{name: "$gt", filter: Filter{"score": map[string]interface{}{"$gt": 5}}, want: true},
		{name: "$lte fails", filter: Filter{"score": map[string]interface{}{"$lte": 6}}, want: false},
		{name: "range", filter: Filter{"score": map[string]interface{}{"$gte": 7, "$lt": 8}}, want: true},
		{name: "string comparison", filter: Filter{"survey": map[string]interface{}{"$gt": "fall"}}, want: true},
		{name: "$ne", filter: Filter{"survey": map[string]interface{}{"$ne": "fall"}}, want: true},
		{name: "$ne on missing field", filter: Filter{"owner": map[string]interface{}{"$ne": "x"}}, want: true},
		{name: "$in", filter: Filter{"survey": map[string]interface{}{"$in": []interface{}{"fall", "spring"}}}, want: true},
		{name: "$nin", filter: Filter{"survey": map[string]interface{}{"$nin": []interface{}{"spring"}}}, want: false},
		{name: "$exists true", filter: Filter{"object_id": map[string]interface{}{"$exists": true}}, want: true},
		{name: "$exists false", filter: Filter{"owner": map[string]interface{}{"$exists": false}}, want: true},
		{name: "embedded document equality", filter: Filter{"geo_info": map[string]interface{}{"humanReadableName": "x"}}, want: false},
	}

	doc := surveyDocument()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Matches(doc)
			if err != nil {
				t.Fatalf("Matches failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterMatchesUnsupported(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
	}{
		{"unknown operator", Filter{"survey": map[string]interface{}{"$regex": "^s"}}},
		{"$in without array", Filter{"survey": map[string]interface{}{"$in": "spring"}}},
		{"$nin without array", Filter{"survey": map[string]interface{}{"$nin": "spring"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.filter.Matches(surveyDocument())
			if !errors.Is(err, ErrUnsupportedFilter) {
				t.Errorf("error = %v, want ErrUnsupportedFilter", err)
			}
		})
	}
}

func TestFilterScalars(t *testing.T) {
	f := Filter{
		"survey":            "spring",
		"score":             7,
		"geo_info.centroid": WithinBox{},
		"tags":              map[string]interface{}{"$in": []interface{}{"a"}},
		"list":              []interface{}{"a"},
	}

	got := f.Scalars()
	want := map[string]interface{}{"survey": "spring", "score": 7}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scalars() = %v, want %v", got, want)
	}
}

func TestSelectionApply(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
		want map[string]interface{}
	}{
		{
			name: "inclusion keeps _id",
			sel:  Selection{"survey": 1},
			want: map[string]interface{}{"_id": "d1", "survey": "spring"},
		},
		{
			name: "inclusion without _id",
			sel:  Selection{"survey": 1, "_id": 0},
			want: map[string]interface{}{"survey": "spring"},
		},
		{
			name: "nested inclusion",
			sel:  Selection{"geo_info.humanReadableName": 1, "_id": false},
			want: map[string]interface{}{
				"geo_info": map[string]interface{}{"humanReadableName": "9 Oak Ave"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sel.Apply(surveyDocument())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectionApplyExclusion(t *testing.T) {
	doc := surveyDocument()

	got := Selection{"tags": 0, "geo_info.geometry": 0}.Apply(doc)

	if _, ok := got["tags"]; ok {
		t.Error("tags should be excluded")
	}
	info := got["geo_info"].(map[string]interface{})
	if _, ok := info["geometry"]; ok {
		t.Error("geo_info.geometry should be excluded")
	}
	if _, ok := info["centroid"]; !ok {
		t.Error("geo_info.centroid should be kept")
	}
	if got["survey"] != "spring" {
		t.Errorf("survey = %v, want spring", got["survey"])
	}

	// The input document is left untouched.
	if _, ok := doc["tags"]; !ok {
		t.Error("Apply removed tags from the input document")
	}
	if _, ok := doc["geo_info"].(map[string]interface{})["geometry"]; !ok {
		t.Error("Apply removed geo_info.geometry from the input document")
	}
}

func TestSelectionApplyEmpty(t *testing.T) {
	doc := surveyDocument()
	got := Selection(nil).Apply(doc)
	if !reflect.DeepEqual(got, doc) {
		t.Error("empty selection should return the document unchanged")
	}
}

func TestGeometryBound(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   orb.Bound
		wantOK bool
	}{
		{
			name:   "legacy pair",
			value:  []interface{}{1.0, 2.0},
			want:   orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{1, 2}},
			wantOK: true,
		},
		{
			name:   "geojson line",
			value:  map[string]interface{}{"type": "LineString", "coordinates": []interface{}{[]interface{}{0.0, 1.0}, []interface{}{3.0, -1.0}}},
			want:   orb.Bound{Min: orb.Point{0, -1}, Max: orb.Point{3, 1}},
			wantOK: true,
		},
		{name: "nil", value: nil},
		{name: "string", value: "here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GeometryBound(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("GeometryBound() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("GeometryBound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocumentBound(t *testing.T) {
	tests := []struct {
		name   string
		doc    map[string]interface{}
		want   orb.Bound
		wantOK bool
	}{
		{
			name:   "geometry",
			doc:    surveyDocument(),
			want:   orb.Bound{Min: orb.Point{4, 4}, Max: orb.Point{6, 6}},
			wantOK: true,
		},
		{
			name: "centroid only",
			doc: map[string]interface{}{"geo_info": map[string]interface{}{
				"geometry": nil,
				"centroid": []interface{}{7.0, 8.0},
			}},
			want:   orb.Bound{Min: orb.Point{7, 8}, Max: orb.Point{7, 8}},
			wantOK: true,
		},
		{
			name: "no location",
			doc:  map[string]interface{}{"geo_info": map[string]interface{}{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DocumentBound(tt.doc)
			if ok != tt.wantOK {
				t.Fatalf("DocumentBound() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("DocumentBound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b   interface{}
		want   int
		wantOK bool
	}{
		{1, 2.0, -1, true},
		{int64(5), int32(5), 0, true},
		{"b", "a", 1, true},
		{"2024-01-02", "2024-01-01", 1, true},
		{"a", 1, 0, false},
		{true, false, 0, false},
	}

	for _, tt := range tests {
		got, ok := CompareValues(tt.a, tt.b)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CompareValues(%v, %v) = (%d, %v), want (%d, %v)", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
		}
	}
}
