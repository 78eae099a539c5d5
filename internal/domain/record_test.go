package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func TestRecordFromDocument(t *testing.T) {
	doc := map[string]interface{}{
		"_id":       "5f1a",
		"object_id": "parcel-17",
		"created":   "2024-05-01T10:00:00Z",
		"survey":    "spring",
		"geo_info": map[string]interface{}{
			"humanReadableName": "17 Elm St",
			"centroid":          []interface{}{10.5, int32(20)},
			"parcel_id":         "P17",
			"geometry": map[string]interface{}{
				"type":        "Polygon",
				"coordinates": []interface{}{[]interface{}{[]interface{}{0.0, 0.0}, []interface{}{1.0, 0.0}, []interface{}{1.0, 1.0}, []interface{}{0.0, 0.0}}},
			},
		},
		"responses": map[string]interface{}{"structure": "yes"},
	}

	rec, err := RecordFromDocument(doc)
	if err != nil {
		t.Fatalf("RecordFromDocument failed: %v", err)
	}

	if rec.ID != "5f1a" {
		t.Errorf("ID = %v, want 5f1a", rec.ID)
	}
	if rec.ObjectID != "parcel-17" {
		t.Errorf("ObjectID = %v, want parcel-17", rec.ObjectID)
	}
	if rec.GeoInfo.HumanReadableName != "17 Elm St" {
		t.Errorf("HumanReadableName = %q, want 17 Elm St", rec.GeoInfo.HumanReadableName)
	}
	if rec.GeoInfo.Centroid == nil || !rec.GeoInfo.Centroid.Equal(orb.Point{10.5, 20}) {
		t.Errorf("Centroid = %v, want [10.5 20]", rec.GeoInfo.Centroid)
	}
	if _, ok := rec.GeoInfo.Geometry.(orb.Polygon); !ok {
		t.Errorf("Geometry = %T, want orb.Polygon", rec.GeoInfo.Geometry)
	}
	if rec.GeoInfo.Extra["parcel_id"] != "P17" {
		t.Errorf("GeoInfo.Extra[parcel_id] = %v, want P17", rec.GeoInfo.Extra["parcel_id"])
	}
	if rec.Responses["structure"] != "yes" {
		t.Errorf("Responses[structure] = %v, want yes", rec.Responses["structure"])
	}
	if v, ok := rec.Get("survey"); !ok || v != "spring" {
		t.Errorf("Get(survey) = (%v, %v), want (spring, true)", v, ok)
	}
	if _, ok := rec.Get(FieldGeoInfo); ok {
		t.Error("decoded fields should not be kept in Extra")
	}
}

func TestRecordFromDocumentNullGeometry(t *testing.T) {
	doc := map[string]interface{}{
		"_id": "x",
		"geo_info": map[string]interface{}{
			"geometry": nil,
			"centroid": []interface{}{1.0, 2.0},
		},
	}

	rec, err := RecordFromDocument(doc)
	if err != nil {
		t.Fatalf("RecordFromDocument failed: %v", err)
	}
	if rec.GeoInfo.HasGeometry() {
		t.Error("null geometry should be treated as absent")
	}
	if !rec.GeoInfo.HasCentroid() {
		t.Error("centroid should be decoded")
	}
}

func TestRecordFromDocumentMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]interface{}
	}{
		{
			name: "geo_info not an object",
			doc:  map[string]interface{}{"_id": 1, "geo_info": "here"},
		},
		{
			name: "responses not an object",
			doc:  map[string]interface{}{"_id": 1, "responses": []interface{}{"a"}},
		},
		{
			name: "centroid too short",
			doc: map[string]interface{}{"_id": 1, "geo_info": map[string]interface{}{
				"centroid": []interface{}{1.0},
			}},
		},
		{
			name: "centroid not numeric",
			doc: map[string]interface{}{"_id": 1, "geo_info": map[string]interface{}{
				"centroid": []interface{}{"a", "b"},
			}},
		},
		{
			name: "geometry not an object",
			doc: map[string]interface{}{"_id": 1, "geo_info": map[string]interface{}{
				"geometry": 42,
			}},
		},
		{
			name: "geometry with unknown type",
			doc: map[string]interface{}{"_id": 1, "geo_info": map[string]interface{}{
				"geometry": map[string]interface{}{"type": "Blob", "coordinates": []interface{}{}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecordFromDocument(tt.doc)
			if err == nil {
				t.Fatal("RecordFromDocument should fail")
			}
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("error = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	input := `{
		"_id": "r1",
		"object_id": 42,
		"created": "2024-01-01",
		"geo_info": {
			"humanReadableName": "Lot 42",
			"centroid": [3, 4],
			"geometry": {"type": "Point", "coordinates": [3, 4]}
		},
		"responses": {"q1": "a"}
	}`

	var rec Record
	if err := json.Unmarshal([]byte(input), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var again Record
	if err := json.Unmarshal(data, &again); err != nil {
		t.Fatalf("Unmarshal of encoded record failed: %v", err)
	}

	if again.ID != "r1" || again.ObjectID != 42.0 {
		t.Errorf("ids = (%v, %v), want (r1, 42)", again.ID, again.ObjectID)
	}
	if again.GeoInfo.HumanReadableName != "Lot 42" {
		t.Errorf("HumanReadableName = %q, want Lot 42", again.GeoInfo.HumanReadableName)
	}
	p, ok := again.GeoInfo.Geometry.(orb.Point)
	if !ok || !p.Equal(orb.Point{3, 4}) {
		t.Errorf("Geometry = %v, want Point(3 4)", again.GeoInfo.Geometry)
	}
	if v, _ := again.Get(FieldCreated); v != "2024-01-01" {
		t.Errorf("created = %v, want 2024-01-01", v)
	}
}

func TestGeoInfoBound(t *testing.T) {
	tests := []struct {
		name   string
		info   GeoInfo
		want   orb.Bound
		wantOK bool
	}{
		{
			name:   "geometry wins",
			info:   GeoInfo{Geometry: orb.LineString{{0, 0}, {2, 3}}, Centroid: &orb.Point{9, 9}},
			want:   orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 3}},
			wantOK: true,
		},
		{
			name:   "centroid fallback",
			info:   GeoInfo{Centroid: &orb.Point{9, 9}},
			want:   orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{9, 9}},
			wantOK: true,
		},
		{
			name: "nothing",
			info: GeoInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.info.Bound()
			if ok != tt.wantOK {
				t.Fatalf("Bound() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Bound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	ok := DecodeRecord(map[string]interface{}{"_id": "a", "geo_info": map[string]interface{}{"centroid": []interface{}{1.0, 2.0}}})
	if ok.DecodeErr != nil || ok.GeoInfo.Centroid == nil {
		t.Errorf("DecodeRecord() = %+v, want a decoded centroid", ok)
	}

	bad := DecodeRecord(map[string]interface{}{"_id": "b", "geo_info": map[string]interface{}{"centroid": []interface{}{1.0}}})
	var merr *MalformedRecordError
	if !errors.As(bad.DecodeErr, &merr) || merr.RecordID != "b" {
		t.Errorf("DecodeErr = %v, want MalformedRecordError for b", bad.DecodeErr)
	}
	if bad.ID != "b" {
		t.Errorf("ID = %v, want b", bad.ID)
	}
}
