package domain

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Document field names of a stored record.
const (
	FieldID        = "_id"
	FieldObjectID  = "object_id"
	FieldGeoInfo   = "geo_info"
	FieldGeometry  = "geometry"
	FieldCentroid  = "centroid"
	FieldName      = "humanReadableName"
	FieldResponses = "responses"
	FieldCreated   = "created"
)

// Record is a stored survey result as returned by a record store.
type Record struct {
	ID        interface{}            // Store-assigned identifier (_id)
	ObjectID  interface{}            // External object identifier
	GeoInfo   GeoInfo                // Location of the record
	Responses map[string]interface{} // Response/attribute values
	Extra     map[string]interface{} // All other top-level fields, e.g. created

	// DecodeErr is set by DecodeRecord when the document could not be
	// decoded. Only ID is populated in that case.
	DecodeErr error
}

// GeoInfo holds the spatial part of a record.
type GeoInfo struct {
	Geometry          orb.Geometry           // Explicit geometry (optional)
	Centroid          *orb.Point             // Representative point (optional)
	HumanReadableName string                 // Display name
	Extra             map[string]interface{} // Other geo_info fields
}

// HasGeometry returns true if the record carries an explicit geometry.
func (g *GeoInfo) HasGeometry() bool {
	return g.Geometry != nil
}

// HasCentroid returns true if the record carries a centroid.
func (g *GeoInfo) HasCentroid() bool {
	return g.Centroid != nil
}

// Bound returns the bound of the explicit geometry, falling back to the centroid.
func (g *GeoInfo) Bound() (orb.Bound, bool) {
	switch {
	case g.Geometry != nil:
		return g.Geometry.Bound(), true
	case g.Centroid != nil:
		return g.Centroid.Bound(), true
	default:
		return orb.Bound{}, false
	}
}

// Get returns a top-level field that is not one of the decoded fields.
func (r *Record) Get(key string) (interface{}, bool) {
	if r.Extra == nil {
		return nil, false
	}
	v, ok := r.Extra[key]
	return v, ok
}

// DecodeRecord decodes doc like RecordFromDocument but keeps a decoding
// failure on the record, so a batch of results can carry malformed entries
// for the caller to reject or skip.
func DecodeRecord(doc map[string]interface{}) Record {
	rec, err := RecordFromDocument(doc)
	if err != nil {
		return Record{ID: doc[FieldID], DecodeErr: err}
	}
	return rec
}

// RecordFromDocument decodes a raw store document. Nested values are expected
// to be plain maps, slices and scalars.
func RecordFromDocument(doc map[string]interface{}) (Record, error) {
	rec := Record{Extra: make(map[string]interface{})}

	for key, value := range doc {
		switch key {
		case FieldID:
			rec.ID = value
		case FieldObjectID:
			rec.ObjectID = value
		case FieldResponses:
			if value == nil {
				continue
			}
			responses, ok := value.(map[string]interface{})
			if !ok {
				return Record{}, &MalformedRecordError{
					RecordID: doc[FieldID],
					Reason:   fmt.Sprintf("responses must be an object, got %T", value),
				}
			}
			rec.Responses = responses
		case FieldGeoInfo:
			if value == nil {
				continue
			}
			info, ok := value.(map[string]interface{})
			if !ok {
				return Record{}, &MalformedRecordError{
					RecordID: doc[FieldID],
					Reason:   fmt.Sprintf("geo_info must be an object, got %T", value),
				}
			}
			geoInfo, err := decodeGeoInfo(info)
			if err != nil {
				return Record{}, &MalformedRecordError{RecordID: doc[FieldID], Reason: err.Error()}
			}
			rec.GeoInfo = geoInfo
		default:
			rec.Extra[key] = value
		}
	}

	return rec, nil
}

func decodeGeoInfo(info map[string]interface{}) (GeoInfo, error) {
	g := GeoInfo{Extra: make(map[string]interface{})}

	for key, value := range info {
		switch key {
		case FieldGeometry:
			if value == nil {
				continue
			}
			geom, err := DecodeGeometry(value)
			if err != nil {
				return GeoInfo{}, err
			}
			g.Geometry = geom
		case FieldCentroid:
			if value == nil {
				continue
			}
			p, err := DecodePoint(value)
			if err != nil {
				return GeoInfo{}, fmt.Errorf("centroid: %w", err)
			}
			g.Centroid = &p
		case FieldName:
			if s, ok := value.(string); ok {
				g.HumanReadableName = s
			} else if value != nil {
				g.HumanReadableName = fmt.Sprint(value)
			}
		default:
			g.Extra[key] = value
		}
	}

	return g, nil
}

// DecodeGeometry converts a GeoJSON geometry value (a decoded JSON object or an
// orb geometry) into an orb.Geometry.
func DecodeGeometry(value interface{}) (orb.Geometry, error) {
	switch v := value.(type) {
	case orb.Geometry:
		return v, nil
	case *geojson.Geometry:
		return v.Geometry(), nil
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("geometry: %w", err)
		}
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("geometry: %w", err)
		}
		if g.Coordinates == nil && g.Geometries == nil {
			return nil, fmt.Errorf("geometry: unsupported type %q", g.Type)
		}
		return g.Geometry(), nil
	default:
		return nil, fmt.Errorf("geometry must be an object, got %T", value)
	}
}

// DecodePoint converts a [x, y] pair into an orb.Point. Additional ordinates
// are ignored.
func DecodePoint(value interface{}) (orb.Point, error) {
	switch v := value.(type) {
	case orb.Point:
		return v, nil
	case []float64:
		if len(v) < 2 {
			return orb.Point{}, fmt.Errorf("need two ordinates, got %d", len(v))
		}
		return orb.Point{v[0], v[1]}, nil
	case []interface{}:
		if len(v) < 2 {
			return orb.Point{}, fmt.Errorf("need two ordinates, got %d", len(v))
		}
		x, okX := ToFloat(v[0])
		y, okY := ToFloat(v[1])
		if !okX || !okY {
			return orb.Point{}, fmt.Errorf("ordinates must be numbers, got %T and %T", v[0], v[1])
		}
		return orb.Point{x, y}, nil
	default:
		return orb.Point{}, fmt.Errorf("expected [x, y], got %T", value)
	}
}

// ToFloat converts the numeric types produced by JSON, BSON and YAML decoders.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Document returns the record in its stored document shape.
func (r *Record) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(r.Extra)+4)
	for k, v := range r.Extra {
		doc[k] = v
	}
	if r.ID != nil {
		doc[FieldID] = r.ID
	}
	if r.ObjectID != nil {
		doc[FieldObjectID] = r.ObjectID
	}
	if r.Responses != nil {
		doc[FieldResponses] = r.Responses
	}

	info := make(map[string]interface{}, len(r.GeoInfo.Extra)+3)
	for k, v := range r.GeoInfo.Extra {
		info[k] = v
	}
	if r.GeoInfo.Geometry != nil {
		info[FieldGeometry] = geojson.NewGeometry(r.GeoInfo.Geometry)
	}
	if r.GeoInfo.Centroid != nil {
		info[FieldCentroid] = []float64{r.GeoInfo.Centroid[0], r.GeoInfo.Centroid[1]}
	}
	if r.GeoInfo.HumanReadableName != "" {
		info[FieldName] = r.GeoInfo.HumanReadableName
	}
	if len(info) > 0 {
		doc[FieldGeoInfo] = info
	}

	return doc
}

// MarshalJSON encodes the record in its stored document shape.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

// UnmarshalJSON decodes a stored document.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	rec, err := RecordFromDocument(doc)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
