package mongostore

import (
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jobrunner/geosource/internal/domain"
)

// Filter translates a query filter into a MongoDB filter document.
// WithinBox predicates become $geoWithin.$box; everything else is passed
// through unchanged.
func Filter(f domain.Filter) bson.M {
	out := make(bson.M, len(f))
	for k, v := range f {
		out[k] = filterValue(v)
	}
	return out
}

func filterValue(v interface{}) interface{} {
	switch t := v.(type) {
	case domain.WithinBox:
		return bson.M{"$geoWithin": bson.M{"$box": t.Corners()}}
	case domain.Filter:
		return Filter(t)
	case map[string]interface{}:
		out := make(bson.M, len(t))
		for k, item := range t {
			out[k] = filterValue(item)
		}
		return out
	case []interface{}:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = filterValue(item)
		}
		return out
	default:
		return v
	}
}

// Projection translates a field selection into a find projection.
func Projection(s domain.Selection) bson.M {
	out := make(bson.M, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SortDocument translates sort fields into an ordered sort document.
func SortDocument(fields []domain.SortField) bson.D {
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Descending {
			dir = -1
		}
		out = append(out, bson.E{Key: f.Field, Value: dir})
	}
	return out
}

// NormalizeDocument converts a decoded BSON document into plain Go values:
// maps, slices, strings, numbers, booleans and times. Object ids become
// their hex string.
func NormalizeDocument(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return NormalizeDocument(t)
	case map[string]interface{}:
		return NormalizeDocument(t)
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case []interface{}:
		return normalize(bson.A(t))
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return int64(t.T)
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}
