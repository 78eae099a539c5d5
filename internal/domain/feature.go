package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Property keys added to every resolved feature.
const (
	PropertyGeometry = "geometry"
	PropertyName     = "name"
	PropertyObjectID = "object_id"
)

// ResolveFeature turns a record into a GeoJSON feature.
//
// A record with an explicit geometry is identified by its object id and keeps
// its geometry as is. A record without one is identified by its store id and
// rendered as a point at its centroid. The properties carry the record's
// responses plus an independent copy of the explicit geometry, so projecting
// the feature geometry later leaves the copy in native coordinates.
//
// The record is not modified.
func ResolveFeature(rec Record) (*geojson.Feature, error) {
	var f *geojson.Feature
	switch {
	case rec.GeoInfo.HasGeometry():
		f = geojson.NewFeature(rec.GeoInfo.Geometry)
		f.ID = rec.ObjectID
	case rec.GeoInfo.HasCentroid():
		f = geojson.NewFeature(*rec.GeoInfo.Centroid)
		f.ID = rec.ID
	default:
		return nil, &MalformedRecordError{
			RecordID: rec.ID,
			Reason:   "record has neither geo_info.geometry nor geo_info.centroid",
		}
	}

	props := make(geojson.Properties, len(rec.Responses)+3)
	for k, v := range rec.Responses {
		props[k] = v
	}
	if rec.GeoInfo.HasGeometry() {
		props[PropertyGeometry] = geojson.NewGeometry(orb.Clone(rec.GeoInfo.Geometry))
	}
	props[PropertyName] = rec.GeoInfo.HumanReadableName
	props[PropertyObjectID] = rec.ObjectID
	f.Properties = props

	return f, nil
}

// NewFeatureCollection returns an empty collection that encodes its features
// as [] rather than null.
func NewFeatureCollection(capacity int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, capacity)
	return fc
}
