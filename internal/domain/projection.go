// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Projection identifies a coordinate reference system by its normalized code,
// e.g. "EPSG:4326". Two projections are the same system exactly when their
// strings are equal.
type Projection string

// Common projections.
const (
	ProjectionWGS84       Projection = "EPSG:4326" // WGS 84 longitude/latitude
	ProjectionWebMercator Projection = "EPSG:3857" // Web Mercator
)

// DefaultProjection is used for sources that do not declare one.
const DefaultProjection = ProjectionWGS84

// projectionAliases maps legacy or vendor codes onto their canonical EPSG code.
var projectionAliases = map[string]Projection{
	"EPSG:900913":  ProjectionWebMercator,
	"EPSG:3785":    ProjectionWebMercator,
	"EPSG:102100":  ProjectionWebMercator,
	"EPSG:102113":  ProjectionWebMercator,
	"ESRI:102100":  ProjectionWebMercator,
	"ESRI:102113":  ProjectionWebMercator,
	"GOOGLE":       ProjectionWebMercator,
	"CRS:84":       ProjectionWGS84,
	"CRS84":        ProjectionWGS84,
	"OGC:CRS84":    ProjectionWGS84,
	"WGS84":        ProjectionWGS84,
	"EPSG:WGS84":   ProjectionWGS84,
	"EPSG:4326:XY": ProjectionWGS84,
}

// ParseProjection canonicalizes a projection identifier. It accepts bare EPSG
// numbers ("3857"), authority codes in any case ("epsg:3857"), OGC URNs
// ("urn:ogc:def:crs:EPSG::3857") and proj4 strings, which are returned with
// collapsed whitespace. An empty code yields DefaultProjection.
func ParseProjection(code string) (Projection, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DefaultProjection, nil
	}

	if strings.HasPrefix(code, "+") {
		return Projection(strings.Join(strings.Fields(code), " ")), nil
	}

	if n, err := strconv.Atoi(code); err == nil {
		return canonicalCode("EPSG", n), nil
	}

	upper := strings.ToUpper(code)
	if strings.HasPrefix(upper, "URN:OGC:DEF:CRS:") {
		return parseURN(code, upper)
	}

	if alias, ok := projectionAliases[upper]; ok {
		return alias, nil
	}

	authority, number, found := strings.Cut(upper, ":")
	if !found || authority == "" {
		return "", invalidProjection(code, "expected AUTHORITY:CODE")
	}
	n, err := strconv.Atoi(number)
	if err != nil || n <= 0 {
		return "", invalidProjection(code, "projection code must be a positive integer")
	}
	return canonicalCode(authority, n), nil
}

// parseURN handles urn:ogc:def:crs:<authority>:<version>:<code>.
func parseURN(code, upper string) (Projection, error) {
	parts := strings.Split(upper, ":")
	if len(parts) < 6 {
		return "", invalidProjection(code, "incomplete OGC URN")
	}
	authority := parts[4]
	last := parts[len(parts)-1]
	if authority == "OGC" && (last == "CRS84" || last == "84") {
		return ProjectionWGS84, nil
	}
	n, err := strconv.Atoi(last)
	if err != nil || n <= 0 {
		return "", invalidProjection(code, "projection code must be a positive integer")
	}
	return canonicalCode(authority, n), nil
}

func canonicalCode(authority string, n int) Projection {
	p := fmt.Sprintf("%s:%d", authority, n)
	if alias, ok := projectionAliases[p]; ok {
		return alias
	}
	return Projection(p)
}

func invalidProjection(code, msg string) error {
	return &ValidationError{
		Field:      "projection",
		Value:      code,
		Constraint: "EPSG:<code> | <code> | urn:ogc:def:crs:... | +proj=...",
		Message:    msg,
	}
}

// String returns the projection code.
func (p Projection) String() string {
	return string(p)
}

// SRID returns the numeric EPSG code, if the projection has one.
func (p Projection) SRID() (int, bool) {
	authority, number, found := strings.Cut(string(p), ":")
	if !found || authority != "EPSG" {
		return 0, false
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsProj4 returns true if the projection is a raw proj4 definition.
func (p Projection) IsProj4() bool {
	return strings.HasPrefix(string(p), "+")
}
