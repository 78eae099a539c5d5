package domain

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/paulmach/orb"
)

// LookupPath returns the value at a dotted path such as "geo_info.centroid".
func LookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GeometryBound returns the bound of a stored location value, which is either
// a legacy [x, y] pair or a GeoJSON geometry object.
func GeometryBound(value interface{}) (orb.Bound, bool) {
	if value == nil {
		return orb.Bound{}, false
	}
	if p, err := DecodePoint(value); err == nil {
		return p.Bound(), true
	}
	g, err := DecodeGeometry(value)
	if err != nil || g == nil {
		return orb.Bound{}, false
	}
	return g.Bound(), true
}

// DocumentBound returns the bound of a stored document's location: the bound
// of geo_info.geometry, or the centroid when there is no geometry.
func DocumentBound(doc map[string]interface{}) (orb.Bound, bool) {
	if g, ok := LookupPath(doc, FieldGeoInfo+"."+FieldGeometry); ok {
		if b, ok := GeometryBound(g); ok {
			return b, true
		}
	}
	if c, ok := LookupPath(doc, FieldGeoInfo+"."+FieldCentroid); ok {
		return GeometryBound(c)
	}
	return orb.Bound{}, false
}

// Matches evaluates the filter against a stored document. It supports
// equality, the comparison operators $eq, $ne, $gt, $gte, $lt, $lte, $in,
// $nin and $exists, and WithinBox predicates.
func (f Filter) Matches(doc map[string]interface{}) (bool, error) {
	for path, want := range f {
		got, found := LookupPath(doc, path)

		switch w := want.(type) {
		case WithinBox:
			if !found {
				return false, nil
			}
			b, ok := GeometryBound(got)
			if !ok || !w.ContainsBound(b) {
				return false, nil
			}
		case map[string]interface{}:
			if !isOperatorDoc(w) {
				if !found || !valuesEqual(got, w) {
					return false, nil
				}
				continue
			}
			ok, err := matchOperators(got, found, w)
			if err != nil {
				return false, fmt.Errorf("%s: %w", path, err)
			}
			if !ok {
				return false, nil
			}
		default:
			if !found || !matchEqual(got, want) {
				return false, nil
			}
		}
	}
	return true, nil
}

// Scalars returns the plain equality entries of the filter, i.e. everything
// that is neither a spatial predicate nor an operator document.
func (f Filter) Scalars() map[string]interface{} {
	out := make(map[string]interface{})
	for path, v := range f {
		switch w := v.(type) {
		case WithinBox:
			continue
		case map[string]interface{}:
			if isOperatorDoc(w) {
				continue
			}
		case []interface{}:
			continue
		}
		out[path] = v
	}
	return out
}

func isOperatorDoc(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func matchOperators(got interface{}, found bool, ops map[string]interface{}) (bool, error) {
	for op, arg := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = found && matchEqual(got, arg)
		case "$ne":
			ok = !found || !matchEqual(got, arg)
		case "$exists":
			ok = found == truthy(arg)
		case "$in":
			list, isList := arg.([]interface{})
			if !isList {
				return false, fmt.Errorf("$in needs an array: %w", ErrUnsupportedFilter)
			}
			ok = found && containsEqual(list, got)
		case "$nin":
			list, isList := arg.([]interface{})
			if !isList {
				return false, fmt.Errorf("$nin needs an array: %w", ErrUnsupportedFilter)
			}
			ok = !found || !containsEqual(list, got)
		case "$gt", "$gte", "$lt", "$lte":
			c, comparable := CompareValues(got, arg)
			if !found || !comparable {
				return false, nil
			}
			switch op {
			case "$gt":
				ok = c > 0
			case "$gte":
				ok = c >= 0
			case "$lt":
				ok = c < 0
			case "$lte":
				ok = c <= 0
			}
		default:
			return false, fmt.Errorf("operator %s: %w", op, ErrUnsupportedFilter)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// matchEqual compares like MongoDB: an array field matches if any element does.
func matchEqual(got, want interface{}) bool {
	if valuesEqual(got, want) {
		return true
	}
	if list, ok := got.([]interface{}); ok {
		return containsEqual(list, want)
	}
	return false
}

func containsEqual(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two numbers or two strings. The second result is false
// for any other combination.
func CompareValues(a, b interface{}) (int, bool) {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		if f, ok := ToFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// Apply projects a document through the selection. A selection containing any
// inclusion returns only the included paths (plus _id unless it is excluded);
// otherwise the excluded paths are removed. An empty selection returns doc.
func (s Selection) Apply(doc map[string]interface{}) map[string]interface{} {
	if len(s) == 0 {
		return doc
	}

	inclusive := false
	for path, v := range s {
		if path != FieldID && truthy(v) {
			inclusive = true
			break
		}
	}

	if !inclusive {
		out := doc
		for path, v := range s {
			if !truthy(v) {
				out = withoutPath(out, strings.Split(path, "."))
			}
		}
		return out
	}

	out := make(map[string]interface{})
	for path, v := range s {
		if !truthy(v) {
			continue
		}
		if value, ok := LookupPath(doc, path); ok {
			setPath(out, strings.Split(path, "."), value)
		}
	}
	if id, ok := doc[FieldID]; ok {
		if v, listed := s[FieldID]; !listed || truthy(v) {
			out[FieldID] = id
		}
	}
	return out
}

// withoutPath returns a copy of doc with the path removed. Only the maps along
// the path are copied.
func withoutPath(doc map[string]interface{}, parts []string) map[string]interface{} {
	if _, ok := doc[parts[0]]; !ok {
		return doc
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if len(parts) == 1 {
		delete(out, parts[0])
		return out
	}
	child, ok := out[parts[0]].(map[string]interface{})
	if !ok {
		return out
	}
	out[parts[0]] = withoutPath(child, parts[1:])
	return out
}

func setPath(doc map[string]interface{}, parts []string, value interface{}) {
	for _, part := range parts[:len(parts)-1] {
		child, ok := doc[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			doc[part] = child
		}
		doc = child
	}
	doc[parts[len(parts)-1]] = value
}
