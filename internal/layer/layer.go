// Package layer defines the canonical feature schema shared by the data
// access client, the layer cache, and the map controller. Server payloads in
// any of their observed shapes are normalized into these types before anything
// else touches them.
package layer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Kind identifies one of the three independently filtered map layers.
type Kind string

const (
	KindDensity      Kind = "density"
	KindCluster      Kind = "cluster"
	KindNeighborhood Kind = "neighborhood"
)

// Kinds returns all layer kinds in their fixed display order.
func Kinds() []Kind {
	return []Kind{KindDensity, KindCluster, KindNeighborhood}
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDensity:
		return KindDensity, nil
	case KindCluster:
		return KindCluster, nil
	case KindNeighborhood:
		return KindNeighborhood, nil
	default:
		return "", eris.Errorf("layer: unknown kind %q", s)
	}
}

func (k Kind) String() string { return string(k) }

// SourceID returns the map source name registered for this kind.
func (k Kind) SourceID() string { return "geodash-" + string(k) }

// Feature is a geometry plus a mapping of named metrics. The property keys
// present depend on the kind that produced it.
type Feature struct {
	ID         string         `json:"id"`
	Geometry   geom.T         `json:"-"`
	Properties map[string]any `json:"properties"`
}

// Valid reports whether the feature carries renderable geometry: non-nil,
// at least one coordinate, and every ordinate finite.
func (f Feature) Valid() bool {
	if f.Geometry == nil {
		return false
	}
	flat := f.Geometry.FlatCoords()
	if len(flat) == 0 {
		return false
	}
	for _, v := range flat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Int returns the named property as an int, or 0 when absent or mistyped.
func (f Feature) Int(key string) int {
	switch v := f.Properties[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float returns the named property as a float64, or 0 when absent or mistyped.
func (f Feature) Float(key string) float64 {
	switch v := f.Properties[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Str returns the named property as a string, or "" when absent or mistyped.
func (f Feature) Str(key string) string {
	if v, ok := f.Properties[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns the named property as a string slice.
func (f Feature) Strings(key string) []string {
	switch v := f.Properties[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Collection is an ordered set of features destined for one map source.
type Collection struct {
	Kind     Kind      `json:"kind"`
	Features []Feature `json:"features"`
}

// Filter returns a collection containing only valid features, preserving order.
func (c Collection) Filter() Collection {
	out := Collection{Kind: c.Kind, Features: make([]Feature, 0, len(c.Features))}
	for _, f := range c.Features {
		if f.Valid() {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// Len returns the number of features in the collection.
func (c Collection) Len() int { return len(c.Features) }

// Query identifies one cacheable unit of work: a layer kind plus the ordered
// tuple of filter parameter values active for that kind. Two queries with
// equal kind and equal tuple are the same cache entry.
type Query struct {
	Kind   Kind
	Params []Param
}

// Param is a single filter parameter value.
type Param struct {
	Name  string
	Value string
}

// NewQuery builds a query with its parameter tuple in a deterministic order.
func NewQuery(kind Kind, params map[string]string) Query {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	q := Query{Kind: kind, Params: make([]Param, 0, len(names))}
	for _, n := range names {
		q.Params = append(q.Params, Param{Name: n, Value: params[n]})
	}
	return q
}

// ParamMap returns the parameter tuple as a map for request building.
func (q Query) ParamMap() map[string]string {
	m := make(map[string]string, len(q.Params))
	for _, p := range q.Params {
		m[p.Name] = p.Value
	}
	return m
}

// Key returns the canonical cache key for the query.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(string(q.Kind))
	for _, p := range q.Params {
		fmt.Fprintf(&b, "|%s=%s", p.Name, p.Value)
	}
	return b.String()
}
