package geoclient

import (
	"encoding/json"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// pointMatcher attempts to read a lng/lat pair out of one of the center-point
// shapes the server has been observed to emit. Matchers are tried in priority
// order; each either produces a canonical point or declines.
type pointMatcher struct {
	name  string
	match func(raw json.RawMessage) (lng, lat float64, ok bool)
}

var pointMatchers = []pointMatcher{
	{name: "geojson_point", match: matchGeoJSONPoint},
	{name: "coordinate_pair", match: matchCoordinatePair},
	{name: "xy_object", match: matchXYObject},
	{name: "lnglat_object", match: matchLngLatObject},
}

// parsePoint runs the matcher chain and returns a canonical point geometry.
func parsePoint(raw json.RawMessage) (*geom.Point, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	for _, m := range pointMatchers {
		if lng, lat, ok := m.match(raw); ok && finite(lng) && finite(lat) {
			return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326), true
		}
	}
	return nil, false
}

func matchGeoJSONPoint(raw json.RawMessage) (float64, float64, bool) {
	var obj struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, 0, false
	}
	if len(obj.Coordinates) < 2 {
		return 0, 0, false
	}
	// Accept typeless {coordinates:[x,y]} objects as well; the server drops
	// the type field on some code paths.
	if obj.Type != "" && obj.Type != "Point" {
		return 0, 0, false
	}
	return obj.Coordinates[0], obj.Coordinates[1], true
}

func matchCoordinatePair(raw json.RawMessage) (float64, float64, bool) {
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err != nil {
		return 0, 0, false
	}
	if len(pair) < 2 {
		return 0, 0, false
	}
	return pair[0], pair[1], true
}

func matchXYObject(raw json.RawMessage) (float64, float64, bool) {
	var obj struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, 0, false
	}
	if obj.X == nil || obj.Y == nil {
		return 0, 0, false
	}
	return *obj.X, *obj.Y, true
}

func matchLngLatObject(raw json.RawMessage) (float64, float64, bool) {
	var obj struct {
		Longitude *float64 `json:"longitude"`
		Latitude  *float64 `json:"latitude"`
		Lng       *float64 `json:"lng"`
		Lat       *float64 `json:"lat"`
		Lon       *float64 `json:"lon"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, 0, false
	}
	lng := firstNonNil(obj.Longitude, obj.Lng, obj.Lon)
	lat := firstNonNil(obj.Latitude, obj.Lat)
	if lng == nil || lat == nil {
		return 0, 0, false
	}
	return *lng, *lat, true
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// parseGeometry decodes an arbitrary GeoJSON geometry. Typeless objects that
// still carry polygon-shaped coordinates are tolerated, as are the point
// shapes handled by the matcher chain.
func parseGeometry(raw json.RawMessage) (geom.T, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err == nil && g != nil && len(g.FlatCoords()) > 0 {
		return g, true
	}

	// Typeless {coordinates:[[[...]]]} is assumed to be a Polygon.
	var obj struct {
		Coordinates [][][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Coordinates) > 0 {
		if poly, ok := buildPolygon(obj.Coordinates); ok {
			return poly, true
		}
	}

	if pt, ok := parsePoint(raw); ok {
		return pt, true
	}
	return nil, false
}

func buildPolygon(rings [][][]float64) (*geom.Polygon, bool) {
	poly := geom.NewPolygon(geom.XY).SetSRID(4326)
	for _, ring := range rings {
		if len(ring) < 4 {
			continue
		}
		flat := make([]float64, 0, len(ring)*2)
		for _, pos := range ring {
			if len(pos) < 2 || !finite(pos[0]) || !finite(pos[1]) {
				return nil, false
			}
			flat = append(flat, pos[0], pos[1])
		}
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			return nil, false
		}
	}
	if poly.NumLinearRings() == 0 {
		return nil, false
	}
	return poly, true
}
