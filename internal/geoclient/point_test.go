package geoclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePointShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		lng  float64
		lat  float64
	}{
		{"geojson point", `{"type":"Point","coordinates":[-82.45,27.95]}`, -82.45, 27.95},
		{"typeless coordinates", `{"coordinates":[-82.46,27.96]}`, -82.46, 27.96},
		{"bare pair", `[-82.47,27.97]`, -82.47, 27.97},
		{"xy object", `{"x":-82.48,"y":27.98}`, -82.48, 27.98},
		{"lng lat", `{"lng":-82.49,"lat":27.99}`, -82.49, 27.99},
		{"longitude latitude", `{"longitude":-82.50,"lat":28.00}`, -82.50, 28.00},
		{"lon lat", `{"lon":-82.51,"lat":28.01}`, -82.51, 28.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, ok := parsePoint(json.RawMessage(tt.raw))
			require.True(t, ok)
			assert.InDelta(t, tt.lng, pt.X(), 1e-9)
			assert.InDelta(t, tt.lat, pt.Y(), 1e-9)
			assert.Equal(t, 4326, pt.SRID())
		})
	}
}

func TestParsePointRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"null", `null`},
		{"wrong type", `{"type":"Polygon","coordinates":[-82,27]}`},
		{"short pair", `[-82.45]`},
		{"missing y", `{"x":-82.45}`},
		{"missing lat", `{"lng":-82.45}`},
		{"non numeric", `{"lng":"a","lat":"b"}`},
		{"string", `"not a point"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := parsePoint(json.RawMessage(tt.raw))
			assert.False(t, ok)
		})
	}
}

func TestParseGeometryPolygon(t *testing.T) {
	raw := `{"type":"Polygon","coordinates":[[[-82.46,27.94],[-82.44,27.94],[-82.44,27.96],[-82.46,27.96],[-82.46,27.94]]]}`
	g, ok := parseGeometry(json.RawMessage(raw))
	require.True(t, ok)
	assert.NotEmpty(t, g.FlatCoords())
}

func TestParseGeometryTypelessPolygon(t *testing.T) {
	raw := `{"coordinates":[[[-82.46,27.94],[-82.44,27.94],[-82.44,27.96],[-82.46,27.96],[-82.46,27.94]]]}`
	g, ok := parseGeometry(json.RawMessage(raw))
	require.True(t, ok)
	assert.NotEmpty(t, g.FlatCoords())
}

func TestParseGeometryPointFallthrough(t *testing.T) {
	g, ok := parseGeometry(json.RawMessage(`{"x":-82.45,"y":27.95}`))
	require.True(t, ok)
	assert.Equal(t, []float64{-82.45, 27.95}, g.FlatCoords())
}

func TestParseGeometryRejectsGarbage(t *testing.T) {
	for _, raw := range []string{``, `null`, `{}`, `{"coordinates":[]}`, `"polygon"`} {
		_, ok := parseGeometry(json.RawMessage(raw))
		assert.False(t, ok, raw)
	}
}
