package geoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geodash/internal/layer"
)

const placeholderCellSize = 0.005

// fetchDensity normalizes the density-grid payload. Malformed records are
// replaced with placeholder features anchored near the fallback origin so the
// output count always matches the input count.
func (c *Client) fetchDensity(ctx context.Context, params map[string]string) []layer.Feature {
	rows := c.getArray(ctx, "/geo/density-grid", params)
	if rows == nil {
		return []layer.Feature{}
	}

	features := make([]layer.Feature, 0, len(rows))
	for i, raw := range rows {
		var row struct {
			GridID      any             `json:"grid_id"`
			ID          any             `json:"id"`
			Coordinates json.RawMessage `json:"coordinates"`
			Geometry    json.RawMessage `json:"geometry"`
			Metrics     map[string]any  `json:"metrics"`
		}
		_ = json.Unmarshal(raw, &row)

		id := firstID(row.GridID, row.ID)
		if id == "" {
			id = fmt.Sprintf("placeholder-%d", i)
		}

		g, ok := parseGeometry(row.Coordinates)
		if !ok {
			g, ok = parseGeometry(row.Geometry)
		}
		if !ok {
			c.log.Warn("malformed density cell, substituting placeholder", zap.String("id", id))
			g = placeholderSquare(i)
		}

		features = append(features, layer.Feature{
			ID:       id,
			Geometry: g,
			Properties: map[string]any{
				"id":                id,
				"business_count":    nonNegInt(metric(row.Metrics, "business_count")),
				"avg_rating":        clamp(asFloat(metric(row.Metrics, "avg_rating")), 0, 5),
				"service_diversity": nonNegInt(metric(row.Metrics, "service_diversity")),
				"service_types":     asStrings(metric(row.Metrics, "service_types")),
			},
		})
	}
	return features
}

// fetchClusters normalizes the business-clusters payload. As with density
// cells, malformed records become placeholders rather than disappearing. An
// empty response stays empty; clusters have no fallback dataset.
func (c *Client) fetchClusters(ctx context.Context, params map[string]string) []layer.Feature {
	rows := c.getArray(ctx, "/geo/business-clusters", params)
	if rows == nil {
		return []layer.Feature{}
	}

	features := make([]layer.Feature, 0, len(rows))
	for i, raw := range rows {
		var row struct {
			ClusterID  any             `json:"cluster_id"`
			ID         any             `json:"id"`
			Center     json.RawMessage `json:"center"`
			Size       any             `json:"size"`
			AvgRating  any             `json:"avg_rating"`
			Rating     any             `json:"rating"`
			Categories []any           `json:"categories"`
		}
		_ = json.Unmarshal(raw, &row)

		id := firstID(row.ClusterID, row.ID)
		if id == "" {
			id = fmt.Sprintf("placeholder-%d", i)
		}

		var g geom.T
		pt, ok := parsePoint(row.Center)
		if ok {
			g = pt
		} else {
			c.log.Warn("malformed cluster center, substituting placeholder", zap.String("id", id))
			g = placeholderPoint(i)
		}

		size := nonNegInt(row.Size)
		if size < 1 {
			size = 1
		}
		rating := row.AvgRating
		if rating == nil {
			rating = row.Rating
		}

		features = append(features, layer.Feature{
			ID:       id,
			Geometry: g,
			Properties: map[string]any{
				"id":         id,
				"size":       size,
				"rating":     clamp(asFloat(rating), 0, 5),
				"categories": categorySet(row.Categories),
			},
		})
	}
	return features
}

// fetchNeighborhoods normalizes the neighborhood-metrics payload. Invalid
// records are dropped; if nothing valid remains the built-in fallback set is
// returned so the neighborhood view is never completely empty.
func (c *Client) fetchNeighborhoods(ctx context.Context, params map[string]string) []layer.Feature {
	rows := c.getArray(ctx, "/geo/neighborhood-metrics", params)

	features := make([]layer.Feature, 0, len(rows))
	for _, raw := range rows {
		if f, ok := c.normalizeNeighborhood(raw); ok {
			features = append(features, f)
		}
	}

	if len(features) == 0 {
		c.log.Warn("no valid neighborhoods in response, using fallback set",
			zap.Int("raw_rows", len(rows)),
		)
		return fallbackNeighborhoods()
	}
	return features
}

func (c *Client) normalizeNeighborhood(raw json.RawMessage) (layer.Feature, bool) {
	var row struct {
		AreaID       any             `json:"area_id"`
		Name         string          `json:"name"`
		AreaName     string          `json:"area_name"`
		Geometry     json.RawMessage `json:"geometry"`
		Boundary     json.RawMessage `json:"boundary"`
		AreaBoundary json.RawMessage `json:"area_boundary"`
		Center       json.RawMessage `json:"center"`

		TotalBusinesses any `json:"total_businesses"`
		Businesses      any `json:"businesses"`
		BusinessCount   any `json:"business_count"`

		AvgRating any `json:"avg_rating"`
		Rating    any `json:"rating"`

		ServiceDiversity any `json:"service_diversity"`
		Diversity        any `json:"diversity"`

		Score         any `json:"score"`
		CombinedScore any `json:"combined_score"`

		DensityScore             any `json:"density_score"`
		AccessibilityScore       any `json:"accessibility_score"`
		ServiceDistributionScore any `json:"service_distribution_score"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return layer.Feature{}, false
	}

	name := row.Name
	if name == "" {
		name = row.AreaName
	}
	if name == "" {
		return layer.Feature{}, false
	}

	g, ok := parseGeometry(row.Geometry)
	if !ok {
		g, ok = parseGeometry(row.Boundary)
	}
	if !ok {
		g, ok = parseGeometry(row.AreaBoundary)
	}
	if !ok {
		// Only a center point: draw a small square around it, matching the
		// server's own behavior when boundary geometry is unavailable.
		if pt, pok := parsePoint(row.Center); pok {
			g, ok = squareAround(pt.X(), pt.Y(), 0.01), true
		}
	}
	if !ok {
		c.log.Debug("dropping neighborhood without usable geometry", zap.String("name", name))
		return layer.Feature{}, false
	}

	id := firstID(row.AreaID)
	if id == "" {
		id = name
	}

	f := layer.Feature{
		ID:       id,
		Geometry: g,
		Properties: map[string]any{
			"name":           name,
			"business_count": nonNegInt(first(row.TotalBusinesses, row.Businesses, row.BusinessCount)),
			"rating":         clamp(asFloat(first(row.AvgRating, row.Rating)), 0, 5),
			"diversity":      nonNegInt(first(row.ServiceDiversity, row.Diversity)),
			"score":          neighborhoodScore(row.Score, row.CombinedScore, row.DensityScore, row.AccessibilityScore, row.ServiceDistributionScore),
		},
	}
	if !f.Valid() {
		return layer.Feature{}, false
	}
	return f, true
}

// neighborhoodScore picks the first explicit score, falling back to the mean
// of the three component scores. The mean is a placeholder weighting; the
// authoritative formula lives in the scoring view.
func neighborhoodScore(score, combined, density, accessibility, distribution any) float64 {
	if score != nil {
		return clamp(asFloat(score), 0, 100)
	}
	if combined != nil {
		return clamp(asFloat(combined), 0, 100)
	}
	sum := clamp(asFloat(density), 0, 100) +
		clamp(asFloat(accessibility), 0, 100) +
		clamp(asFloat(distribution), 0, 100)
	return clamp(sum/3, 0, 100)
}

// placeholderSquare returns a small cell near the fallback origin, offset by
// index so neighboring placeholders stay distinguishable.
func placeholderSquare(idx int) geom.T {
	lng := FallbackLng + float64(idx%5)*0.001
	lat := FallbackLat + float64(idx/5)*0.001
	return squareAround(lng, lat, placeholderCellSize)
}

func placeholderPoint(idx int) geom.T {
	lng := FallbackLng + float64(idx%5)*0.001
	lat := FallbackLat + float64(idx/5)*0.001
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
}

func squareAround(lng, lat, size float64) *geom.Polygon {
	flat := []float64{
		lng - size, lat - size,
		lng + size, lat - size,
		lng + size, lat + size,
		lng - size, lat + size,
		lng - size, lat - size,
	}
	poly := geom.NewPolygon(geom.XY).SetSRID(4326)
	_ = poly.Push(geom.NewLinearRingFlat(geom.XY, flat))
	return poly
}

func metric(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func first(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstID(vals ...any) string {
	for _, v := range vals {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		case int:
			return strconv.Itoa(id)
		}
	}
	return ""
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func nonNegInt(v any) int {
	n := int(asFloat(v))
	if n < 0 {
		return 0
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, e := range vals {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// categorySet dedupes and sorts cluster categories.
func categorySet(vals []any) []string {
	seen := make(map[string]bool, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
