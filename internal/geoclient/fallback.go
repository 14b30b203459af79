package geoclient

import (
	"fmt"

	"github.com/sells-group/geodash/internal/layer"
)

// fallbackNeighborhood mirrors the fixed dataset the server itself falls back
// to when the scoring view is unavailable.
type fallbackNeighborhood struct {
	Name       string
	Businesses int
	Rating     float64
	Diversity  int
	Score      float64
	Lng, Lat   float64
}

var tampaNeighborhoods = []fallbackNeighborhood{
	{"Hyde Park", 87, 4.3, 12, 78, -82.4633, 27.9380},
	{"Downtown Tampa", 156, 3.9, 18, 82, -82.4572, 27.9506},
	{"Ybor City", 104, 4.1, 15, 76, -82.4370, 27.9600},
	{"Westshore", 121, 3.8, 14, 76, -82.5250, 27.9530},
	{"Channelside", 65, 4.2, 10, 75, -82.4450, 27.9420},
	{"Seminole Heights", 79, 4.5, 11, 73, -82.4600, 27.9950},
	{"SoHo", 93, 4.4, 13, 80, -82.4820, 27.9310},
	{"Palma Ceia", 58, 4.2, 9, 74, -82.4910, 27.9210},
	{"Carrollwood", 88, 3.9, 12, 70, -82.5050, 28.0480},
	{"Brandon", 110, 3.7, 14, 69, -82.2860, 27.9370},
}

// fallbackNeighborhoods returns the built-in neighborhood feature set. Each
// entry gets a small square boundary around its real center so the layer
// renders as polygons like live data would.
func fallbackNeighborhoods() []layer.Feature {
	features := make([]layer.Feature, 0, len(tampaNeighborhoods))
	for i, n := range tampaNeighborhoods {
		features = append(features, layer.Feature{
			ID:       fmt.Sprintf("fallback-%d", i+1),
			Geometry: squareAround(n.Lng, n.Lat, 0.01),
			Properties: map[string]any{
				"name":           n.Name,
				"business_count": n.Businesses,
				"rating":         n.Rating,
				"diversity":      n.Diversity,
				"score":          n.Score,
				"fallback":       true,
			},
		})
	}
	return features
}

// IsFallback reports whether a feature came from the built-in fallback set.
func IsFallback(f layer.Feature) bool {
	v, _ := f.Properties["fallback"].(bool)
	return v
}
