package geoapi

import (
	"encoding/json"
	"fmt"
)

// Fixed fallback datasets, served when the database is unreachable or a view
// returns zero rows. They keep the dashboard renderable in every environment.

type latLng struct {
	Lng, Lat float64
}

// tampaNeighborhoodCenters maps known neighborhoods to their real centers.
// Live rows carry no geometry, so boundaries are synthesized around these.
var tampaNeighborhoodCenters = map[string]latLng{
	"Hyde Park":        {-82.4633, 27.9380},
	"Downtown Tampa":   {-82.4572, 27.9506},
	"Ybor City":        {-82.4370, 27.9600},
	"Westshore":        {-82.5250, 27.9530},
	"Channelside":      {-82.4450, 27.9420},
	"Seminole Heights": {-82.4600, 27.9950},
	"SoHo":             {-82.4820, 27.9310},
	"Palma Ceia":       {-82.4910, 27.9210},
	"Carrollwood":      {-82.5050, 28.0480},
	"Brandon":          {-82.2860, 27.9370},
	"Tampa":            {-82.4572, 27.9506},
}

// squarePolygonJSON builds a GeoJSON polygon of the given half-size around a
// center point.
func squarePolygonJSON(lng, lat, size float64) json.RawMessage {
	s := fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		lng-size, lat-size,
		lng+size, lat-size,
		lng+size, lat+size,
		lng-size, lat+size,
		lng-size, lat-size,
	)
	return json.RawMessage(s)
}

func pointJSON(lng, lat float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"type":"Point","coordinates":[%g,%g]}`, lng, lat))
}

// boundaryFor synthesizes a small boundary polygon for a neighborhood. An
// unknown name falls back to a grid position derived from idx so unknown
// areas spread out visually instead of stacking at the city center.
func boundaryFor(name string, idx int) json.RawMessage {
	if c, ok := tampaNeighborhoodCenters[name]; ok {
		return squarePolygonJSON(c.Lng, c.Lat, 0.01)
	}
	lng := -82.45 - float64(idx%5)*0.02
	lat := 27.95 + float64(idx/5)*0.02
	return squarePolygonJSON(lng, lat, 0.01)
}

// fallbackDensityGrid returns a 5x5 synthetic grid across Tampa.
func fallbackDensityGrid() []DensityCell {
	serviceTypes := []string{"Restaurant", "Retail", "Healthcare", "Entertainment"}

	cells := make([]DensityCell, 0, 25)
	for i := 0; i < 25; i++ {
		row, col := i/5, i%5
		baseLat := 27.9 + float64(row)*0.02
		baseLng := -82.5 + float64(col)*0.02
		diversity := 5 + i%7

		cells = append(cells, DensityCell{
			GridID:      fmt.Sprintf("grid-%d", i),
			Coordinates: squarePolygonJSON(baseLng, baseLat, 0.015),
			Metrics: GridMetrics{
				BusinessCount:    10 + (i%10)*5,
				AvgRating:        3.0 + float64(i%5)*0.4,
				ServiceDiversity: diversity,
				ServiceTypes:     serviceTypes[:diversity%5],
			},
		})
	}
	return cells
}

// fallbackClusters returns 15 synthetic business clusters around Tampa.
func fallbackClusters() []Cluster {
	categoryGroups := [][]string{
		{"Restaurant", "Food"},
		{"Shopping", "Retail"},
		{"Entertainment", "Nightlife"},
		{"Healthcare", "Professional Services"},
		{"Automotive", "Home Services"},
	}

	clusters := make([]Cluster, 0, 15)
	for i := 0; i < 15; i++ {
		lat := 27.9 + float64(i%5)*0.03
		lng := -82.5 + float64(i/5)*0.03

		clusters = append(clusters, Cluster{
			ClusterID:  fmt.Sprintf("cluster-%d", i),
			Center:     pointJSON(lng, lat),
			Size:       5 + (i%10)*3,
			AvgRating:  3.0 + float64(i%5)*0.4,
			Categories: categoryGroups[i%5],
		})
	}
	return clusters
}

type fallbackArea struct {
	Name       string
	Businesses int
	Rating     float64
	Diversity  int
	Density    float64
	Access     float64
	Distrib    float64
}

var fallbackAreas = []fallbackArea{
	{"Hyde Park", 87, 4.3, 12, 78, 85, 72},
	{"Downtown Tampa", 156, 3.9, 18, 92, 88, 65},
	{"Ybor City", 104, 4.1, 15, 84, 76, 68},
	{"Westshore", 121, 3.8, 14, 76, 82, 70},
	{"Channelside", 65, 4.2, 10, 70, 79, 75},
	{"Seminole Heights", 79, 4.5, 11, 68, 72, 80},
	{"SoHo", 93, 4.4, 13, 82, 80, 78},
	{"Palma Ceia", 58, 4.2, 9, 65, 75, 82},
	{"Carrollwood", 88, 3.9, 12, 72, 68, 70},
	{"Brandon", 110, 3.7, 14, 75, 65, 68},
}

// fallbackNeighborhoods returns the fixed neighborhood set with real Tampa
// coordinates.
func fallbackNeighborhoods() []Neighborhood {
	neighborhoods := make([]Neighborhood, 0, len(fallbackAreas))
	for i, a := range fallbackAreas {
		n := Neighborhood{
			AreaID:                   fmt.Sprintf("fallback-%d", i+1),
			AreaName:                 a.Name,
			Boundary:                 boundaryFor(a.Name, i),
			TotalBusinesses:          a.Businesses,
			AvgRating:                a.Rating,
			ServiceDiversity:         a.Diversity,
			DensityScore:             a.Density,
			AccessibilityScore:       a.Access,
			ServiceDistributionScore: a.Distrib,
		}
		n.CombinedScore = clampScore((n.DensityScore + n.AccessibilityScore + n.ServiceDistributionScore) / 3)
		neighborhoods = append(neighborhoods, n)
	}
	return neighborhoods
}
