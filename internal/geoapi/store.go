// Package geoapi serves the thin geo/statistics HTTP API. The heavy spatial
// work happens in PostGIS materialized views refreshed on a schedule; this
// package only issues parameterized SELECTs against those views and
// serializes rows to JSON, with fixed fallback datasets when the database is
// unavailable.
package geoapi

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// GridMetrics are the per-cell business metrics.
type GridMetrics struct {
	BusinessCount    int      `json:"business_count"`
	AvgRating        float64  `json:"avg_rating"`
	ServiceDiversity int      `json:"service_diversity"`
	ServiceTypes     []string `json:"service_types"`
}

// DensityCell is one density-grid row in wire form.
type DensityCell struct {
	GridID      string          `json:"grid_id"`
	Coordinates json.RawMessage `json:"coordinates"`
	Metrics     GridMetrics     `json:"metrics"`
}

// Cluster is one business-cluster row in wire form.
type Cluster struct {
	ClusterID  string          `json:"cluster_id"`
	Center     json.RawMessage `json:"center"`
	Size       int             `json:"size"`
	AvgRating  float64         `json:"avg_rating"`
	Categories []string        `json:"categories"`
}

// Neighborhood is one neighborhood-score row in wire form.
type Neighborhood struct {
	AreaID                   string          `json:"area_id"`
	AreaName                 string          `json:"area_name"`
	Boundary                 json.RawMessage `json:"boundary,omitempty"`
	TotalBusinesses          int             `json:"total_businesses"`
	AvgRating                float64         `json:"avg_rating"`
	ServiceDiversity         int             `json:"service_diversity"`
	DensityScore             float64         `json:"density_score"`
	AccessibilityScore       float64         `json:"accessibility_score"`
	ServiceDistributionScore float64         `json:"service_distribution_score"`
	CombinedScore            float64         `json:"combined_score"`
}

// Store reads the dashboard's materialized views.
type Store struct {
	pool Pool
	log  *zap.Logger
}

// NewStore creates a store over the given pool.
func NewStore(pool Pool) *Store {
	return &Store{
		pool: pool,
		log:  zap.L().With(zap.String("component", "geoapi.store")),
	}
}

const densityGridSQL = `
	SELECT id, ST_AsGeoJSON(geom), business_count, avg_rating, service_types, service_diversity
	FROM mv_tampa_service_density_grid
	WHERE business_count > 0 AND avg_rating >= $1`

// DensityGrid returns grid cells with an average rating at or above the
// threshold. Rows that fail to scan are skipped, not fatal.
func (s *Store) DensityGrid(ctx context.Context, minRating float64) ([]DensityCell, error) {
	rows, err := s.pool.Query(ctx, densityGridSQL, minRating)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query density grid")
	}
	defer rows.Close()

	var cells []DensityCell
	for rows.Next() {
		var (
			id           int64
			geomJSON     *string
			count        int
			rating       *float64
			serviceTypes []string
			diversity    *int
		)
		if err := rows.Scan(&id, &geomJSON, &count, &rating, &serviceTypes, &diversity); err != nil {
			s.log.Warn("skipping unreadable grid cell", zap.Error(err))
			continue
		}

		cell := DensityCell{
			GridID:      itoa(id),
			Coordinates: geomOrEmptyPolygon(geomJSON),
			Metrics: GridMetrics{
				BusinessCount:    count,
				AvgRating:        deref(rating),
				ServiceDiversity: derefInt(diversity),
				ServiceTypes:     orEmpty(serviceTypes),
			},
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate density grid")
	}
	return cells, nil
}

const clustersSQL = `
	SELECT cluster_id, ST_AsGeoJSON(cluster_center), cluster_size, cluster_categories, avg_rating
	FROM mv_tampa_business_clusters
	WHERE cluster_size >= $1`

// BusinessClusters returns clusters with at least minSize members, optionally
// restricted to a category.
func (s *Store) BusinessClusters(ctx context.Context, minSize int, category string) ([]Cluster, error) {
	sql := clustersSQL
	args := []any{minSize}
	if category != "" {
		sql += " AND $2 = ANY(cluster_categories)"
		args = append(args, category)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query business clusters")
	}
	defer rows.Close()

	var clusters []Cluster
	for rows.Next() {
		var (
			id         int64
			centerJSON *string
			size       int
			categories []string
			rating     *float64
		)
		if err := rows.Scan(&id, &centerJSON, &size, &categories, &rating); err != nil {
			s.log.Warn("skipping unreadable cluster", zap.Error(err))
			continue
		}

		clusters = append(clusters, Cluster{
			ClusterID:  itoa(id),
			Center:     geomOrTampaCenter(centerJSON),
			Size:       size,
			AvgRating:  deref(rating),
			Categories: orEmpty(categories),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate business clusters")
	}
	return clusters, nil
}

const neighborhoodsSQL = `
	SELECT neighborhood_rank, city, total_businesses, avg_rating, service_diversity,
	       total_businesses AS density_score,
	       service_diversity AS accessibility_score,
	       (food_services + health_services + shopping_services + entertainment_services) AS service_distribution_score
	FROM mv_tampa_neighborhood_scores
	WHERE total_businesses >= $1`

// NeighborhoodScores returns per-neighborhood metrics. The view carries no
// usable geometry, so boundaries are synthesized around known neighborhood
// centers by the handler layer.
func (s *Store) NeighborhoodScores(ctx context.Context, minScore float64) ([]Neighborhood, error) {
	rows, err := s.pool.Query(ctx, neighborhoodsSQL, minScore)
	if err != nil {
		return nil, eris.Wrap(err, "geoapi: query neighborhood scores")
	}
	defer rows.Close()

	var neighborhoods []Neighborhood
	for rows.Next() {
		var (
			rank          int64
			city          *string
			businesses    int
			rating        *float64
			diversity     *int
			density       *float64
			accessibility *float64
			distribution  *float64
		)
		if err := rows.Scan(&rank, &city, &businesses, &rating, &diversity, &density, &accessibility, &distribution); err != nil {
			s.log.Warn("skipping unreadable neighborhood", zap.Error(err))
			continue
		}

		n := Neighborhood{
			AreaID:                   itoa(rank),
			AreaName:                 derefStr(city, "Unknown"),
			TotalBusinesses:          businesses,
			AvgRating:                deref(rating),
			ServiceDiversity:         derefInt(diversity),
			DensityScore:             clampScore(deref(density)),
			AccessibilityScore:       clampScore(deref(accessibility)),
			ServiceDistributionScore: clampScore(deref(distribution)),
		}
		n.CombinedScore = clampScore((n.DensityScore + n.AccessibilityScore + n.ServiceDistributionScore) / 3)
		neighborhoods = append(neighborhoods, n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoapi: iterate neighborhood scores")
	}
	return neighborhoods, nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefStr(v *string, def string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return def
	}
	return strings.TrimSpace(*v)
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// geomOrEmptyPolygon passes through ST_AsGeoJSON output, substituting an
// empty polygon when the view returned NULL geometry.
func geomOrEmptyPolygon(geomJSON *string) json.RawMessage {
	if geomJSON == nil || *geomJSON == "" {
		return json.RawMessage(`{"type":"Polygon","coordinates":[]}`)
	}
	return json.RawMessage(*geomJSON)
}

// geomOrTampaCenter substitutes the Tampa center point for NULL cluster
// centers so the row stays renderable.
func geomOrTampaCenter(geomJSON *string) json.RawMessage {
	if geomJSON == nil || *geomJSON == "" {
		return json.RawMessage(`{"type":"Point","coordinates":[-82.4572,27.9506]}`)
	}
	return json.RawMessage(*geomJSON)
}
