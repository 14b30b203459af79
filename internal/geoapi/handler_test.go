package geoapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (http.Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewHandler(NewStore(mock)), mock
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestDensityGridRoute(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_service_density_grid").
		WithArgs(3.5).
		WillReturnRows(
			pgxmock.NewRows([]string{"id", "geom", "business_count", "avg_rating", "service_types", "service_diversity"}).
				AddRow(int64(7), strPtr(`{"type":"Polygon","coordinates":[[[-82.46,27.94],[-82.44,27.94],[-82.44,27.96],[-82.46,27.96],[-82.46,27.94]]]}`),
					42, floatPtr(4.2), []string{"Restaurant"}, intPtr(3)),
		)

	rec := get(t, h, "/geo/density-grid?min_rating=3.5")
	require.Equal(t, http.StatusOK, rec.Code)

	var cells []DensityCell
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cells))
	require.Len(t, cells, 1)
	assert.Equal(t, "7", cells[0].GridID)
}

func TestDensityGridRouteGeoJSON(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_service_density_grid").
		WithArgs(0.0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "geom", "business_count", "avg_rating", "service_types", "service_diversity"}))

	rec := get(t, h, "/geo/density-grid?format=geojson")
	require.Equal(t, http.StatusOK, rec.Code)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	// Zero rows served the 25-cell fallback grid.
	require.Len(t, fc.Features, 25)
	assert.Equal(t, "grid-0", fc.Features[0].ID)
	assert.Contains(t, fc.Features[0].Properties, "business_count")
}

func TestDensityGridRouteFallbackOnError(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_service_density_grid").
		WithArgs(0.0).
		WillReturnError(assert.AnError)

	rec := get(t, h, "/geo/density-grid")
	require.Equal(t, http.StatusOK, rec.Code)

	var cells []DensityCell
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cells))
	assert.Len(t, cells, 25)
}

func TestBusinessClustersRouteFallback(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_business_clusters").
		WithArgs(5).
		WillReturnError(assert.AnError)

	rec := get(t, h, "/geo/business-clusters")
	require.Equal(t, http.StatusOK, rec.Code)

	var clusters []Cluster
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clusters))
	require.Len(t, clusters, 15)
	assert.Equal(t, "cluster-0", clusters[0].ClusterID)
	assert.Equal(t, []string{"Restaurant", "Food"}, clusters[0].Categories)
}

func TestBusinessClustersRouteMinSizeFloor(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_business_clusters").
		WithArgs(1).
		WillReturnError(assert.AnError)

	rec := get(t, h, "/geo/business-clusters?min_size=-3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNeighborhoodMetricsRouteBoundaries(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_neighborhood_scores").
		WithArgs(0.0).
		WillReturnRows(
			pgxmock.NewRows([]string{
				"neighborhood_rank", "city", "total_businesses", "avg_rating", "service_diversity",
				"density_score", "accessibility_score", "service_distribution_score",
			}).
				AddRow(int64(1), strPtr("Hyde Park"), 87, floatPtr(4.3), intPtr(12),
					floatPtr(78.0), floatPtr(85.0), floatPtr(72.0)),
		)

	rec := get(t, h, "/geo/neighborhood-metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Neighborhood
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	// The known center produced a synthesized boundary polygon.
	assert.Contains(t, string(got[0].Boundary), `"Polygon"`)
	assert.Contains(t, string(got[0].Boundary), "-82.45")
}

func TestNeighborhoodMetricsRouteFallbackGeoJSON(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM mv_tampa_neighborhood_scores").
		WithArgs(0.0).
		WillReturnError(assert.AnError)

	rec := get(t, h, "/geo/neighborhood-metrics?format=geojson")
	require.Equal(t, http.StatusOK, rec.Code)

	var fc struct {
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 10)
	assert.Equal(t, "fallback-1", fc.Features[0].ID)
	assert.Equal(t, "Hyde Park", fc.Features[0].Properties["name"])
}

func TestStatsRoutes(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM area_stats").
		WillReturnRows(
			pgxmock.NewRows([]string{"area_id", "business_count", "review_count", "avg_rating", "unique_reviewers"}).
				AddRow("a1", 10, 20, floatPtr(4.0), 15),
		)

	rec := get(t, h, "/stats/area-overview")
	require.Equal(t, http.StatusOK, rec.Code)

	var areas []AreaStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &areas))
	require.Len(t, areas, 1)
	assert.Equal(t, "a1", areas[0].AreaID)
}

func TestStatsRouteUnavailable(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM competition_overview").
		WillReturnError(assert.AnError)

	rec := get(t, h, "/stats/competition-overview")
	// Stats have no fallback datasets; errors surface as 503.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthRoute(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectPing()
	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	mock.ExpectPing().WillReturnError(assert.AnError)
	rec = get(t, h, "/health")
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectPing()

	rec := get(t, h, "/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
