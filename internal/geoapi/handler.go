package geoapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewHandler builds the geo/stats API router. Every geo endpoint degrades to
// its fallback dataset rather than returning an error status: the dashboard
// client treats the response body as authoritative and has no retry logic of
// its own.
func NewHandler(store *Store) http.Handler {
	h := &handler{
		store: store,
		log:   zap.L().With(zap.String("component", "geoapi")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", h.health)
	r.Route("/geo", func(r chi.Router) {
		r.Get("/density-grid", h.densityGrid)
		r.Get("/business-clusters", h.businessClusters)
		r.Get("/neighborhood-metrics", h.neighborhoodMetrics)
	})
	r.Route("/stats", func(r chi.Router) {
		r.Get("/area-overview", h.areaOverview)
		r.Get("/category-analysis", h.categoryAnalysis)
		r.Get("/competition-overview", h.competitionOverview)
		r.Get("/review-stats", h.reviewStats)
	})
	return r
}

// requestID tags every request with a correlation id for log grepping.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type handler struct {
	store *Store
	log   *zap.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.store.PingDB(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, map[string]string{"status": status})
}

func (h *handler) densityGrid(w http.ResponseWriter, r *http.Request) {
	minRating := floatParam(r, "min_rating", 0)

	cells, err := h.store.DensityGrid(r.Context(), minRating)
	if err != nil {
		h.log.Error("density grid query failed, serving fallback", zap.Error(err))
		cells = nil
	}
	if len(cells) == 0 {
		h.log.Warn("no density grid data, serving fallback")
		cells = fallbackDensityGrid()
	}

	if wantGeoJSON(r) {
		features := make([]geoFeature, 0, len(cells))
		for _, c := range cells {
			features = append(features, geoFeature{
				Type:     "Feature",
				ID:       c.GridID,
				Geometry: c.Coordinates,
				Properties: map[string]any{
					"business_count":    c.Metrics.BusinessCount,
					"avg_rating":        c.Metrics.AvgRating,
					"service_diversity": c.Metrics.ServiceDiversity,
					"service_types":     c.Metrics.ServiceTypes,
				},
			})
		}
		writeJSON(w, featureCollection(features))
		return
	}
	writeJSON(w, cells)
}

func (h *handler) businessClusters(w http.ResponseWriter, r *http.Request) {
	minSize := intParam(r, "min_size", 5)
	if minSize < 1 {
		minSize = 1
	}
	category := r.URL.Query().Get("category")

	clusters, err := h.store.BusinessClusters(r.Context(), minSize, category)
	if err != nil {
		h.log.Error("cluster query failed, serving fallback", zap.Error(err))
		clusters = nil
	}
	if len(clusters) == 0 {
		h.log.Warn("no cluster data, serving fallback")
		clusters = fallbackClusters()
	}

	if wantGeoJSON(r) {
		features := make([]geoFeature, 0, len(clusters))
		for _, c := range clusters {
			features = append(features, geoFeature{
				Type:     "Feature",
				ID:       c.ClusterID,
				Geometry: c.Center,
				Properties: map[string]any{
					"size":       c.Size,
					"categories": c.Categories,
					"rating":     c.AvgRating,
				},
			})
		}
		writeJSON(w, featureCollection(features))
		return
	}
	writeJSON(w, clusters)
}

func (h *handler) neighborhoodMetrics(w http.ResponseWriter, r *http.Request) {
	minScore := floatParam(r, "min_score", 0)

	neighborhoods, err := h.store.NeighborhoodScores(r.Context(), minScore)
	if err != nil {
		h.log.Error("neighborhood query failed, serving fallback", zap.Error(err))
		neighborhoods = nil
	}
	// The scores view carries no geometry; attach a boundary around each
	// neighborhood's known center before serving.
	for i := range neighborhoods {
		neighborhoods[i].Boundary = boundaryFor(neighborhoods[i].AreaName, i)
	}
	if len(neighborhoods) == 0 {
		h.log.Warn("no neighborhood data, serving fallback")
		neighborhoods = fallbackNeighborhoods()
	}

	if wantGeoJSON(r) {
		features := make([]geoFeature, 0, len(neighborhoods))
		for _, n := range neighborhoods {
			features = append(features, geoFeature{
				Type:     "Feature",
				ID:       n.AreaID,
				Geometry: n.Boundary,
				Properties: map[string]any{
					"name":       n.AreaName,
					"businesses": n.TotalBusinesses,
					"rating":     n.AvgRating,
					"diversity":  n.ServiceDiversity,
					"score":      n.CombinedScore,
				},
			})
		}
		writeJSON(w, featureCollection(features))
		return
	}
	writeJSON(w, neighborhoods)
}

func (h *handler) areaOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.AreaStats(r.Context(), r.URL.Query().Get("area_id"))
	if err != nil {
		h.log.Error("area stats query failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "statistics unavailable")
		return
	}
	writeJSON(w, stats)
}

func (h *handler) categoryAnalysis(w http.ResponseWriter, r *http.Request) {
	minCount := intParam(r, "min_count", 1)
	if minCount < 1 {
		minCount = 1
	}
	stats, err := h.store.CategoryStats(r.Context(), r.URL.Query().Get("category"), minCount)
	if err != nil {
		h.log.Error("category stats query failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "statistics unavailable")
		return
	}
	writeJSON(w, stats)
}

func (h *handler) competitionOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.CompetitionMetrics(r.Context())
	if err != nil {
		h.log.Error("competition stats query failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "statistics unavailable")
		return
	}
	writeJSON(w, stats)
}

func (h *handler) reviewStats(w http.ResponseWriter, r *http.Request) {
	minReviews := intParam(r, "min_reviews", 0)
	if minReviews < 0 {
		minReviews = 0
	}
	stats, err := h.store.ReviewStats(r.Context(), r.URL.Query().Get("city"), minReviews)
	if err != nil {
		h.log.Error("review stats query failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "statistics unavailable")
		return
	}
	writeJSON(w, stats)
}

// geoFeature is the wire form of a GeoJSON feature built from already-encoded
// geometry.
type geoFeature struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

func featureCollection(features []geoFeature) map[string]any {
	return map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	}
}

func wantGeoJSON(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "geojson")
}

func floatParam(r *http.Request, name string, def float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
