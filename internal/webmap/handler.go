package webmap

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/geodash/internal/dashboard"
	"github.com/sells-group/geodash/internal/layer"
	"github.com/sells-group/geodash/internal/viewstate"
)

// NewHandler builds the presentation shell's HTTP surface: layer data
// snapshots, control endpoints for layer/filter changes, and the SSE stream
// of map mutations.
func NewHandler(engine *dashboard.Engine, surface *Surface) http.Handler {
	h := &handler{
		engine:  engine,
		surface: surface,
		log:     zap.L().With(zap.String("component", "webmap")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", h.health)
	r.Get("/map/events", h.streamEvents)
	r.Get("/api/state", h.state)
	r.Get("/api/layers/{kind}", h.layerData)
	r.Post("/api/layers/active", h.setActive)
	r.Post("/api/filters/{kind}", h.updateFilter)
	return r
}

type handler struct {
	engine  *dashboard.Engine
	surface *Surface
	log     *zap.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// state returns the control snapshot the shell binds its chrome to: active
// layer, per-layer load flags, and the degraded-mode banner.
func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	type layerStatus struct {
		IsLoading bool `json:"is_loading"`
		IsError   bool `json:"is_error"`
		Features  int  `json:"features"`
	}
	layers := make(map[string]layerStatus, 3)
	for _, kind := range layer.Kinds() {
		ld := h.engine.UseLayerData(r.Context(), kind)
		layers[kind.String()] = layerStatus{
			IsLoading: ld.IsLoading,
			IsError:   ld.IsError,
			Features:  len(ld.Data),
		}
	}

	resp := map[string]any{
		"active_layer": h.engine.ActiveLayer().String(),
		"layers":       layers,
	}
	if h.engine.Degraded(r.Context()) {
		resp["banner"] = dashboard.DegradedBanner
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) layerData(w http.ResponseWriter, r *http.Request) {
	kind, err := layer.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown layer kind"})
		return
	}

	ld := h.engine.UseLayerData(r.Context(), kind)
	fc := layer.Collection{Kind: kind, Features: ld.Data}
	data, err := fc.GeoJSON()
	if err != nil {
		h.log.Error("encode layer data", zap.String("kind", kind.String()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encoding failed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"is_loading":%t,"is_error":%t,"collection":%s}`, ld.IsLoading, ld.IsError, data)
}

func (h *handler) setActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	kind, err := layer.ParseKind(req.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown layer kind"})
		return
	}

	h.engine.SetActiveLayer(kind)
	writeJSON(w, http.StatusAccepted, map[string]string{"active_layer": kind.String()})
}

func (h *handler) updateFilter(w http.ResponseWriter, r *http.Request) {
	kind, err := layer.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown layer kind"})
		return
	}

	switch kind {
	case layer.KindDensity:
		var f viewstate.DensityFilter
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filter body"})
			return
		}
		h.engine.SetDensityFilter(f)
	case layer.KindCluster:
		var f viewstate.ClusterFilter
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filter body"})
			return
		}
		h.engine.SetClusterFilter(f)
	case layer.KindNeighborhood:
		var f viewstate.NeighborhoodFilter
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filter body"})
			return
		}
		h.engine.SetNeighborhoodFilter(f)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"layer": kind.String()})
}

// streamEvents replays the surface mutation log and follows with live events
// as server-sent events.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := h.surface.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("encode map event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
