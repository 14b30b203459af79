// Package dashboard wires the view state, layer cache, and map controller
// into the engine behind the presentation shell. The shell reads snapshots
// and issues layer/filter changes; everything else is reactive plumbing.
package dashboard

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geodash/internal/geoclient"
	"github.com/sells-group/geodash/internal/layer"
	"github.com/sells-group/geodash/internal/layercache"
	"github.com/sells-group/geodash/internal/mapctl"
	"github.com/sells-group/geodash/internal/viewstate"
)

// DegradedBanner is shown when every layer came back empty and the view is
// running on fallback data alone.
const DegradedBanner = "API connection error — using fallback data"

// LayerData is the per-layer snapshot handed to the presentation shell.
type LayerData struct {
	Data      []layer.Feature `json:"data"`
	IsLoading bool            `json:"is_loading"`
	IsError   bool            `json:"is_error"`
}

// Engine owns the data flow between filters, cache, and the map surface.
type Engine struct {
	state *viewstate.State
	cache *layercache.Cache
	ctrl  *mapctl.Controller
	log   *zap.Logger
}

// New wires the engine's subscriptions. Cache resolutions push features to
// the map controller; state changes trigger fetches and visibility switches.
func New(state *viewstate.State, cache *layercache.Cache, ctrl *mapctl.Controller) *Engine {
	e := &Engine{
		state: state,
		cache: cache,
		ctrl:  ctrl,
		log:   zap.L().With(zap.String("component", "dashboard")),
	}

	cache.OnUpdate(func(entry layercache.Entry) {
		if entry.Status != layercache.Ready {
			return
		}
		// Only the current query for a kind drives its source; a superseded
		// filter's late resolution must not overwrite newer data.
		if entry.Query.Key() != e.state.Query(entry.Query.Kind).Key() {
			return
		}
		if st := e.ctrl.PushFeatures(entry.Query.Kind, entry.Data); st == mapctl.PushFailed {
			e.log.Warn("push rejected by map controller",
				zap.String("kind", entry.Query.Kind.String()),
			)
		}
	})

	state.OnChange(func(ch viewstate.Change) {
		if ch.ActiveChanged {
			e.ctrl.SetActiveLayer(ch.Kind)
		}
		entry := e.cache.Get(context.Background(), ch.Query)
		if entry.Status == layercache.Ready && !entry.Refreshing {
			// Already cached for these filter values; repush immediately.
			e.ctrl.PushFeatures(ch.Kind, entry.Data)
		}
	})

	return e
}

// Start mounts the map surface and warms all three layers concurrently. It
// returns once every layer's initial fetch resolves or ctx expires; the map
// fills in asynchronously either way.
func (e *Engine) Start(ctx context.Context, surface mapctl.Surface) error {
	e.ctrl.Init(surface)

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range e.state.Queries() {
		g.Go(func() error {
			entry := e.cache.Wait(gctx, q)
			e.log.Info("layer warmed",
				zap.String("kind", q.Kind.String()),
				zap.String("status", entry.Status.String()),
				zap.Int("features", len(entry.Data)),
			)
			return nil
		})
	}
	return g.Wait()
}

// Stop releases the map surface.
func (e *Engine) Stop() {
	e.ctrl.Teardown()
}

// UseLayerData returns the shell's subscription snapshot for one layer.
func (e *Engine) UseLayerData(ctx context.Context, kind layer.Kind) LayerData {
	entry := e.cache.Get(ctx, e.state.Query(kind))
	return LayerData{
		Data:      entry.Data,
		IsLoading: entry.Status == layercache.Pending || entry.Refreshing,
		IsError:   entry.Status == layercache.Failed,
	}
}

// SetActiveLayer switches the visible map layer.
func (e *Engine) SetActiveLayer(kind layer.Kind) {
	e.state.SetActiveLayer(kind)
}

// ActiveLayer returns the currently selected layer kind.
func (e *Engine) ActiveLayer() layer.Kind {
	return e.state.ActiveLayer()
}

// SetDensityFilter updates the density filter and refetches that layer only.
func (e *Engine) SetDensityFilter(f viewstate.DensityFilter) {
	e.state.SetDensityFilter(f)
}

// SetClusterFilter updates the cluster filter and refetches that layer only.
func (e *Engine) SetClusterFilter(f viewstate.ClusterFilter) {
	e.state.SetClusterFilter(f)
}

// SetNeighborhoodFilter updates the neighborhood filter and refetches that
// layer only.
func (e *Engine) SetNeighborhoodFilter(f viewstate.NeighborhoodFilter) {
	e.state.SetNeighborhoodFilter(f)
}

// Degraded reports whether every layer finished loading with nothing but
// empty or fallback data, which drives the non-blocking connection banner.
// Individual layer failures stay silent, masked by fallback/previous data.
func (e *Engine) Degraded(ctx context.Context) bool {
	for _, q := range e.state.Queries() {
		entry := e.cache.Get(ctx, q)
		if entry.Status == layercache.Pending {
			return false
		}
		if !layerEmpty(q.Kind, entry.Data) {
			return false
		}
	}
	return true
}

func layerEmpty(kind layer.Kind, data []layer.Feature) bool {
	if len(data) == 0 {
		return true
	}
	if kind != layer.KindNeighborhood {
		return false
	}
	for _, f := range data {
		if !geoclient.IsFallback(f) {
			return false
		}
	}
	return true
}
