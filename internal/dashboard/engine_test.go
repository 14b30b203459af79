package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geodash/internal/geoclient"
	"github.com/sells-group/geodash/internal/layer"
	"github.com/sells-group/geodash/internal/layercache"
	"github.com/sells-group/geodash/internal/mapctl"
	"github.com/sells-group/geodash/internal/viewstate"
)

// stubSurface is immediately ready and records source updates.
type stubSurface struct {
	mu      sync.Mutex
	ready   chan struct{}
	updates map[string]int
}

func newStubSurface() *stubSurface {
	s := &stubSurface{ready: make(chan struct{}), updates: make(map[string]int)}
	close(s.ready)
	return s
}

func (s *stubSurface) Ready() <-chan struct{} { return s.ready }

func (s *stubSurface) AddSource(string) error { return nil }

func (s *stubSurface) AddLayer(_, _ string, _ bool) error { return nil }

func (s *stubSurface) SetLayerVisibility(string, bool) error { return nil }

func (s *stubSurface) Release() {}

func (s *stubSurface) SetSourceData(id string, fc layer.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id]++
	return nil
}

func (s *stubSurface) updateCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[id]
}

func validFeature(id string) layer.Feature {
	return layer.Feature{
		ID:       id,
		Geometry: geom.NewPointFlat(geom.XY, []float64{-82.45, 27.95}).SetSRID(4326),
	}
}

func fastCtrl() *mapctl.Controller {
	return mapctl.New(mapctl.Options{
		SettleDelay:     time.Millisecond,
		TransitionDelay: time.Millisecond,
		RetryInterval:   time.Millisecond,
		RetryWindow:     time.Second,
	})
}

func newEngine(fetch layercache.FetchFunc) (*Engine, *viewstate.State, *layercache.Cache) {
	state := viewstate.New()
	cache := layercache.New(layercache.Options{Fetch: fetch})
	return New(state, cache, fastCtrl()), state, cache
}

func TestStartWarmsAllLayers(t *testing.T) {
	var mu sync.Mutex
	fetched := map[layer.Kind]int{}
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		mu.Lock()
		fetched[q.Kind]++
		mu.Unlock()
		return []layer.Feature{validFeature(string(q.Kind))}, nil
	})

	surface := newStubSurface()
	require.NoError(t, e.Start(context.Background(), surface))
	defer e.Stop()

	mu.Lock()
	defer mu.Unlock()
	for _, kind := range layer.Kinds() {
		assert.Equal(t, 1, fetched[kind], kind)
	}
}

func TestResolvedLayersReachSurface(t *testing.T) {
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		return []layer.Feature{validFeature(string(q.Kind))}, nil
	})

	surface := newStubSurface()
	require.NoError(t, e.Start(context.Background(), surface))
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if surface.updateCount(layer.KindDensity.SourceID()) > 0 &&
			surface.updateCount(layer.KindCluster.SourceID()) > 0 &&
			surface.updateCount(layer.KindNeighborhood.SourceID()) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("not all sources updated: %v", surface.updates)
}

func TestUseLayerDataStates(t *testing.T) {
	block := make(chan struct{})
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		if q.Kind == layer.KindDensity {
			<-block
			return []layer.Feature{validFeature("d")}, nil
		}
		if q.Kind == layer.KindCluster {
			return nil, eris.New("cluster endpoint down")
		}
		return []layer.Feature{validFeature("n")}, nil
	})

	ctx := context.Background()

	ld := e.UseLayerData(ctx, layer.KindDensity)
	assert.True(t, ld.IsLoading)
	assert.False(t, ld.IsError)
	close(block)

	// Failed fetch surfaces as error.
	waitSettled(t, e, layer.KindCluster)
	ld = e.UseLayerData(ctx, layer.KindCluster)
	assert.True(t, ld.IsError)

	waitSettled(t, e, layer.KindNeighborhood)
	ld = e.UseLayerData(ctx, layer.KindNeighborhood)
	assert.False(t, ld.IsLoading)
	assert.False(t, ld.IsError)
	assert.Len(t, ld.Data, 1)
}

func waitSettled(t *testing.T, e *Engine, kind layer.Kind) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ld := e.UseLayerData(context.Background(), kind)
		if !ld.IsLoading {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("layer %s never settled", kind)
}

func TestSetActiveLayerFlowsToController(t *testing.T) {
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		return []layer.Feature{validFeature("x")}, nil
	})
	surface := newStubSurface()
	require.NoError(t, e.Start(context.Background(), surface))
	defer e.Stop()

	e.SetActiveLayer(layer.KindNeighborhood)
	assert.Equal(t, layer.KindNeighborhood, e.ActiveLayer())
}

func TestFilterChangeRefetchesOnlyThatLayer(t *testing.T) {
	var mu sync.Mutex
	fetches := map[string]int{}
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		mu.Lock()
		fetches[q.Key()]++
		mu.Unlock()
		return []layer.Feature{validFeature("x")}, nil
	})

	surface := newStubSurface()
	require.NoError(t, e.Start(context.Background(), surface))
	defer e.Stop()

	e.SetDensityFilter(viewstate.DensityFilter{MinRating: 4})
	waitSettled(t, e, layer.KindDensity)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fetches["density|min_rating=4"])
	// The other layers were fetched exactly once, during warmup.
	assert.Equal(t, 1, fetches["cluster|min_size=5"])
	assert.Equal(t, 1, fetches["neighborhood|min_score=0"])
}

func TestDegradedOnlyWhenEverythingEmptyOrFallback(t *testing.T) {
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		if q.Kind == layer.KindNeighborhood {
			return nil, eris.New("api down")
		}
		return nil, eris.New("api down")
	})

	ctx := context.Background()
	for _, kind := range layer.Kinds() {
		waitSettled(t, e, kind)
	}
	assert.True(t, e.Degraded(ctx))
}

func TestNotDegradedWithLiveData(t *testing.T) {
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		if q.Kind == layer.KindDensity {
			return []layer.Feature{validFeature("live")}, nil
		}
		return nil, nil
	})

	for _, kind := range layer.Kinds() {
		waitSettled(t, e, kind)
	}
	assert.False(t, e.Degraded(context.Background()))
}

func TestDegradedWithOnlyFallbackNeighborhoods(t *testing.T) {
	client := geoclient.New(geoclient.Options{BaseURL: "http://127.0.0.1:1"})
	e, _, _ := newEngine(func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
		return client.Fetch(ctx, q.Kind, q.ParamMap()), nil
	})

	for _, kind := range layer.Kinds() {
		waitSettled(t, e, kind)
	}
	// Density and cluster come back empty, neighborhoods as the fallback set:
	// that is the degraded picture.
	assert.True(t, e.Degraded(context.Background()))
}
