// Package viewstate holds the active layer selection and the three
// independent filter value sets. Each filter mutation produces a new cache
// query for its own layer only; changing one layer's filter never touches the
// other layers' cached data.
package viewstate

import (
	"strconv"
	"sync"

	"github.com/sells-group/geodash/internal/layer"
)

// DensityFilter filters the density grid layer.
type DensityFilter struct {
	MinRating float64
}

// ClusterFilter filters the business cluster layer.
type ClusterFilter struct {
	MinSize  int
	Category string
}

// NeighborhoodFilter filters the neighborhood score layer.
type NeighborhoodFilter struct {
	MinScore int
}

// Change describes one state mutation delivered to subscribers.
type Change struct {
	// Kind is the layer whose query changed, or the newly active layer when
	// ActiveChanged is set.
	Kind          layer.Kind
	Query         layer.Query
	ActiveChanged bool
}

// State is the reactive holder for the dashboard's view parameters.
type State struct {
	mu           sync.Mutex
	active       layer.Kind
	density      DensityFilter
	cluster      ClusterFilter
	neighborhood NeighborhoodFilter
	subs         []func(Change)
}

// New creates view state with the default layer active and the server-side
// default filter values.
func New() *State {
	return &State{
		active:  layer.KindDensity,
		cluster: ClusterFilter{MinSize: 5},
	}
}

// OnChange registers a subscriber. Callbacks run synchronously on the
// mutating goroutine, outside the state lock.
func (s *State) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// ActiveLayer returns the currently selected layer kind.
func (s *State) ActiveLayer() layer.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveLayer selects a layer. A no-op when the kind is already active.
func (s *State) SetActiveLayer(kind layer.Kind) {
	s.mu.Lock()
	if kind == s.active {
		s.mu.Unlock()
		return
	}
	s.active = kind
	q := s.queryLocked(kind)
	subs := s.subsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Kind: kind, Query: q, ActiveChanged: true})
}

// Query returns the cache query for a kind under the current filters.
func (s *State) Query(kind layer.Kind) layer.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(kind)
}

// Queries returns the current query for every layer kind.
func (s *State) Queries() []layer.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]layer.Query, 0, len(layer.Kinds()))
	for _, k := range layer.Kinds() {
		out = append(out, s.queryLocked(k))
	}
	return out
}

// SetDensityFilter updates the density layer's filter.
func (s *State) SetDensityFilter(f DensityFilter) {
	s.mu.Lock()
	if f == s.density {
		s.mu.Unlock()
		return
	}
	s.density = f
	q := s.queryLocked(layer.KindDensity)
	subs := s.subsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Kind: layer.KindDensity, Query: q})
}

// SetClusterFilter updates the cluster layer's filter.
func (s *State) SetClusterFilter(f ClusterFilter) {
	s.mu.Lock()
	if f == s.cluster {
		s.mu.Unlock()
		return
	}
	s.cluster = f
	q := s.queryLocked(layer.KindCluster)
	subs := s.subsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Kind: layer.KindCluster, Query: q})
}

// SetNeighborhoodFilter updates the neighborhood layer's filter.
func (s *State) SetNeighborhoodFilter(f NeighborhoodFilter) {
	s.mu.Lock()
	if f == s.neighborhood {
		s.mu.Unlock()
		return
	}
	s.neighborhood = f
	q := s.queryLocked(layer.KindNeighborhood)
	subs := s.subsLocked()
	s.mu.Unlock()

	s.notify(subs, Change{Kind: layer.KindNeighborhood, Query: q})
}

func (s *State) queryLocked(kind layer.Kind) layer.Query {
	switch kind {
	case layer.KindDensity:
		return layer.NewQuery(kind, map[string]string{
			"min_rating": strconv.FormatFloat(s.density.MinRating, 'f', -1, 64),
		})
	case layer.KindCluster:
		params := map[string]string{
			"min_size": strconv.Itoa(s.cluster.MinSize),
		}
		if s.cluster.Category != "" {
			params["category"] = s.cluster.Category
		}
		return layer.NewQuery(kind, params)
	case layer.KindNeighborhood:
		return layer.NewQuery(kind, map[string]string{
			"min_score": strconv.Itoa(s.neighborhood.MinScore),
		})
	default:
		return layer.NewQuery(kind, nil)
	}
}

func (s *State) subsLocked() []func(Change) {
	subs := make([]func(Change), len(s.subs))
	copy(subs, s.subs)
	return subs
}

func (s *State) notify(subs []func(Change), ch Change) {
	for _, fn := range subs {
		fn(ch)
	}
}
