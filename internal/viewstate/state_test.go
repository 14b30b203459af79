package viewstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geodash/internal/layer"
)

func TestDefaults(t *testing.T) {
	s := New()

	assert.Equal(t, layer.KindDensity, s.ActiveLayer())
	assert.Equal(t, "density|min_rating=0", s.Query(layer.KindDensity).Key())
	assert.Equal(t, "cluster|min_size=5", s.Query(layer.KindCluster).Key())
	assert.Equal(t, "neighborhood|min_score=0", s.Query(layer.KindNeighborhood).Key())
}

func TestQueriesCoversAllKinds(t *testing.T) {
	qs := New().Queries()
	require.Len(t, qs, 3)
	kinds := map[layer.Kind]bool{}
	for _, q := range qs {
		kinds[q.Kind] = true
	}
	assert.Len(t, kinds, 3)
}

func TestSetActiveLayerNotifies(t *testing.T) {
	s := New()
	var changes []Change
	s.OnChange(func(ch Change) { changes = append(changes, ch) })

	s.SetActiveLayer(layer.KindCluster)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].ActiveChanged)
	assert.Equal(t, layer.KindCluster, changes[0].Kind)
	assert.Equal(t, "cluster|min_size=5", changes[0].Query.Key())
	assert.Equal(t, layer.KindCluster, s.ActiveLayer())
}

func TestSetActiveLayerSameKindIsNoop(t *testing.T) {
	s := New()
	var changes []Change
	s.OnChange(func(ch Change) { changes = append(changes, ch) })

	s.SetActiveLayer(layer.KindDensity)
	assert.Empty(t, changes)
}

func TestFilterChangeAffectsOnlyItsLayer(t *testing.T) {
	s := New()
	var changes []Change
	s.OnChange(func(ch Change) { changes = append(changes, ch) })

	before := map[layer.Kind]string{
		layer.KindCluster:      s.Query(layer.KindCluster).Key(),
		layer.KindNeighborhood: s.Query(layer.KindNeighborhood).Key(),
	}

	s.SetDensityFilter(DensityFilter{MinRating: 3.5})

	require.Len(t, changes, 1)
	assert.Equal(t, layer.KindDensity, changes[0].Kind)
	assert.False(t, changes[0].ActiveChanged)
	assert.Equal(t, "density|min_rating=3.5", changes[0].Query.Key())

	// Other layers' queries unchanged.
	assert.Equal(t, before[layer.KindCluster], s.Query(layer.KindCluster).Key())
	assert.Equal(t, before[layer.KindNeighborhood], s.Query(layer.KindNeighborhood).Key())
}

func TestClusterFilterCategoryParam(t *testing.T) {
	s := New()

	s.SetClusterFilter(ClusterFilter{MinSize: 10, Category: "Food"})
	assert.Equal(t, "cluster|category=Food|min_size=10", s.Query(layer.KindCluster).Key())

	// Clearing the category drops the parameter entirely.
	s.SetClusterFilter(ClusterFilter{MinSize: 10})
	assert.Equal(t, "cluster|min_size=10", s.Query(layer.KindCluster).Key())
}

func TestNeighborhoodFilter(t *testing.T) {
	s := New()
	s.SetNeighborhoodFilter(NeighborhoodFilter{MinScore: 70})
	assert.Equal(t, "neighborhood|min_score=70", s.Query(layer.KindNeighborhood).Key())
}

func TestEqualFilterIsNoop(t *testing.T) {
	s := New()
	s.SetClusterFilter(ClusterFilter{MinSize: 10})

	var changes []Change
	s.OnChange(func(ch Change) { changes = append(changes, ch) })

	s.SetClusterFilter(ClusterFilter{MinSize: 10})
	s.SetDensityFilter(DensityFilter{})
	s.SetNeighborhoodFilter(NeighborhoodFilter{})

	assert.Empty(t, changes)
}
