package webmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geodash/internal/layer"
)

func testCollection(ids ...string) layer.Collection {
	fc := layer.Collection{Kind: layer.KindDensity}
	for _, id := range ids {
		fc.Features = append(fc.Features, layer.Feature{
			ID:       id,
			Geometry: geom.NewPointFlat(geom.XY, []float64{-82.45, 27.95}).SetSRID(4326),
		})
	}
	return fc
}

func TestReadySignal(t *testing.T) {
	s := New(0)
	select {
	case <-s.Ready():
	default:
		t.Fatal("zero-delay surface should be ready immediately")
	}

	s = New(10 * time.Millisecond)
	select {
	case <-s.Ready():
		t.Fatal("surface ready before its delay elapsed")
	default:
	}
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("surface never became ready")
	}
}

func TestMutationLog(t *testing.T) {
	s := New(0)

	require.NoError(t, s.AddSource("src"))
	require.NoError(t, s.AddLayer("src-fill", "src", true))
	require.NoError(t, s.SetSourceData("src", testCollection("a")))
	require.NoError(t, s.SetLayerVisibility("src-fill", false))

	events := s.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventAddSource, events[0].Type)
	assert.Equal(t, EventAddLayer, events[1].Type)
	assert.Equal(t, EventSetData, events[2].Type)
	assert.Equal(t, EventSetVisibility, events[3].Type)

	// Sequence numbers are strictly increasing from 1.
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	assert.False(t, s.Visible("src-fill"))
}

func TestSurfaceErrors(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddSource("src"))

	assert.Error(t, s.AddSource("src"), "duplicate source")
	assert.Error(t, s.AddLayer("l", "missing", true), "layer on unknown source")
	assert.Error(t, s.SetSourceData("missing", testCollection()), "data for unknown source")
	assert.Error(t, s.SetLayerVisibility("missing", true), "visibility of unknown layer")

	require.NoError(t, s.AddLayer("l", "src", true))
	assert.Error(t, s.AddLayer("l", "src", true), "duplicate layer")
}

func TestReleasedSurfaceRejectsEverything(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddSource("src"))
	s.Release()

	assert.Error(t, s.AddSource("other"))
	assert.Error(t, s.SetSourceData("src", testCollection()))
	assert.Error(t, s.AddLayer("l", "src", true))
	assert.Error(t, s.SetLayerVisibility("l", true))

	// Double release is safe and logged once.
	s.Release()
	events := s.Events()
	releases := 0
	for _, ev := range events {
		if ev.Type == EventRelease {
			releases++
		}
	}
	assert.Equal(t, 1, releases)
}

func TestSubscribeReplaysLog(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddSource("src"))
	require.NoError(t, s.AddLayer("src-fill", "src", true))

	events, cancel := s.Subscribe()
	defer cancel()

	ev1 := <-events
	ev2 := <-events
	assert.Equal(t, EventAddSource, ev1.Type)
	assert.Equal(t, EventAddLayer, ev2.Type)

	// Live events follow the replay.
	require.NoError(t, s.SetSourceData("src", testCollection("a")))
	select {
	case ev := <-events:
		assert.Equal(t, EventSetData, ev.Type)
		assert.NotEmpty(t, ev.Data)
	case <-time.After(time.Second):
		t.Fatal("live event not delivered")
	}
}

func TestSubscribeAfterRelease(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddSource("src"))
	s.Release()

	events, cancel := s.Subscribe()
	defer cancel()

	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventAddSource, EventRelease}, types)
}

func TestCancelStopsDelivery(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddSource("src"))

	events, cancel := s.Subscribe()
	<-events // drain replay
	cancel()

	// Channel closed; later mutations go nowhere.
	_, open := <-events
	assert.False(t, open)
	require.NoError(t, s.SetSourceData("src", testCollection("a")))
}

func TestReleaseClosesSubscribers(t *testing.T) {
	s := New(0)
	events, cancel := s.Subscribe()
	defer cancel()

	s.Release()

	deadline := time.After(time.Second)
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			assert.Equal(t, EventRelease, ev.Type)
		case <-deadline:
			t.Fatal("subscriber channel never closed")
		}
	}
}
