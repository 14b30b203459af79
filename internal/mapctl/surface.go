package mapctl

import "github.com/sells-group/geodash/internal/layer"

// Surface is the externally-owned rendering surface the controller drives.
// Implementations report readiness asynchronously: the instance exists as
// soon as it is created, but sources and layers may only be registered after
// the Ready channel closes.
//
// All mutation goes through the controller's run loop; implementations are
// never called from more than one goroutine at a time.
type Surface interface {
	// AddSource registers an empty named data source.
	AddSource(id string) error

	// SetSourceData replaces the contents of a registered source.
	SetSourceData(id string, fc layer.Collection) error

	// AddLayer registers a visual layer bound to a source.
	AddLayer(id, sourceID string, visible bool) error

	// SetLayerVisibility toggles a registered layer.
	SetLayerVisibility(id string, visible bool) error

	// Ready is closed once the surface can accept source registrations.
	Ready() <-chan struct{}

	// Release frees the underlying instance. No calls may follow.
	Release()
}

// layerIDs returns the visual layer names registered for a kind: a circle
// layer for point data, fill plus outline for polygons.
func layerIDs(kind layer.Kind) []string {
	src := kind.SourceID()
	if kind == layer.KindCluster {
		return []string{src + "-circle"}
	}
	return []string{src + "-fill", src + "-outline"}
}
