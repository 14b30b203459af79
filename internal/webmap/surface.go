// Package webmap provides the browser-facing rendering surface. The Go side
// never paints anything: it records the map mutation log (sources, layers,
// visibility, data) and streams it as server-sent events to clients that
// replay it into an actual map widget.
package webmap

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geodash/internal/layer"
)

// Event is one surface mutation in the replayable log.
type Event struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Source  string          `json:"source,omitempty"`
	Layer   string          `json:"layer,omitempty"`
	Visible *bool           `json:"visible,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const (
	EventAddSource     = "add_source"
	EventSetData       = "set_data"
	EventAddLayer      = "add_layer"
	EventSetVisibility = "set_visibility"
	EventRelease       = "release"
)

type layerState struct {
	source  string
	visible bool
}

// Surface implements mapctl.Surface. Readiness is reported asynchronously a
// short interval after construction, mirroring a real map widget whose
// instance exists before its style has loaded.
type Surface struct {
	ready chan struct{}

	mu       sync.Mutex
	released bool
	sources  map[string]bool
	layers   map[string]layerState
	log      []Event
	seq      int64
	subs     map[int64]chan Event
	nextSub  int64
}

// New creates a surface whose ready signal fires after the given delay.
func New(readyDelay time.Duration) *Surface {
	s := &Surface{
		ready:   make(chan struct{}),
		sources: make(map[string]bool),
		layers:  make(map[string]layerState),
		subs:    make(map[int64]chan Event),
	}
	if readyDelay <= 0 {
		close(s.ready)
	} else {
		time.AfterFunc(readyDelay, func() { close(s.ready) })
	}
	return s
}

// Ready is closed once the surface accepts source registrations.
func (s *Surface) Ready() <-chan struct{} { return s.ready }

// AddSource registers an empty named source.
func (s *Surface) AddSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return eris.New("webmap: surface released")
	}
	if s.sources[id] {
		return eris.Errorf("webmap: source %q already registered", id)
	}
	s.sources[id] = true
	s.emitLocked(Event{Type: EventAddSource, Source: id})
	return nil
}

// SetSourceData replaces a source's contents with the collection's GeoJSON.
func (s *Surface) SetSourceData(id string, fc layer.Collection) error {
	data, err := fc.GeoJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return eris.New("webmap: surface released")
	}
	if !s.sources[id] {
		return eris.Errorf("webmap: unknown source %q", id)
	}
	s.emitLocked(Event{Type: EventSetData, Source: id, Data: data})
	return nil
}

// AddLayer registers a visual layer bound to a source.
func (s *Surface) AddLayer(id, sourceID string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return eris.New("webmap: surface released")
	}
	if !s.sources[sourceID] {
		return eris.Errorf("webmap: layer %q references unknown source %q", id, sourceID)
	}
	if _, ok := s.layers[id]; ok {
		return eris.Errorf("webmap: layer %q already registered", id)
	}
	s.layers[id] = layerState{source: sourceID, visible: visible}
	v := visible
	s.emitLocked(Event{Type: EventAddLayer, Layer: id, Source: sourceID, Visible: &v})
	return nil
}

// SetLayerVisibility toggles a registered layer.
func (s *Surface) SetLayerVisibility(id string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return eris.New("webmap: surface released")
	}
	st, ok := s.layers[id]
	if !ok {
		return eris.Errorf("webmap: unknown layer %q", id)
	}
	st.visible = visible
	s.layers[id] = st
	v := visible
	s.emitLocked(Event{Type: EventSetVisibility, Layer: id, Visible: &v})
	return nil
}

// Release frees the surface and disconnects all subscribers.
func (s *Surface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.emitLocked(Event{Type: EventRelease})
	s.released = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// Subscribe replays the mutation log and then delivers live events. The
// returned cancel func must be called when the subscriber goes away.
func (s *Surface) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, len(s.log)+256)
	for _, ev := range s.log {
		ch <- ev
	}
	if s.released {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			close(sub)
			delete(s.subs, id)
		}
	}
	return ch, cancel
}

// Visible reports a layer's current visibility.
func (s *Surface) Visible(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers[id].visible
}

// Events returns a copy of the mutation log.
func (s *Surface) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Surface) emitLocked(ev Event) {
	s.seq++
	ev.Seq = s.seq
	s.log = append(s.log, ev)
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop it rather than block the map controller.
			close(ch)
			delete(s.subs, id)
		}
	}
}
