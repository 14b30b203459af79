// Package mapctl owns the single map rendering surface for the lifetime of a
// mounted view. It multiplexes the three independently-loading data layers
// onto that surface and keeps visibility and content consistent despite
// asynchronous, out-of-order data arrival.
package mapctl

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/geodash/internal/layer"
)

// Phase is the controller's initialization state.
type Phase int

const (
	// Uninitialized means no surface instance exists.
	Uninitialized Phase = iota
	// Initializing means the instance was created and the controller is
	// waiting for its ready signal.
	Initializing
	// SourcesReady means sources and layers are registered but the surface's
	// paint pipeline has not settled yet.
	SourcesReady
	// Interactive means the surface accepts source updates.
	Interactive
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case SourcesReady:
		return "sources-ready"
	case Interactive:
		return "interactive"
	default:
		return "unknown"
	}
}

// PushStatus reports the outcome of a PushFeatures call.
type PushStatus int

const (
	// PushApplied means the source was updated.
	PushApplied PushStatus = iota
	// PushScheduled means the surface was not ready and the update will be
	// retried on a fixed interval within the retry window.
	PushScheduled
	// PushFailed means the update was rejected (missing source or surface
	// error). The caller may retry.
	PushFailed
	// PushExpired means the retry window elapsed without the surface
	// becoming ready.
	PushExpired
)

func (s PushStatus) String() string {
	switch s {
	case PushApplied:
		return "applied"
	case PushScheduled:
		return "scheduled"
	case PushFailed:
		return "failed"
	case PushExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Options configures controller timing.
type Options struct {
	// DefaultKind is the layer visible after initialization.
	DefaultKind layer.Kind
	// SettleDelay is the pause between the surface's ready signal and
	// accepting source updates. The surface reports ready before its paint
	// pipeline can safely absorb rapid updates.
	SettleDelay time.Duration
	// TransitionDelay is the pause between hiding the previous layer and
	// showing the next one, so both are never toggled in the same frame.
	TransitionDelay time.Duration
	// RetryInterval is the spacing of deferred source-update retries.
	RetryInterval time.Duration
	// RetryWindow bounds how long a deferred source update keeps retrying
	// before giving up silently.
	RetryWindow time.Duration
}

// DefaultOptions returns the standard controller timings.
func DefaultOptions() Options {
	return Options{
		DefaultKind:     layer.KindDensity,
		SettleDelay:     150 * time.Millisecond,
		TransitionDelay: 100 * time.Millisecond,
		RetryInterval:   250 * time.Millisecond,
		RetryWindow:     5 * time.Second,
	}
}

// Controller is the exclusive owner of one rendering surface. All surface
// mutation is serialized through its run loop; callers never touch the
// surface directly.
type Controller struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	phase   Phase
	surface Surface
	cmds    chan func()
	done    chan struct{}

	// Run-loop-owned view state, guarded by mu only for external reads.
	active        layer.Kind
	visible       map[layer.Kind]bool
	sources       map[layer.Kind]bool
	transitioning bool
	pendingActive layer.Kind
	hasPending    bool
	contents      map[layer.Kind]layer.Collection
}

// New creates a controller in the Uninitialized phase.
func New(opts Options) *Controller {
	def := DefaultOptions()
	if opts.DefaultKind == "" {
		opts.DefaultKind = def.DefaultKind
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = def.SettleDelay
	}
	if opts.TransitionDelay <= 0 {
		opts.TransitionDelay = def.TransitionDelay
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.RetryWindow <= 0 {
		opts.RetryWindow = def.RetryWindow
	}
	return &Controller{
		opts:     opts,
		log:      zap.L().With(zap.String("component", "mapctl")),
		visible:  make(map[layer.Kind]bool),
		sources:  make(map[layer.Kind]bool),
		contents: make(map[layer.Kind]layer.Collection),
	}
}

// Init attaches the surface and begins the two-phase initialization. It is
// idempotent: re-entrant calls while a surface is already mounted or
// initializing are ignored.
func (c *Controller) Init(s Surface) {
	c.mu.Lock()
	if c.phase != Uninitialized {
		c.mu.Unlock()
		c.log.Debug("init ignored, surface already mounted", zap.String("phase", c.phase.String()))
		return
	}
	c.phase = Initializing
	c.surface = s
	c.cmds = make(chan func(), 64)
	c.done = make(chan struct{})
	done := c.done
	cmds := c.cmds
	c.mu.Unlock()

	c.log.Info("map surface initializing")
	go c.run(s, cmds, done)
}

// Teardown releases the surface and resets the controller from any phase.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.phase == Uninitialized {
		c.mu.Unlock()
		return
	}
	s := c.surface
	close(c.done)
	c.phase = Uninitialized
	c.surface = nil
	c.cmds = nil
	c.done = nil
	c.visible = make(map[layer.Kind]bool)
	c.sources = make(map[layer.Kind]bool)
	c.contents = make(map[layer.Kind]layer.Collection)
	c.transitioning = false
	c.hasPending = false
	c.mu.Unlock()

	if s != nil {
		s.Release()
	}
	c.log.Info("map surface released")
}

// Phase returns the current initialization phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ActiveLayer returns the currently active layer kind.
func (c *Controller) ActiveLayer() layer.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Visible reports whether a kind's layers are currently shown.
func (c *Controller) Visible(kind layer.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible[kind]
}

// Contents returns the last feature collection pushed to a kind's source.
func (c *Controller) Contents(kind layer.Kind) layer.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contents[kind]
}

// PushFeatures updates one kind's source with a feature set. Invalid features
// are dropped before reaching the surface. If the surface is not yet
// interactive, or a visibility transition is in progress, the update is
// deferred and retried within the bounded retry window rather than lost:
// fetch completions race ahead of map readiness on initial load. The deferral
// never blocks the caller.
func (c *Controller) PushFeatures(kind layer.Kind, features []layer.Feature) PushStatus {
	fc := layer.Collection{Kind: kind, Features: features}.Filter()
	deadline := time.Now().Add(c.opts.RetryWindow)

	c.mu.Lock()
	phase := c.phase
	done := c.done
	c.mu.Unlock()

	switch phase {
	case Uninitialized:
		c.log.Warn("push dropped, no surface mounted", zap.String("kind", kind.String()))
		return PushFailed
	case Initializing:
		// The run loop is still blocked on the surface's ready signal and
		// drains no commands yet; defer without stalling the caller.
		c.scheduleRetry(kind, fc, deadline, done)
		return PushScheduled
	}

	res := make(chan PushStatus, 1)
	if !c.post(func() { res <- c.push(kind, fc, deadline, true) }) {
		c.log.Warn("push dropped, no surface mounted", zap.String("kind", kind.String()))
		return PushFailed
	}
	select {
	case st := <-res:
		return st
	case <-time.After(c.opts.RetryWindow):
		return PushExpired
	}
}

// SetActiveLayer switches the visible layer. At most one kind is visible at
// any time; switching hides the previous kind, then shows the new one after
// the transition delay. Calling it with the already-active kind is a no-op.
func (c *Controller) SetActiveLayer(kind layer.Kind) {
	if !c.post(func() { c.switchLayer(kind) }) {
		c.log.Debug("layer switch ignored, no surface mounted", zap.String("kind", kind.String()))
	}
}

// post submits fn to the run loop. Returns false when no surface is mounted.
func (c *Controller) post(fn func()) bool {
	c.mu.Lock()
	cmds, done := c.cmds, c.done
	c.mu.Unlock()
	if cmds == nil {
		return false
	}
	select {
	case cmds <- fn:
		return true
	case <-done:
		return false
	}
}

// run is the single goroutine through which every surface call flows. done is
// the mount generation it belongs to; once Teardown closes it, this goroutine
// must not touch the surface or controller state again.
func (c *Controller) run(s Surface, cmds chan func(), done chan struct{}) {
	select {
	case <-s.Ready():
	case <-done:
		return
	}
	// Ready and done can both be closed when teardown races the surface's
	// ready signal; teardown wins.
	select {
	case <-done:
		return
	default:
	}

	c.registerSources(s, done)

	// The surface reports ready before its paint pipeline is safe to drive
	// with rapid updates; defer activation instead of trusting the signal.
	var settle <-chan time.Time = time.After(c.opts.SettleDelay)

	for {
		select {
		case <-settle:
			settle = nil
			if c.setPhase(Interactive, done) {
				c.log.Info("map interactive")
			}
		case fn := <-cmds:
			fn()
		case <-done:
			return
		}
	}
}

func (c *Controller) registerSources(s Surface, done chan struct{}) {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return
	}
	active := c.opts.DefaultKind
	c.active = active
	c.mu.Unlock()

	for _, kind := range layer.Kinds() {
		if err := s.AddSource(kind.SourceID()); err != nil {
			c.log.Error("add source failed", zap.String("kind", kind.String()), zap.Error(err))
			continue
		}
		show := kind == active
		ok := true
		for _, id := range layerIDs(kind) {
			if err := s.AddLayer(id, kind.SourceID(), show); err != nil {
				c.log.Error("add layer failed", zap.String("layer", id), zap.Error(err))
				ok = false
			}
		}
		c.mu.Lock()
		if c.done == done {
			c.sources[kind] = true
			c.visible[kind] = show && ok
		}
		c.mu.Unlock()
	}

	if c.setPhase(SourcesReady, done) {
		c.log.Info("map sources registered", zap.String("active", active.String()))
	}
}

// setPhase applies p only while done is still the current mount's lifetime
// channel. A goroutine whose mount was torn down cannot overwrite the
// Uninitialized reset or a successor mount's phase.
func (c *Controller) setPhase(p Phase, done chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done {
		return false
	}
	c.phase = p
	return true
}

// scheduleRetry re-attempts a deferred source update after the retry
// interval. done pins the retry to the mount generation that deferred it.
func (c *Controller) scheduleRetry(kind layer.Kind, fc layer.Collection, deadline time.Time, done chan struct{}) {
	time.AfterFunc(c.opts.RetryInterval, func() {
		select {
		case <-done:
			// Torn down (or remounted) since the retry was scheduled.
			return
		default:
		}
		c.post(func() {
			if st := c.push(kind, fc, deadline, false); st == PushApplied {
				c.log.Debug("deferred source update applied", zap.String("kind", kind.String()))
			}
		})
	})
}

// push runs on the loop goroutine. first marks the initial attempt, whose
// status is reported to the caller; retries only log on expiry.
func (c *Controller) push(kind layer.Kind, fc layer.Collection, deadline time.Time, first bool) PushStatus {
	c.mu.Lock()
	phase := c.phase
	transitioning := c.transitioning
	registered := c.sources[kind]
	s := c.surface
	c.mu.Unlock()

	if phase != Interactive || transitioning {
		if time.Now().After(deadline) {
			c.log.Warn("giving up on deferred source update",
				zap.String("kind", kind.String()),
				zap.String("phase", phase.String()),
			)
			return PushExpired
		}
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		c.scheduleRetry(kind, fc, deadline, done)
		return PushScheduled
	}

	if !registered || s == nil {
		c.log.Error("source not registered", zap.String("kind", kind.String()))
		return PushFailed
	}

	if err := s.SetSourceData(kind.SourceID(), fc); err != nil {
		// Individual update failures never corrupt phase state.
		c.log.Error("source update failed", zap.String("kind", kind.String()), zap.Error(err))
		return PushFailed
	}

	c.mu.Lock()
	c.contents[kind] = fc
	c.mu.Unlock()

	if first {
		c.log.Debug("source updated",
			zap.String("kind", kind.String()),
			zap.Int("features", fc.Len()),
		)
	}
	return PushApplied
}

// switchLayer runs on the loop goroutine.
func (c *Controller) switchLayer(kind layer.Kind) {
	c.mu.Lock()
	if c.transitioning {
		// Serialize transitions: remember the latest request and apply it
		// once the in-progress switch completes.
		c.pendingActive = kind
		c.hasPending = true
		c.mu.Unlock()
		return
	}
	if kind == c.active && c.visible[kind] {
		c.mu.Unlock()
		return
	}
	prev := c.active
	c.transitioning = true
	c.active = kind
	s := c.surface
	done := c.done
	c.mu.Unlock()
	if s == nil {
		return
	}

	c.hideKind(s, prev)

	// Showing the new layer in the same frame as the hide causes visible
	// flicker; finish the switch after a short delay.
	time.AfterFunc(c.opts.TransitionDelay, func() {
		select {
		case <-done:
			return
		default:
		}
		c.post(func() { c.completeSwitch(kind) })
	})
}

func (c *Controller) completeSwitch(kind layer.Kind) {
	c.mu.Lock()
	s := c.surface
	c.mu.Unlock()
	if s == nil {
		return
	}

	c.showKind(s, kind)

	c.mu.Lock()
	c.transitioning = false
	pending, has := c.pendingActive, c.hasPending
	c.hasPending = false
	c.mu.Unlock()

	c.log.Debug("layer switch complete", zap.String("active", kind.String()))

	if has && pending != kind {
		c.switchLayer(pending)
	}
}

func (c *Controller) hideKind(s Surface, kind layer.Kind) {
	for _, id := range layerIDs(kind) {
		if err := s.SetLayerVisibility(id, false); err != nil {
			c.log.Error("hide layer failed", zap.String("layer", id), zap.Error(err))
		}
	}
	c.mu.Lock()
	c.visible[kind] = false
	c.mu.Unlock()
}

func (c *Controller) showKind(s Surface, kind layer.Kind) {
	shown := false
	for _, id := range layerIDs(kind) {
		if err := s.SetLayerVisibility(id, true); err != nil {
			c.log.Error("show layer failed", zap.String("layer", id), zap.Error(err))
			continue
		}
		shown = true
	}
	c.mu.Lock()
	c.visible[kind] = shown
	c.mu.Unlock()
}
