// Package layercache caches per-query layer data with request deduplication
// and stale-value retention. Consumers always see the last successful result
// for a query while a newer fetch is in flight, so switching filters never
// blanks the map.
package layercache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/geodash/internal/layer"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	// Pending means a fetch is in flight and no result has ever resolved.
	Pending Status = iota
	// Ready means the entry holds current data.
	Ready
	// Failed means the most recent fetch errored. Previous Ready data, if
	// any, is retained and still served.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a consumer-visible snapshot of one cached query.
type Entry struct {
	Query     layer.Query
	Data      []layer.Feature
	Status    Status
	Err       error
	FetchedAt time.Time
	// Refreshing is true when Ready data is being served while a newer fetch
	// for the same query is in flight.
	Refreshing bool
}

// FetchFunc resolves a query to its feature set.
type FetchFunc func(ctx context.Context, q layer.Query) ([]layer.Feature, error)

// Options configures the cache.
type Options struct {
	Fetch FetchFunc
	// Staleness maps each kind to its recency threshold. A read past the
	// threshold triggers a non-blocking background refetch.
	Staleness map[layer.Kind]time.Duration
	// RetryBackoff is the fixed delay before the single retry of a failed
	// background refetch.
	RetryBackoff time.Duration
}

// DefaultStaleness returns the per-kind staleness windows.
func DefaultStaleness() map[layer.Kind]time.Duration {
	return map[layer.Kind]time.Duration{
		layer.KindDensity:      2 * time.Minute,
		layer.KindCluster:      2 * time.Minute,
		layer.KindNeighborhood: 5 * time.Minute,
	}
}

// Cache deduplicates and retains layer query results.
type Cache struct {
	opts  Options
	group singleflight.Group
	log   *zap.Logger

	mu      sync.Mutex
	entries map[string]*record
	subs    []func(Entry)

	seq     atomic.Uint64
	nowFunc func() time.Time
}

// record is the internal mutable state behind an Entry snapshot.
type record struct {
	query     layer.Query
	status    Status
	data      []layer.Feature
	hasData   bool
	err       error
	fetchedAt time.Time

	// latestSeq is the sequence number of the newest fetch issued for this
	// query. Completions with an older sequence are superseded and ignored.
	latestSeq uint64
	inFlight  bool
	retried   bool

	// done is closed when the current in-flight fetch resolves. Replaced on
	// each new fetch generation.
	done chan struct{}
}

// New creates a cache. Fetch must be non-nil.
func New(opts Options) *Cache {
	if opts.Staleness == nil {
		opts.Staleness = DefaultStaleness()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Cache{
		opts:    opts,
		entries: make(map[string]*record),
		log:     zap.L().With(zap.String("component", "layercache")),
		nowFunc: time.Now,
	}
}

// OnUpdate registers a callback invoked after any entry transition. Callbacks
// run outside the cache lock, on the goroutine that completed the fetch.
func (c *Cache) OnUpdate(fn func(Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Get returns the current entry for the query, creating and fetching it if
// absent. A Get for a query whose fetch is already in flight attaches to that
// fetch rather than issuing a new one. A Get for a Ready entry past its
// staleness window triggers a background refetch without blocking.
func (c *Cache) Get(ctx context.Context, q layer.Query) Entry {
	key := q.Key()

	c.mu.Lock()
	rec, ok := c.entries[key]
	if !ok {
		rec = &record{query: q, status: Pending, done: make(chan struct{})}
		c.entries[key] = rec
		c.startFetchLocked(ctx, rec, false)
	} else if !rec.inFlight && rec.status != Pending && c.staleLocked(rec) {
		c.startFetchLocked(ctx, rec, true)
	}
	snap := c.snapshotLocked(rec)
	c.mu.Unlock()

	return snap
}

// Wait blocks until the in-flight fetch for the query (if any) resolves, then
// returns the entry. If the context expires first, the snapshot the caller
// attached to is returned, not whatever resolved afterward.
func (c *Cache) Wait(ctx context.Context, q layer.Query) Entry {
	e := c.Get(ctx, q)

	c.mu.Lock()
	rec := c.entries[q.Key()]
	var done chan struct{}
	if rec != nil && rec.inFlight {
		done = rec.done
	}
	c.mu.Unlock()

	if done == nil {
		return e
	}
	select {
	case <-done:
	case <-ctx.Done():
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec := c.entries[q.Key()]; rec != nil {
		return c.snapshotLocked(rec)
	}
	return e
}

// Invalidate marks the entry stale so the next Get refetches. Retained data
// stays visible until the refetch resolves.
func (c *Cache) Invalidate(q layer.Query) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[q.Key()]
	if !ok {
		return
	}
	rec.fetchedAt = time.Time{}
}

// startFetchLocked launches a new fetch generation for rec. The caller holds
// the cache lock. background distinguishes staleness refreshes (whose
// failures retry once) from first-time fetches.
func (c *Cache) startFetchLocked(ctx context.Context, rec *record, background bool) {
	seq := c.seq.Add(1)
	rec.latestSeq = seq
	rec.inFlight = true
	rec.retried = false
	rec.done = make(chan struct{})

	q := rec.query
	key := q.Key()
	done := rec.done

	// The fetch belongs to the cache, not the triggering caller. A
	// request-scoped cancellation must not resolve this generation with
	// degraded data and clobber the retained value.
	ctx = context.WithoutCancel(ctx)

	go func() {
		data, err := c.doFetch(ctx, key, q)

		if err != nil && background {
			// One retry after a fixed backoff before surfacing Failed.
			time.Sleep(c.opts.RetryBackoff)
			c.markRetry(key, seq)
			data, err = c.doFetch(ctx, key, q)
		}

		c.resolve(key, seq, data, err)
		close(done)
	}()
}

// doFetch funnels execution through singleflight so concurrent generations of
// the same key share one underlying call.
func (c *Cache) doFetch(ctx context.Context, key string, q layer.Query) ([]layer.Feature, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.opts.Fetch(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]layer.Feature)
	return data, nil
}

func (c *Cache) markRetry(key string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec := c.entries[key]; rec != nil && rec.latestSeq == seq {
		rec.retried = true
	}
}

// resolve applies a fetch completion. Late completions from superseded
// generations are ignored by sequence comparison, not raw completion order.
func (c *Cache) resolve(key string, seq uint64, data []layer.Feature, err error) {
	c.mu.Lock()
	rec, ok := c.entries[key]
	if !ok || seq < rec.latestSeq {
		c.mu.Unlock()
		if ok {
			c.log.Debug("ignoring superseded fetch result", zap.String("query", key))
		}
		return
	}

	rec.inFlight = false
	if err != nil {
		rec.status = Failed
		rec.err = err
		c.log.Warn("layer fetch failed",
			zap.String("query", key),
			zap.Error(err),
		)
	} else {
		rec.status = Ready
		rec.err = nil
		rec.data = data
		rec.hasData = true
		rec.fetchedAt = c.nowFunc()
	}
	snap := c.snapshotLocked(rec)
	subs := make([]func(Entry), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Cache) staleLocked(rec *record) bool {
	window, ok := c.opts.Staleness[rec.query.Kind]
	if !ok || window <= 0 {
		return false
	}
	return c.nowFunc().Sub(rec.fetchedAt) > window
}

func (c *Cache) snapshotLocked(rec *record) Entry {
	e := Entry{
		Query:      rec.query,
		Status:     rec.status,
		Err:        rec.err,
		FetchedAt:  rec.fetchedAt,
		Refreshing: rec.inFlight && rec.hasData,
	}
	if rec.hasData {
		e.Data = rec.data
		// A refetch in flight never hides the previous Ready value.
		if rec.status == Pending {
			e.Status = Ready
		}
	}
	return e
}
