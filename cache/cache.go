// Package cache holds the aggregated inventory with explicit
// stale-vs-fresh semantics and single-flight refreshes.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// Entry is one cached inventory payload. Stale is explicit: consumers
// must handle it rather than mistaking old data for fresh.
type Entry struct {
	Key         string                  `json:"key"`
	Records     []types.InventoryRecord `json:"records"`
	FetchedAt   time.Time               `json:"fetched_at"`
	TTL         time.Duration           `json:"ttl"`
	Stale       bool                    `json:"stale"`
	StaleReason string                  `json:"stale_reason,omitempty"`
	// RefreshFailed marks an entry served as fallback after a failed
	// refresh, as opposed to one merely past its TTL.
	RefreshFailed bool `json:"refresh_failed,omitempty"`
}

// Fresh reports whether the entry is inside its TTL.
func (e *Entry) Fresh(now time.Time) bool {
	return !e.Stale && now.Before(e.FetchedAt.Add(e.TTL))
}

// FindRecord returns the record with the given natural key parts. An
// empty accountID or region matches any.
func (e *Entry) FindRecord(accountID, region, instanceID string) (types.InventoryRecord, bool) {
	for _, r := range e.Records {
		if r.InstanceID == instanceID &&
			(accountID == "" || r.AccountID == accountID) &&
			(region == "" || r.Region == region) {
			return r, true
		}
	}
	return types.InventoryRecord{}, false
}

// RefreshFunc produces a new payload for a key.
type RefreshFunc func(ctx context.Context) ([]types.InventoryRecord, error)

// inflight tracks one in-progress refresh; waiters share its result.
type inflight struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Cache is the TTL-backed inventory cache. At most one refresh per key
// runs at a time; concurrent callers await the in-flight result.
type Cache struct {
	ttl     time.Duration
	store   *Store
	mirror  *Mirror
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu       sync.RWMutex
	entries  map[string]*Entry
	inflight map[string]*inflight

	// index over natural keys for exact-match instance lookups.
	index *btree.BTreeG[types.InventoryRecord]

	now func() time.Time
}

// Option configures the cache.
type Option func(*Cache)

// WithStore attaches a bbolt snapshot store; the latest snapshot for
// each key is loaded on startup.
func WithStore(store *Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithMirror attaches a DynamoDB mirror.
func WithMirror(mirror *Mirror) Option {
	return func(c *Cache) { c.mirror = mirror }
}

// WithMetrics attaches OTEL metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an inventory cache with the given TTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		ttl:      ttl,
		logger:   telemetry.NewLogger("cache"),
		entries:  make(map[string]*Entry),
		inflight: make(map[string]*inflight),
		index: btree.NewG[types.InventoryRecord](32, func(a, b types.InventoryRecord) bool {
			return a.NaturalKey() < b.NaturalKey()
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store != nil {
		c.loadSnapshots()
	}
	return c
}

// loadSnapshots restores the last persisted entry per key so a restart
// does not begin with an empty cache.
func (c *Cache) loadSnapshots() {
	entries, err := c.store.LoadAll()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load cache snapshots")
		return
	}
	for _, entry := range entries {
		c.entries[entry.Key] = entry
		for _, r := range entry.Records {
			c.index.ReplaceOrInsert(r)
		}
	}
	if len(entries) > 0 {
		c.logger.Info().Int("keys", len(entries)).Msg("restored cache snapshots")
	}
}

// Get returns the entry for a key, if any, with its staleness
// evaluated against the TTL. A past-TTL entry is returned stale,
// never silently fresh.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.snapshot(entry), true
}

// snapshot returns a copy with staleness evaluated at read time.
func (c *Cache) snapshot(entry *Entry) *Entry {
	copied := *entry
	if !copied.Fresh(c.now()) && !copied.Stale {
		copied.Stale = true
		copied.StaleReason = "ttl expired"
	}
	return &copied
}

// Put stores a payload for a key. Records present in the previous
// payload but absent from the new one are carried over marked stale
// instead of being dropped, so a single missed scan does not make
// instances flap in and out of the inventory.
func (c *Cache) Put(ctx context.Context, key string, records []types.InventoryRecord) *Entry {
	c.mu.Lock()
	prev := c.entries[key]
	merged := reconcile(prev, records)
	entry := &Entry{
		Key:       key,
		Records:   merged,
		FetchedAt: c.now(),
		TTL:       c.ttl,
	}
	c.entries[key] = entry
	for _, r := range merged {
		c.index.ReplaceOrInsert(r)
	}
	c.mu.Unlock()

	c.persist(ctx, entry)
	return c.snapshot(entry)
}

// Lookup finds a record by its exact natural key across all cached
// matrices. Used by the dispatch validation path.
func (c *Cache) Lookup(accountID, region, instanceID string) (types.InventoryRecord, bool) {
	probe := types.InventoryRecord{AccountID: accountID, Region: region, InstanceID: instanceID}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Get(probe)
}

func (c *Cache) persist(ctx context.Context, entry *Entry) {
	if c.store != nil {
		if err := c.store.Save(entry); err != nil {
			c.logger.WithContext(ctx).Warn().Err(err).Str("key", entry.Key).Msg("snapshot save failed")
		}
	}
	if c.mirror != nil {
		if err := c.mirror.Write(ctx, entry); err != nil {
			c.logger.WithContext(ctx).Warn().Err(err).Str("key", entry.Key).Msg("mirror write failed")
		}
	}
}

// reconcile merges the previous payload into the new one: previous
// records missing from the latest full scan are kept, marked stale.
func reconcile(prev *Entry, next []types.InventoryRecord) []types.InventoryRecord {
	if prev == nil {
		return next
	}
	seen := make(map[string]bool, len(next))
	for _, r := range next {
		seen[r.NaturalKey()] = true
	}
	merged := next
	for _, r := range prev.Records {
		if !seen[r.NaturalKey()] {
			r.Stale = true
			merged = append(merged, r)
		}
	}
	return merged
}

// GetOrRefresh returns a fresh entry, refreshing if the TTL elapsed.
// Concurrent refreshes for the same key collapse into one underlying
// call. On refresh failure the last good entry is served stale; only
// a first-ever failure (nothing to fall back to) returns an error.
func (c *Cache) GetOrRefresh(ctx context.Context, key string, refresh RefreshFunc) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && entry.Fresh(c.now()) {
		return c.snapshot(entry), nil
	}

	return c.refresh(ctx, key, refresh)
}

// ForceRefresh bypasses the TTL check but still de-duplicates with any
// in-flight refresh.
func (c *Cache) ForceRefresh(ctx context.Context, key string, refresh RefreshFunc) (*Entry, error) {
	return c.refresh(ctx, key, refresh)
}

func (c *Cache) refresh(ctx context.Context, key string, refresh RefreshFunc) (*Entry, error) {
	c.mu.Lock()
	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.entry, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	fl.entry, fl.err = c.doRefresh(ctx, key, refresh)
	close(fl.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return fl.entry, fl.err
}

// doRefresh runs the refresh and applies the stale-fallback policy.
func (c *Cache) doRefresh(ctx context.Context, key string, refresh RefreshFunc) (*Entry, error) {
	if c.metrics != nil {
		c.metrics.CacheRefreshes.Add(ctx, 1)
	}

	records, err := refresh(ctx)
	if err == nil {
		return c.Put(ctx, key, records), nil
	}

	c.mu.RLock()
	prev, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, &types.CacheRefreshError{Key: key, Err: err}
	}

	if c.metrics != nil {
		c.metrics.CacheStaleServes.Add(ctx, 1)
	}
	c.logger.WithContext(ctx).Warn().
		Str("key", key).
		Err(err).
		Msg("refresh failed, serving stale entry")

	stale := *prev
	stale.Stale = true
	stale.StaleReason = "refresh failed: " + err.Error()
	stale.RefreshFailed = true
	return &stale, nil
}
