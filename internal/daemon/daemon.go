// Package daemon runs the background discovery loop and bridges the
// coordinator and the inventory cache for the HTTP layer.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dbfleet/dbfleet/cache"
	"github.com/dbfleet/dbfleet/discovery"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// Discoverer runs one discovery cycle over the account matrix.
type Discoverer interface {
	Discover(ctx context.Context, targets []types.AccountTarget) *discovery.AggregateResult
}

// Engine refreshes the inventory cache from discovery cycles, on a
// timer and on demand.
type Engine struct {
	coordinator Discoverer
	inventory   *cache.Cache
	targets     []types.AccountTarget
	key         string
	interval    time.Duration
	logger      *telemetry.Logger

	mu            sync.Mutex
	lastAggregate *discovery.AggregateResult
}

// New creates the engine. The cache key is derived from the account
// matrix, so a config change starts a distinct cache lineage.
func New(coordinator Discoverer, inventory *cache.Cache, targets []types.AccountTarget, interval time.Duration) *Engine {
	return &Engine{
		coordinator: coordinator,
		inventory:   inventory,
		targets:     targets,
		key:         cache.Key(targets),
		interval:    interval,
		logger:      telemetry.NewLogger("daemon"),
	}
}

// Refresh returns the current inventory entry, running a discovery
// cycle when the cache demands one or when forced. The returned
// aggregate carries the counters of the cycle that produced the data:
// the one run in this call, or the most recent one on a cache hit.
// Partial degradation stays visible to callers served from cache.
func (e *Engine) Refresh(ctx context.Context, force bool) (*cache.Entry, *discovery.AggregateResult, error) {
	var ran *discovery.AggregateResult

	refreshFn := func(ctx context.Context) ([]types.InventoryRecord, error) {
		aggregate := e.coordinator.Discover(ctx, e.targets)
		ran = aggregate
		e.setAggregate(aggregate)

		// A cycle where nothing succeeded is a failed refresh; the
		// cache then falls back to its last good entry.
		if len(aggregate.Records) == 0 && len(aggregate.PerPairErrors) > 0 {
			return nil, fmt.Errorf("discovery produced no records: %d pair errors", len(aggregate.PerPairErrors))
		}
		return aggregate.Records, nil
	}

	var entry *cache.Entry
	var err error
	if force {
		entry, err = e.inventory.ForceRefresh(ctx, e.key, refreshFn)
	} else {
		entry, err = e.inventory.GetOrRefresh(ctx, e.key, refreshFn)
	}
	if err != nil {
		return nil, ran, err
	}
	if ran == nil {
		ran = e.LastAggregate()
	}
	return entry, ran, nil
}

// Run refreshes on the configured interval until the context ends. A
// failed cycle is logged and the loop keeps going.
func (e *Engine) Run(ctx context.Context) error {
	if _, _, err := e.Refresh(ctx, true); err != nil {
		e.logger.Warn().Err(err).Msg("Initial discovery cycle failed")
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := e.Refresh(ctx, true); err != nil {
				e.logger.Warn().Err(err).Msg("Scheduled discovery cycle failed")
			}
		}
	}
}

// LastAggregate returns the most recent cycle outcome, if any.
func (e *Engine) LastAggregate() *discovery.AggregateResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAggregate
}

func (e *Engine) setAggregate(a *discovery.AggregateResult) {
	e.mu.Lock()
	e.lastAggregate = a
	e.mu.Unlock()
}
