package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbfleet/dbfleet/cache"
	"github.com/dbfleet/dbfleet/discovery"
	"github.com/dbfleet/dbfleet/types"
)

type fakeCoordinator struct {
	mu      sync.Mutex
	cycles  int
	records []types.InventoryRecord
	fail    bool
}

func (f *fakeCoordinator) Discover(_ context.Context, targets []types.AccountTarget) *discovery.AggregateResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	if f.fail {
		var errs []discovery.PairError
		for _, t := range targets {
			for _, r := range t.Regions {
				errs = append(errs, discovery.PairError{AccountID: t.AccountID, Region: r, Error: "throttled"})
			}
		}
		return &discovery.AggregateResult{AccountsAttempted: len(targets), PerPairErrors: errs}
	}
	return &discovery.AggregateResult{
		Records:           f.records,
		AccountsAttempted: len(targets),
		AccountsScanned:   len(targets),
	}
}

func (f *fakeCoordinator) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

// partialCoordinator scans its first target and fails the rest.
type partialCoordinator struct {
	cycles  int
	records []types.InventoryRecord
}

func (p *partialCoordinator) Discover(_ context.Context, targets []types.AccountTarget) *discovery.AggregateResult {
	p.cycles++
	aggregate := &discovery.AggregateResult{
		Records:           p.records,
		AccountsAttempted: len(targets),
		AccountsScanned:   1,
	}
	for _, t := range targets[1:] {
		for _, r := range t.Regions {
			aggregate.PerPairErrors = append(aggregate.PerPairErrors, discovery.PairError{
				AccountID: t.AccountID,
				Region:    r,
				Error:     "assume role failed",
			})
		}
	}
	return aggregate
}

func testTargets() []types.AccountTarget {
	return []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "fleet-discovery", Regions: []string{"eu-west-1"}},
	}
}

func TestRefresh_RunsCycleAndFillsCache(t *testing.T) {
	coord := &fakeCoordinator{records: []types.InventoryRecord{
		{InstanceID: "orders-db", AccountID: "111122223333", Region: "eu-west-1"},
	}}
	engine := New(coord, cache.New(time.Minute), testTargets(), time.Minute)

	entry, aggregate, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	require.NotNil(t, aggregate, "a cold cache forces a cycle")
	assert.Equal(t, 1, aggregate.AccountsScanned)
	require.Len(t, entry.Records, 1)
	assert.Equal(t, 1, coord.cycleCount())
}

func TestRefresh_FreshCacheSkipsCycle(t *testing.T) {
	coord := &fakeCoordinator{records: []types.InventoryRecord{
		{InstanceID: "orders-db", AccountID: "111122223333", Region: "eu-west-1"},
	}}
	engine := New(coord, cache.New(time.Minute), testTargets(), time.Minute)

	_, _, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	_, aggregate, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, coord.cycleCount(), "a fresh cache answers without a cycle")
	require.NotNil(t, aggregate, "cache hits still report the producing cycle")
	assert.Equal(t, 1, aggregate.AccountsScanned)
}

func TestRefresh_CacheHitKeepsDegradationVisible(t *testing.T) {
	coord := &partialCoordinator{records: []types.InventoryRecord{
		{InstanceID: "orders-db", AccountID: "111122223333", Region: "eu-west-1"},
	}}
	targets := []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "fleet-discovery", Regions: []string{"eu-west-1"}},
		{AccountID: "444455556666", RoleName: "fleet-discovery", Regions: []string{"eu-west-1"}},
	}
	engine := New(coord, cache.New(time.Minute), targets, time.Minute)

	_, first, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, first.AccountsAttempted)
	require.Equal(t, 1, first.AccountsScanned)

	// Inside the TTL no cycle runs, but the degraded counters of the
	// cycle that produced the cached data must still reach the caller.
	_, second, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, coord.cycles)
	require.NotNil(t, second)
	assert.Equal(t, 2, second.AccountsAttempted)
	assert.Equal(t, 1, second.AccountsScanned)
	require.Len(t, second.PerPairErrors, 1)
	assert.Equal(t, "444455556666", second.PerPairErrors[0].AccountID)
}

func TestRefresh_ForceBypassesTTL(t *testing.T) {
	coord := &fakeCoordinator{}
	engine := New(coord, cache.New(time.Minute), testTargets(), time.Minute)

	_, _, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	_, aggregate, err := engine.Refresh(context.Background(), true)
	require.NoError(t, err)

	require.NotNil(t, aggregate)
	assert.Equal(t, 2, coord.cycleCount())
}

func TestRefresh_TotalFailureServesStale(t *testing.T) {
	coord := &fakeCoordinator{records: []types.InventoryRecord{
		{InstanceID: "orders-db", AccountID: "111122223333", Region: "eu-west-1"},
	}}
	engine := New(coord, cache.New(time.Minute), testTargets(), time.Minute)

	_, _, err := engine.Refresh(context.Background(), false)
	require.NoError(t, err)

	coord.fail = true
	entry, _, err := engine.Refresh(context.Background(), true)
	require.NoError(t, err, "stale data is served after a failed cycle")

	assert.True(t, entry.Stale)
	require.Len(t, entry.Records, 1)
}

func TestRefresh_FirstCycleFailurePropagates(t *testing.T) {
	coord := &fakeCoordinator{fail: true}
	engine := New(coord, cache.New(time.Minute), testTargets(), time.Minute)

	_, _, err := engine.Refresh(context.Background(), false)

	var refreshErr *types.CacheRefreshError
	require.ErrorAs(t, err, &refreshErr)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	coord := &fakeCoordinator{}
	engine := New(coord, cache.New(time.Minute), testTargets(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.GreaterOrEqual(t, coord.cycleCount(), 2, "the loop keeps cycling on the interval")
}
