package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbfleet/dbfleet/broker"
	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/types"
)

type fakeCreds struct {
	failAccounts map[string]bool
}

func (f *fakeCreds) Assume(ctx context.Context, target types.AccountTarget) (*broker.Credentials, error) {
	if f.failAccounts[target.AccountID] {
		return nil, &types.AuthAssumeRoleError{AccountID: target.AccountID, Err: errors.New("denied")}
	}
	return &broker.Credentials{
		AccountID:  target.AccountID,
		Expiration: time.Now().Add(time.Hour),
	}, nil
}

type fakeScanner struct {
	mu        sync.Mutex
	records   map[string][]types.InventoryRecord // "account/region" -> records
	failPairs map[string]error
	delay     time.Duration
	scans     atomic.Int64
}

func (f *fakeScanner) Scan(ctx context.Context, creds *broker.Credentials, region string) ([]types.InventoryRecord, error) {
	f.scans.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	key := creds.AccountID + "/" + region
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failPairs[key]; ok {
		return nil, err
	}
	return f.records[key], nil
}

func record(account, region, id string, discovered time.Time) types.InventoryRecord {
	return types.InventoryRecord{
		InstanceID:   id,
		AccountID:    account,
		Region:       region,
		Engine:       "postgres",
		Status:       "available",
		DiscoveredAt: discovered,
		LastUpdated:  discovered,
	}
}

func discoveryConfig() config.Discovery {
	return config.Discovery{
		Deadline:    time.Second,
		MaxInFlight: 4,
	}
}

func TestDiscover_PartialFailure(t *testing.T) {
	// Scenario: two accounts, one region each; account 2's scan fails.
	now := time.Now()
	scanner := &fakeScanner{
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {record("111122223333", "eu-west-1", "orders-db", now)},
		},
		failPairs: map[string]error{
			"444455556666/eu-west-1": &types.ScanError{AccountID: "444455556666", Region: "eu-west-1", Err: errors.New("boom")},
		},
	}
	c := NewCoordinator(&fakeCreds{}, scanner, discoveryConfig())

	result := c.Discover(context.Background(), []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1"}},
		{AccountID: "444455556666", RoleName: "r", Regions: []string{"eu-west-1"}},
	})

	assert.Equal(t, 2, result.AccountsAttempted)
	assert.Equal(t, 1, result.AccountsScanned)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "orders-db", result.Records[0].InstanceID)
	require.Len(t, result.PerPairErrors, 1)
	assert.Equal(t, "444455556666", result.PerPairErrors[0].AccountID)
}

func TestDiscover_AssumeRoleFailureIsIsolated(t *testing.T) {
	now := time.Now()
	scanner := &fakeScanner{
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {record("111122223333", "eu-west-1", "orders-db", now)},
		},
	}
	c := NewCoordinator(&fakeCreds{failAccounts: map[string]bool{"444455556666": true}}, scanner, discoveryConfig())

	result := c.Discover(context.Background(), []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1"}},
		{AccountID: "444455556666", RoleName: "r", Regions: []string{"eu-west-1", "us-east-1"}},
	})

	assert.Equal(t, 1, result.AccountsScanned)
	assert.Len(t, result.Records, 1)
	assert.Len(t, result.PerPairErrors, 2, "each failed pair reports separately")
}

func TestDiscover_DeduplicatesByNaturalKey(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	scanner := &fakeScanner{
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {
				record("111122223333", "eu-west-1", "orders-db", older),
				record("111122223333", "eu-west-1", "orders-db", newer),
			},
		},
	}
	c := NewCoordinator(&fakeCreds{}, scanner, discoveryConfig())

	result := c.Discover(context.Background(), []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1"}},
	})

	require.Len(t, result.Records, 1)
	assert.True(t, result.Records[0].DiscoveredAt.Equal(newer), "most recent discovered_at must win")
}

func TestDiscover_SameInstanceIDAcrossAccounts(t *testing.T) {
	now := time.Now()
	scanner := &fakeScanner{
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {record("111122223333", "eu-west-1", "orders-db", now)},
			"444455556666/eu-west-1": {record("444455556666", "eu-west-1", "orders-db", now)},
		},
	}
	c := NewCoordinator(&fakeCreds{}, scanner, discoveryConfig())

	result := c.Discover(context.Background(), []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1"}},
		{AccountID: "444455556666", RoleName: "r", Regions: []string{"eu-west-1"}},
	})

	assert.Len(t, result.Records, 2, "same instance id in two accounts is two records")
}

func TestDiscover_DeadlineAbandonsSlowPairs(t *testing.T) {
	now := time.Now()
	scanner := &fakeScanner{
		delay: 500 * time.Millisecond,
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {record("111122223333", "eu-west-1", "orders-db", now)},
		},
	}
	cfg := config.Discovery{Deadline: 50 * time.Millisecond, MaxInFlight: 4}
	c := NewCoordinator(&fakeCreds{}, scanner, cfg)

	start := time.Now()
	result := c.Discover(context.Background(), []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1"}},
	})

	assert.Less(t, time.Since(start), 450*time.Millisecond, "deadline must bound the cycle")
	assert.Equal(t, 0, result.AccountsScanned)
	require.Len(t, result.PerPairErrors, 1)
}

func TestDiscover_Idempotent(t *testing.T) {
	now := time.Now()
	scanner := &fakeScanner{
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {record("111122223333", "eu-west-1", "orders-db", now)},
		},
	}
	c := NewCoordinator(&fakeCreds{}, scanner, discoveryConfig())
	targets := []types.AccountTarget{{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1"}}}

	first := c.Discover(context.Background(), targets)
	second := c.Discover(context.Background(), targets)

	require.Equal(t, len(first.Records), len(second.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].NaturalKey(), second.Records[i].NaturalKey())
		assert.False(t, second.Records[i].LastUpdated.Before(first.Records[i].LastUpdated))
	}
}

func TestDiscover_ConcurrentPairsAreBounded(t *testing.T) {
	now := time.Now()
	scanner := &fakeScanner{
		delay: 10 * time.Millisecond,
		records: map[string][]types.InventoryRecord{
			"111122223333/eu-west-1": {record("111122223333", "eu-west-1", "a", now)},
			"111122223333/us-east-1": {record("111122223333", "us-east-1", "b", now)},
			"111122223333/us-west-2": {record("111122223333", "us-west-2", "c", now)},
		},
	}
	cfg := config.Discovery{Deadline: time.Second, MaxInFlight: 1}
	c := NewCoordinator(&fakeCreds{}, scanner, cfg)

	result := c.Discover(context.Background(), []types.AccountTarget{
		{AccountID: "111122223333", RoleName: "r", Regions: []string{"eu-west-1", "us-east-1", "us-west-2"}},
	})

	assert.Len(t, result.Records, 3)
	assert.EqualValues(t, 3, scanner.scans.Load())
}
