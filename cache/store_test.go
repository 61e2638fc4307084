package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbfleet/dbfleet/types"
)

func TestStore_SaveAndLoad(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	entry := &Entry{
		Key:       "abc",
		Records:   []types.InventoryRecord{record("1", "eu-west-1", "orders-db")},
		FetchedAt: time.Now().UTC().Truncate(time.Second),
		TTL:       5 * time.Minute,
	}
	require.NoError(t, store.Save(entry))

	loaded, err := store.Load("abc")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, entry.Key, loaded.Key)
	require.Len(t, loaded.Records, 1)
	assert.Equal(t, "orders-db", loaded.Records[0].InstanceID)
}

func TestStore_LoadMissingKey(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	loaded, err := store.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCache_RestoresSnapshotsOnStartup(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)

	first := New(time.Minute, WithStore(store))
	first.Put(context.Background(), "k", []types.InventoryRecord{record("1", "eu-west-1", "orders-db")})
	require.NoError(t, store.Close())

	store2, err := NewStore(dir)
	require.NoError(t, err)
	defer func() { _ = store2.Close() }()

	second := New(time.Minute, WithStore(store2))
	entry, ok := second.Get("k")
	require.True(t, ok, "restart must restore the last snapshot")
	assert.Len(t, entry.Records, 1)

	_, found := second.Lookup("1", "eu-west-1", "orders-db")
	assert.True(t, found, "index must be rebuilt from snapshots")
}
