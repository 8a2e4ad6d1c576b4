package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardKeySpreadsConsecutivePages(t *testing.T) {
	assert.Equal(t, "epmc/0000/results.0000000.json", ShardKey("epmc", 0))
	assert.Equal(t, "epmc/0000/results.0000001.json", ShardKey("epmc", 1))
	assert.Equal(t, "epmc/1000/results.0001000.json", ShardKey("epmc", 1000))
	assert.Equal(t, "epmc/4321/results.1234567.json", ShardKey("epmc", 1234567))
}

func TestShardKeyIsStable(t *testing.T) {
	assert.Equal(t, ShardKey("run", 42), ShardKey("run", 42))
}

func TestMemoryShardStoreRoundtrip(t *testing.T) {
	store := NewMemoryShardStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a/b", []byte("payload")))
	data, err := store.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = store.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestMemoryShardStoreListSortedByPrefix(t *testing.T) {
	store := NewMemoryShardStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "epmc/0000/results.0000002.json", nil))
	require.NoError(t, store.Put(ctx, "epmc/0000/results.0000001.json", nil))
	require.NoError(t, store.Put(ctx, "other/x", nil))

	keys, err := store.List(ctx, "epmc/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"epmc/0000/results.0000001.json",
		"epmc/0000/results.0000002.json",
	}, keys)
}
