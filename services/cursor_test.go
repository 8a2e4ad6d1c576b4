package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorStoreEmpty(t *testing.T) {
	store := NewCursorStore(newTestDB(t))

	cursor, page, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "", cursor)
	assert.Equal(t, 0, page)
}

func TestCursorStoreAppendAndLatest(t *testing.T) {
	store := NewCursorStore(newTestDB(t))

	require.NoError(t, store.Append("AoIIP4AAACc0", 1))
	require.NoError(t, store.Append("AoIIP4AAACc1", 2))

	cursor, page, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "AoIIP4AAACc1", cursor)
	assert.Equal(t, 2, page)
}

func TestCursorStoreReset(t *testing.T) {
	store := NewCursorStore(newTestDB(t))

	require.NoError(t, store.Append("some-cursor", 5))
	require.NoError(t, store.Reset())

	cursor, page, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "", cursor)
	assert.Equal(t, 0, page)
}
