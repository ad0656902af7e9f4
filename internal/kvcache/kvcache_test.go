package kvcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	starskey, err := OpenStarskey(t.TempDir(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { starskey.Close() })

	return map[string]Store{
		"starskey": starskey,
		"memory":   NewMemoryStore(),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set("k1", []byte("v1")))

			value, ok, err := store.Get("k1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v1"), value)
		})
	}
}

func TestStore_MissIsNotAnError(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get("absent")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set("k1", []byte("v1")))
			require.NoError(t, store.Delete("k1"))

			_, ok, err := store.Get("k1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set("k1", []byte("old")))
			require.NoError(t, store.Set("k1", []byte("new")))

			value, ok, err := store.Get("k1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("new"), value)
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	store := NewMemoryStore()
	original := []byte("value")
	require.NoError(t, store.Set("k1", original))

	original[0] = 'X'
	value, ok, err := store.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value)
}
