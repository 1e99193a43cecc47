package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	cache := NewSessionCache(&MemoryStorage{}, time.Minute)

	require.NoError(t, cache.Write(Snapshot{
		Authenticated: true,
		Address:       "0xaaaa",
		ProfileExists: true,
		Token:         "tok-1",
	}))

	snap := cache.Read()
	require.NotNil(t, snap)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, "0xaaaa", snap.Address)
	assert.Equal(t, "tok-1", snap.Token)
	assert.False(t, snap.CachedAt.IsZero())
}

func TestCacheMissWhenEmpty(t *testing.T) {
	cache := NewSessionCache(&MemoryStorage{}, time.Minute)
	assert.Nil(t, cache.Read())
}

func TestCacheTTLBoundary(t *testing.T) {
	base := time.Now()

	cache := NewSessionCache(&MemoryStorage{}, time.Minute)
	cache.now = func() time.Time { return base }

	require.NoError(t, cache.Write(Snapshot{Authenticated: true, Address: "0xaaaa"}))

	cache.now = func() time.Time { return base.Add(time.Minute - time.Second) }
	assert.NotNil(t, cache.Read(), "a record inside the TTL is a hit")

	cache.now = func() time.Time { return base.Add(time.Minute) }
	assert.Nil(t, cache.Read(), "a record at the TTL boundary is stale")

	// The stale read evicted the record; a later read inside a fresh
	// window still misses.
	cache.now = func() time.Time { return base }
	assert.Nil(t, cache.Read())
}

func TestCacheDropsCorruptRecord(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Store([]byte("{not json")))

	cache := NewSessionCache(storage, time.Minute)
	assert.Nil(t, cache.Read())

	// The corrupt record was deleted, not left to fail every read.
	_, err := storage.Load()
	assert.Error(t, err)
}

func TestCacheClear(t *testing.T) {
	cache := NewSessionCache(&MemoryStorage{}, time.Minute)

	require.NoError(t, cache.Write(Snapshot{Authenticated: true, Address: "0xaaaa"}))
	cache.Clear()
	assert.Nil(t, cache.Read())
}

func TestFileStorage(t *testing.T) {
	storage := &FileStorage{Path: filepath.Join(t.TempDir(), "session.json")}

	_, err := storage.Load()
	assert.Error(t, err)

	require.NoError(t, storage.Store([]byte(`{"authenticated":true}`)))

	data, err := storage.Load()
	require.NoError(t, err)
	assert.JSONEq(t, `{"authenticated":true}`, string(data))

	require.NoError(t, storage.Delete())
	require.NoError(t, storage.Delete(), "deleting an absent file is a no-op")
}
