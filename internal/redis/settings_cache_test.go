package redisclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

type countingSource struct {
	*settings.MemorySource
	lookups atomic.Int32
}

func (c *countingSource) Lookup(ctx context.Context, clinicID uuid.UUID, key string) (string, bool, error) {
	c.lookups.Add(1)
	return c.MemorySource.Lookup(ctx, clinicID, key)
}

type readOnlySource struct{}

func (readOnlySource) Lookup(context.Context, uuid.UUID, string) (string, bool, error) {
	return "", false, nil
}

func TestCachedSourceCachesMisses(t *testing.T) {
	mr, client := newTestRedis(t)
	inner := &countingSource{MemorySource: settings.NewMemorySource()}
	cache := NewCachedSource(client, inner, time.Minute)
	ctx := context.Background()
	clinic := uuid.New()

	for i := 0; i < 3; i++ {
		_, ok, err := cache.Lookup(ctx, clinic, settings.KeyAllowWalkIns)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(1), inner.lookups.Load())
	assert.Equal(t, missing, mr.HGet(settingsKey(clinic), settings.KeyAllowWalkIns))
	assert.Greater(t, mr.TTL(settingsKey(clinic)), time.Duration(0))
}

func TestCachedSourcePutInvalidates(t *testing.T) {
	mr, client := newTestRedis(t)
	inner := &countingSource{MemorySource: settings.NewMemorySource()}
	cache := NewCachedSource(client, inner, time.Minute)
	ctx := context.Background()
	clinic := uuid.New()
	inner.Set(clinic, settings.KeyMaxWaitMinutes, "20")

	v, ok, err := cache.Lookup(ctx, clinic, settings.KeyMaxWaitMinutes)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20", v)

	// a change behind the cache's back is not seen until invalidation
	inner.Set(clinic, settings.KeyMaxWaitMinutes, "25")
	v, _, err = cache.Lookup(ctx, clinic, settings.KeyMaxWaitMinutes)
	require.NoError(t, err)
	assert.Equal(t, "20", v)

	require.NoError(t, cache.Put(ctx, clinic, settings.KeyMaxWaitMinutes, "40"))
	assert.False(t, mr.Exists(settingsKey(clinic)))

	v, ok, err = cache.Lookup(ctx, clinic, settings.KeyMaxWaitMinutes)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "40", v)
	assert.Equal(t, int32(2), inner.lookups.Load())
}

func TestCachedSourceThroughStore(t *testing.T) {
	_, client := newTestRedis(t)
	inner := settings.NewMemorySource()
	cache := NewCachedSource(client, inner, time.Minute)
	store := settings.NewStore(cache)
	ctx := context.Background()
	clinic := uuid.New()

	require.NoError(t, cache.Put(ctx, uuid.Nil, settings.KeyPriorityLevels, "1,2"))
	assert.Equal(t, []int{1, 2}, store.GetList(ctx, settings.KeyPriorityLevels, settings.DefaultPriorityLevels(), clinic))

	require.NoError(t, cache.Put(ctx, clinic, settings.KeyPriorityLevels, "3"))
	assert.Equal(t, []int{3}, store.GetList(ctx, settings.KeyPriorityLevels, settings.DefaultPriorityLevels(), clinic))
}

func TestCachedSourceReadOnlyInner(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewCachedSource(client, readOnlySource{}, time.Minute)
	err := cache.Put(context.Background(), uuid.New(), settings.KeyAutoCallNext, "true")
	assert.Error(t, err)
}

func TestCachedSourceRedisDownFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	inner := &countingSource{MemorySource: settings.NewMemorySource()}
	cache := NewCachedSource(client, inner, time.Minute)
	clinic := uuid.New()
	inner.Set(clinic, settings.KeyAutoCallNext, "true")
	mr.Close()

	v, ok, err := cache.Lookup(context.Background(), clinic, settings.KeyAutoCallNext)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}
