package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLockerFreeKey(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisQueueLocker(client, 5*time.Second, 100*time.Millisecond)
	queueID := uuid.New()

	called := false
	err := l.WithQueueLock(context.Background(), queueID, func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists(lockKey(queueID)))
		assert.Greater(t, mr.TTL(lockKey(queueID)), time.Duration(0))
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(lockKey(queueID)))
}

func TestRedisLockerHeldKey(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisQueueLocker(client, 5*time.Second, 50*time.Millisecond)
	queueID := uuid.New()
	require.NoError(t, mr.Set(lockKey(queueID), "another-replica"))

	called := false
	err := l.WithQueueLock(context.Background(), queueID, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	got, err := mr.Get(lockKey(queueID))
	require.NoError(t, err)
	assert.Equal(t, "another-replica", got)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisQueueLocker(client, 5*time.Second, 2*time.Second)
	queueID := uuid.New()
	require.NoError(t, mr.Set(lockKey(queueID), "another-replica"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del(lockKey(queueID))
	}()

	called := false
	err := l.WithQueueLock(context.Background(), queueID, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(lockKey(queueID)))
}

func TestRedisLockerKeepsForeignToken(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisQueueLocker(client, 5*time.Second, 100*time.Millisecond)
	queueID := uuid.New()

	// the lock expired mid-flight and another replica took it over
	err := l.WithQueueLock(context.Background(), queueID, func(context.Context) error {
		return mr.Set(lockKey(queueID), "another-replica")
	})
	require.NoError(t, err)

	got, err := mr.Get(lockKey(queueID))
	require.NoError(t, err)
	assert.Equal(t, "another-replica", got)

	rl := l.(*redisQueueLocker)
	require.NoError(t, rl.release(context.Background(), lockKey(queueID), "stale-token"))
	assert.True(t, mr.Exists(lockKey(queueID)))
}

func TestRedisLockerCancelledWhileWaiting(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisQueueLocker(client, 5*time.Second, 5*time.Second)
	queueID := uuid.New()
	require.NoError(t, mr.Set(lockKey(queueID), "another-replica"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.WithQueueLock(ctx, queueID, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
