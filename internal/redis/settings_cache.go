package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

// missing marks a key the backing source does not define, so misses are cached too.
const missing = "\x00"

var _ settings.Writer = (*CachedSource)(nil)

// CachedSource is a read-through cache of clinic settings. Each clinic is one
// Redis hash that expires after ttl.
type CachedSource struct {
	client *redis.Client
	inner  settings.Source
	ttl    time.Duration
}

func NewCachedSource(client *redis.Client, inner settings.Source, ttl time.Duration) *CachedSource {
	return &CachedSource{client: client, inner: inner, ttl: ttl}
}

func settingsKey(clinicID uuid.UUID) string {
	return fmt.Sprintf("settings:clinic:%s", clinicID.String())
}

func (c *CachedSource) Lookup(ctx context.Context, clinicID uuid.UUID, key string) (string, bool, error) {
	hkey := settingsKey(clinicID)

	v, err := c.client.HGet(ctx, hkey, key).Result()
	switch {
	case err == nil:
		if v == missing {
			return "", false, nil
		}
		return v, true, nil
	case !errors.Is(err, redis.Nil):
		// cache unavailable, go straight to the source
		return c.inner.Lookup(ctx, clinicID, key)
	}

	v, ok, err := c.inner.Lookup(ctx, clinicID, key)
	if err != nil {
		return "", false, err
	}

	stored := v
	if !ok {
		stored = missing
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, hkey, key, stored)
	pipe.Expire(ctx, hkey, c.ttl)
	_, _ = pipe.Exec(ctx)

	return v, ok, nil
}

// Put writes through to the backing source and drops the clinic's cached hash.
func (c *CachedSource) Put(ctx context.Context, clinicID uuid.UUID, key, value string) error {
	w, ok := c.inner.(settings.Writer)
	if !ok {
		return errors.New("settings source is read-only")
	}
	if err := w.Put(ctx, clinicID, key, value); err != nil {
		return err
	}
	return c.Invalidate(ctx, clinicID)
}

// Invalidate drops a clinic's cached settings after they were changed.
func (c *CachedSource) Invalidate(ctx context.Context, clinicID uuid.UUID) error {
	if err := c.client.Del(ctx, settingsKey(clinicID)).Err(); err != nil {
		return fmt.Errorf("invalidate settings cache: %w", err)
	}
	return nil
}
