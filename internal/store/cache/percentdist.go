// Package cache fronts the reference percentage-distribution table
// (internal/reftables) with a Redis cache, the same way the teacher fronts
// its exchange/candle reads with a hot Redis tier ahead of the warm
// Postgres store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
)

// PercentDistCache caches one ingredient id's empirical percentage samples,
// the slowest-growing and most frequently re-read part of the reference
// dataset. The sampler itself reads samples from the in-memory
// reftables.Tables, not from this cache.
type PercentDistCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewPercentDistCache wraps an existing Redis client. ttl bounds how long a
// cached ingredient's samples can drift from the reference database before
// a miss forces a refresh.
func NewPercentDistCache(client *redis.Client, ttl time.Duration) *PercentDistCache {
	return &PercentDistCache{client: client, ttl: ttl, prefix: "percentdist:"}
}

// Get returns the cached samples for id, or ok=false on a cache miss.
func (c *PercentDistCache) Get(ctx context.Context, id string) ([]reftables.PercentageSample, bool, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read percentage distribution cache for %s: %w", id, err)
	}
	var samples []reftables.PercentageSample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached percentage distribution for %s: %w", id, err)
	}
	return samples, true, nil
}

// Set stores samples for id, overwriting any previous entry.
func (c *PercentDistCache) Set(ctx context.Context, id string, samples []reftables.PercentageSample) error {
	raw, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("failed to encode percentage distribution for %s: %w", id, err)
	}
	if err := c.client.Set(ctx, c.key(id), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write percentage distribution cache for %s: %w", id, err)
	}
	return nil
}

// Invalidate drops the cached entry for id, used when the reference loader
// observes a fresher row in Postgres.
func (c *PercentDistCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate percentage distribution cache for %s: %w", id, err)
	}
	return nil
}

func (c *PercentDistCache) key(id string) string {
	return c.prefix + id
}

// Stats is the hit/miss counters exposed to internal/telemetry.
type Stats struct {
	Hits   int64
	Misses int64
}

// Loader loads a product's full Tables, with the percentage-distribution
// portion served from cache where possible; everything else comes straight
// from the wrapped loader (internal/store/postgres.ReftablesRepo.Load).
type Loader struct {
	cache    *PercentDistCache
	inner    func(ctx context.Context) (*reftables.Tables, error)
	stats    Stats
}

// NewLoader wraps inner (typically ReftablesRepo.Load) with a percentage
// distribution cache.
func NewLoader(cache *PercentDistCache, inner func(ctx context.Context) (*reftables.Tables, error)) *Loader {
	return &Loader{cache: cache, inner: inner}
}

// Load fetches a full Tables snapshot, repopulating the percentage
// distribution cache from the inner loader's result and serving future
// per-ingredient lookups from Redis via WarmIngredient.
func (l *Loader) Load(ctx context.Context) (*reftables.Tables, error) {
	tables, err := l.inner(ctx)
	if err != nil {
		return nil, err
	}
	for id, samples := range tables.PercentDist {
		if err := l.cache.Set(ctx, id, samples); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// WarmIngredient returns one ingredient's percentage samples, preferring
// the Redis cache and falling back to the value already present in tables
// (a full reload) on a miss.
func (l *Loader) WarmIngredient(ctx context.Context, tables *reftables.Tables, id string) ([]reftables.PercentageSample, error) {
	samples, ok, err := l.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		l.stats.Hits++
		return samples, nil
	}
	l.stats.Misses++
	samples = tables.PercentDist[id]
	if err := l.cache.Set(ctx, id, samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// Stats returns the current hit/miss counters.
func (l *Loader) Stats() Stats {
	return l.stats
}
