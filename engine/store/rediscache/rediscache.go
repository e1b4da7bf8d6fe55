// Package rediscache is the hot ranking tier backed by Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/store"
)

// KeyPrefix namespaces ranking entries.
const KeyPrefix = "combo:ranking:"

// client is the subset of *redis.Client the cache uses.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Cache stores ranking records as JSON. Entries expire from Redis after
// Retain; freshness is still decided by the caller from CheckedAt, so a
// stale entry stays readable as a fallback until it expires.
type Cache struct {
	rdb    client
	retain time.Duration
}

// Open connects to Redis. url may be a redis:// URL or a bare host:port.
func Open(ctx context.Context, url string, retain time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	c := New(redis.NewClient(opt), retain)
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	return c, nil
}

// New wraps an existing client. A non-positive retain keeps entries for
// twice store.DefaultTTL.
func New(rdb client, retain time.Duration) *Cache {
	if retain <= 0 {
		retain = 2 * store.DefaultTTL
	}
	return &Cache{rdb: rdb, retain: retain}
}

// Key returns the Redis key for a ranking key.
func Key(k domain.RankingKey) string { return KeyPrefix + k.String() }

// GetRanking reads one record.
func (c *Cache) GetRanking(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	raw, err := c.rdb.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RankingRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RankingRecord{}, fmt.Errorf("rediscache: get: %w", err)
	}
	var rec domain.RankingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.RankingRecord{}, fmt.Errorf("rediscache: decode %s: %w", key, err)
	}
	return rec, nil
}

// UpsertRanking overwrites one record.
func (c *Cache) UpsertRanking(ctx context.Context, rec domain.RankingRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rediscache: encode: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(rec.Key()), raw, c.retain).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Close closes the client.
func (c *Cache) Close() error { return c.rdb.Close() }

var _ store.RankingStore = (*Cache)(nil)
