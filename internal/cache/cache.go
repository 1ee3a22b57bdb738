// Package cache provides the Redis-backed result cache, keyed by query
// fingerprint. A cache entry is never authoritative over fresher index
// state: entries expire by TTL and the engine flushes the cache after
// every mutation, so misses cost latency, never correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/quarrysearch/quarry/internal/query"
	"github.com/quarrysearch/quarry/pkg/config"
	pkgredis "github.com/quarrysearch/quarry/pkg/redis"
)

const keyPrefix = "quarry:search:"

// ResultCache is the cache collaborator contract consumed by the engine.
type ResultCache interface {
	// GetOrCompute returns the cached page for the fingerprint, or runs
	// computeFn once (concurrent callers with the same fingerprint share
	// the result) and caches what it returns. The bool reports a hit.
	GetOrCompute(ctx context.Context, fingerprint string, computeFn func() (*query.Page, error)) (*query.Page, bool, error)
	// Invalidate drops every cached page.
	Invalidate(ctx context.Context) error
	// Stats returns cumulative hit and miss counts.
	Stats() (hits, misses int64)
}

// RedisCache implements ResultCache over a Redis connection.
type RedisCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a RedisCache using cfg.CacheTTL as entry lifetime.
func New(client *pkgredis.Client, cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "result-cache"),
	}
}

// GetOrCompute implements ResultCache. Redis failures degrade to a miss.
func (c *RedisCache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	computeFn func() (*query.Page, error),
) (*query.Page, bool, error) {
	if page, ok := c.get(ctx, fingerprint); ok {
		return page, true, nil
	}
	val, err, _ := c.group.Do(fingerprint, func() (any, error) {
		if page, ok := c.get(ctx, fingerprint); ok {
			return page, nil
		}
		page, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, fingerprint, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*query.Page), false, nil
}

func (c *RedisCache) get(ctx context.Context, fingerprint string) (*query.Page, bool) {
	data, err := c.client.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "fingerprint", fingerprint, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var page query.Page
	if err := json.Unmarshal([]byte(data), &page); err != nil {
		c.logger.Error("cache unmarshal failed", "fingerprint", fingerprint, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &page, true
}

func (c *RedisCache) set(ctx context.Context, fingerprint string, page *query.Page) {
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+fingerprint, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "fingerprint", fingerprint, "error", err)
	}
}

// Invalidate drops all cached result pages.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating result cache: %w", err)
	}
	c.logger.Info("result cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns cumulative hit and miss counts.
func (c *RedisCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
