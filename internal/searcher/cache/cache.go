// Package cache memoizes ranked results in Redis. Keys cover the content
// fingerprint of the index, the result limit and the exact token sequence of
// the query. A rebuilt index never serves stale rankings, even after a
// restart or from another replica sharing the same Redis, and no explicit
// invalidation is needed on reindex.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "docsearch:q:"

// Backend is the key/value store behind the cache. *pkgredis.Client
// satisfies it; Get must return an error matching pkgredis.ErrNil on a miss.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats reports cache activity since start.
type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	Errors       int64  `json:"errors"`
	Bypassed     int64  `json:"bypassed"`
	BreakerState string `json:"breaker_state"`
}

// QueryCache is a read-through cache of ranked results.
type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
	bypassed atomic.Int64
}

// New creates a QueryCache over backend. m may be nil.
func New(backend Backend, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     cfg.CacheTTL,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        func(err error) bool { return !pkgredis.IsNilError(err) },
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Key derives the cache key for a query against the index with the given
// content fingerprint.
func Key(fingerprint string, limit int, tokens []string) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(fingerprint)))
	h.Write(buf[:])
	h.Write([]byte(fingerprint))
	binary.BigEndian.PutUint64(buf[:], uint64(int64(limit)))
	h.Write(buf[:])
	for _, token := range tokens {
		binary.BigEndian.PutUint64(buf[:], uint64(len(token)))
		h.Write(buf[:])
		h.Write([]byte(token))
	}
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil))
}

// GetOrCompute returns the cached results for the key, or runs compute and
// stores its results. Concurrent misses for the same key share one compute
// call. Cache failures never fail the query: compute still runs. The bool
// reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	limit int,
	tokens []string,
	compute func() ([]ranker.ScoredDoc, error),
) ([]ranker.ScoredDoc, bool, error) {
	key := Key(fingerprint, limit, tokens)
	if results, ok := c.get(ctx, key); ok {
		return results, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]ranker.ScoredDoc), false, nil
}

func (c *QueryCache) get(ctx context.Context, key string) ([]ranker.ScoredDoc, bool) {
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		return err
	})
	switch {
	case err == nil:
	case pkgredis.IsNilError(err):
		c.miss()
		return nil, false
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.bypassed.Add(1)
		c.miss()
		return nil, false
	default:
		c.failures.Add(1)
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}

	var results []ranker.ScoredDoc
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.failures.Add(1)
		c.logger.Warn("cache entry unreadable", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return results, true
}

func (c *QueryCache) set(ctx context.Context, key string, results []ranker.ScoredDoc) {
	data, err := json.Marshal(results)
	if err != nil {
		// NaN scores cannot be encoded; such results are simply not cached.
		c.logger.Debug("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, string(data), c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.failures.Add(1)
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Invalidate deletes every cached query and returns how many keys were
// removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns counters since start.
func (c *QueryCache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Errors:       c.failures.Load(),
		Bypassed:     c.bypassed.Load(),
		BreakerState: c.breaker.State().String(),
	}
}
