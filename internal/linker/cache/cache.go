// Package cache stores resolve results in Redis. Keys are derived from the
// snapshot fingerprint, the ambiguity threshold and a hash of the text. The
// fingerprint is a content hash of the index, so entries written by another
// process or replica are only reused when they were computed against the
// same corpus, and a changed corpus makes older entries unreachable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "resolve:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	KeyCount(ctx context.Context, pattern string) (int64, error)
}

// Stats reports cache effectiveness since start.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int64 `json:"entries"`
}

// ResolveCache caches linker results and coalesces concurrent identical
// resolves.
type ResolveCache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a ResolveCache writing entries with the given TTL.
func New(store Store, ttl time.Duration) *ResolveCache {
	return &ResolveCache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("component", "resolve-cache"),
	}
}

// Get returns a cached result. Backend failures count as misses.
func (c *ResolveCache) Get(ctx context.Context, corpus string, maxCandidates int, text string) (*linker.Result, bool) {
	key := BuildKey(corpus, maxCandidates, text)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result linker.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if result.Suggestions == nil {
		result.Suggestions = []linker.Suggestion{}
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

// Set stores result. Failures are logged, not returned.
func (c *ResolveCache) Set(ctx context.Context, corpus string, maxCandidates int, text string, result *linker.Result) {
	key := BuildKey(corpus, maxCandidates, text)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs computeFn once for all
// concurrent callers asking for the same key.
func (c *ResolveCache) GetOrCompute(
	ctx context.Context,
	corpus string,
	maxCandidates int,
	text string,
	computeFn func() (*linker.Result, error),
) (*linker.Result, bool, error) {
	if result, ok := c.Get(ctx, corpus, maxCandidates, text); ok {
		return result, true, nil
	}
	key := BuildKey(corpus, maxCandidates, text)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, corpus, maxCandidates, text, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*linker.Result), false, nil
}

// Invalidate drops every cached result.
func (c *ResolveCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating resolve cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns hit and miss counters and the number of stored entries.
// Entries is -1 when the backend cannot be scanned.
func (c *ResolveCache) Stats(ctx context.Context) Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	n, err := c.store.KeyCount(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("cache key count failed", "error", err)
		n = -1
	}
	s.Entries = n
	return s
}

// BuildKey derives the cache key for one resolve request against the
// snapshot whose fingerprint is corpus.
func BuildKey(corpus string, maxCandidates int, text string) string {
	h := sha256.New()
	h.Write([]byte(corpus))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(maxCandidates)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:20])
}
