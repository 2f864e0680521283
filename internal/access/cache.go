package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/rsq/internal/signature"
)

// Cache memoizes read results keyed by query signature.
//
// Entries never expire and the cache is unbounded; callers only cache pure
// reads and call Invalidate or Clear after writes that affect them. Errors
// are never cached. Concurrent misses on the same key share one computation.
//
// Thread-safety: Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	group   singleflight.Group
	obs     Observer
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheObserver reports hits and misses to obs.
func WithCacheObserver(obs Observer) CacheOption {
	return func(c *Cache) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// NewCache creates an empty Cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]any),
		obs:     NopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the value cached for sig, or runs compute, stores its
// result and returns it. A signature without a canonical encoding bypasses
// the cache and compute runs every time.
//
// compute runs without ctx's cancellation and deadline because concurrent
// misses on the same key share it; a caller whose ctx ends returns
// ctx.Err() while the computation finishes for the others.
func (c *Cache) GetOrCompute(ctx context.Context, sig signature.Signature, compute func(ctx context.Context) (any, error)) (any, error) {
	key, err := sig.Key()
	if err != nil {
		slog.DebugContext(ctx, "query not cacheable", "error", err)
		return compute(ctx)
	}

	if v, ok := c.lookup(key); ok {
		c.obs.CacheHit()
		return v, nil
	}
	c.obs.CacheMiss()

	// The shared computation serves every waiter, so it must not inherit
	// one caller's cancellation. Each caller still stops waiting when its
	// own ctx is done.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have populated the key between lookup and Do.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = v
		c.mu.Unlock()
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached value for sig, if any.
func (c *Cache) Get(sig signature.Signature) (any, bool) {
	key, err := sig.Key()
	if err != nil {
		return nil, false
	}
	return c.lookup(key)
}

// Invalidate removes the entry for sig.
func (c *Cache) Invalidate(sig signature.Signature) {
	key, err := sig.Key()
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]any)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Cached wraps op so its result is memoized in cache under sig.
// A cached value of a different type than T is reported as an error.
func Cached[T any](cache *Cache, sig signature.Signature, op Op[T]) Op[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		v, err := cache.GetOrCompute(ctx, sig, func(ctx context.Context) (any, error) {
			return op(ctx)
		})
		if err != nil {
			return zero, err
		}
		if v == nil {
			return zero, nil
		}
		typed, ok := v.(T)
		if !ok {
			return zero, fmt.Errorf("cached value for %q has type %T", sig.Query, v)
		}
		return typed, nil
	}
}
