package cache

import (
	"context"
	"sync"
)

// RequestCache is the L0 tier: a per-request map discarded when the
// request completes. Never shared across requests, never persisted.
// Safe for the concurrent branches of a single request.
type RequestCache struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewRequestCache creates an empty request cache.
func NewRequestCache() *RequestCache {
	return &RequestCache{m: make(map[string]any)}
}

// Get returns the cached value for key. Nil-safe: a nil receiver always
// misses, so callers need not check whether a request cache was attached.
func (c *RequestCache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

// Set stores value under key, overwriting any previous value.
// Nil-safe no-op on a nil receiver.
func (c *RequestCache) Set(key string, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

type requestCacheKey struct{}

// WithRequest attaches a fresh RequestCache to ctx. Call once at the
// request boundary.
func WithRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestCacheKey{}, NewRequestCache())
}

// FromContext returns the request cache attached to ctx, or nil when the
// caller did not attach one (every RequestCache method tolerates nil).
func FromContext(ctx context.Context) *RequestCache {
	c, _ := ctx.Value(requestCacheKey{}).(*RequestCache)
	return c
}
