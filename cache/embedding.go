package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/recallio/recall"
)

// DefaultEmbeddingTTL is how long memoized embeddings live in L1.
const DefaultEmbeddingTTL = 24 * time.Hour

// EmbeddingCache is the L3 tier: query-text to embedding memoization on
// top of the shared KV connection. Misses and transport failures are
// indistinguishable to callers.
type EmbeddingCache struct {
	kv     recall.KV
	ttl    time.Duration
	logger *slog.Logger
}

// EmbeddingOption configures an EmbeddingCache.
type EmbeddingOption func(*EmbeddingCache)

// WithEmbeddingTTL overrides the default 24h entry lifetime.
func WithEmbeddingTTL(ttl time.Duration) EmbeddingOption {
	return func(c *EmbeddingCache) { c.ttl = ttl }
}

// WithEmbeddingLogger sets the logger for swallowed cache errors.
func WithEmbeddingLogger(l *slog.Logger) EmbeddingOption {
	return func(c *EmbeddingCache) { c.logger = l }
}

// NewEmbeddingCache creates an L3 cache over the shared KV connection.
func NewEmbeddingCache(kv recall.KV, opts ...EmbeddingOption) *EmbeddingCache {
	c := &EmbeddingCache{kv: kv, ttl: DefaultEmbeddingTTL}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Get returns the memoized embedding for text, or a miss.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	raw, ok, err := c.kv.Get(ctx, EmbeddingKey(text))
	if err != nil || !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.Warn("corrupt L3 entry, treating as miss", "error", err)
		return nil, false
	}
	return vec, true
}

// Put memoizes the embedding for text. Best-effort: failures are logged
// and swallowed.
func (c *EmbeddingCache) Put(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		c.logger.Warn("L3 marshal failed", "error", err)
		return
	}
	if err := c.kv.SetEx(ctx, EmbeddingKey(text), string(raw), c.ttl); err != nil {
		c.logger.Warn("L3 set failed", "error", err)
	}
}
