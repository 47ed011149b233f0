package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/recallio/recall"
)

// Semantic cache defaults. The 0.9 threshold is fixed by contract; the
// per-user query list holds the last 100 entries in append order.
const (
	DefaultSimilarityThreshold = 0.9
	DefaultMaxCachedQueries    = 100
)

// cachedQuery is one remembered query vector used for approximate lookups.
type cachedQuery struct {
	Query    string    `json:"query"`
	Hash     string    `json:"hash"`
	Vector   []float32 `json:"vector"`
	CachedAt int64     `json:"cached_at"`
}

// SemanticCache raises the cache hit rate beyond exact matching by
// remembering recent query vectors per user and serving the stored result
// of the nearest cached query when cosine similarity clears the threshold.
type SemanticCache struct {
	kv         recall.KV
	threshold  float64
	maxQueries int
	logger     *slog.Logger
}

// SemanticOption configures a SemanticCache.
type SemanticOption func(*SemanticCache)

// WithSimilarityThreshold overrides the approximate-match threshold.
func WithSimilarityThreshold(t float64) SemanticOption {
	return func(c *SemanticCache) { c.threshold = t }
}

// WithMaxCachedQueries overrides the per-user query list bound.
func WithMaxCachedQueries(n int) SemanticOption {
	return func(c *SemanticCache) { c.maxQueries = n }
}

// WithSemanticLogger sets the logger for swallowed cache errors.
func WithSemanticLogger(l *slog.Logger) SemanticOption {
	return func(c *SemanticCache) { c.logger = l }
}

// NewSemanticCache creates a semantic cache over the shared KV connection.
func NewSemanticCache(kv recall.KV, opts ...SemanticOption) *SemanticCache {
	c := &SemanticCache{
		kv:         kv,
		threshold:  DefaultSimilarityThreshold,
		maxQueries: DefaultMaxCachedQueries,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// GetExact returns the stored result for this exact query text, keyed by
// md5(query).
func (c *SemanticCache) GetExact(ctx context.Context, userID, query string) ([]recall.SearchResult, bool) {
	return c.resultByHash(ctx, userID, recall.MD5Hex(query))
}

// GetNearest scans the user's cached query vectors and returns the stored
// result of the highest-similarity entry at or above the threshold.
func (c *SemanticCache) GetNearest(ctx context.Context, userID string, queryVector []float32) ([]recall.SearchResult, bool) {
	raw, ok, err := c.kv.Get(ctx, SemanticQueriesKey(userID))
	if err != nil || !ok {
		return nil, false
	}
	var queries []cachedQuery
	if err := json.Unmarshal([]byte(raw), &queries); err != nil {
		c.logger.Warn("corrupt semantic query list, treating as miss", "error", err)
		return nil, false
	}

	bestScore := 0.0
	bestHash := ""
	for _, q := range queries {
		score := Cosine(queryVector, q.Vector)
		if score >= c.threshold && score > bestScore {
			bestScore = score
			bestHash = q.Hash
		}
	}
	if bestHash == "" {
		return nil, false
	}
	return c.resultByHash(ctx, userID, bestHash)
}

// Set stores the result under the exact query hash and appends the query
// vector to the user's list, trimming to the configured bound. The query
// list lives twice as long as the results it points at, so a dangling
// list entry is at worst a wasted similarity computation.
func (c *SemanticCache) Set(ctx context.Context, userID, query string, queryVector []float32, results []recall.SearchResult, ttl time.Duration) {
	hash := recall.MD5Hex(query)
	raw, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("semantic cache marshal failed", "error", err)
		return
	}
	if err := c.kv.SetEx(ctx, SemanticResultKey(userID, hash), string(raw), ttl); err != nil {
		c.logger.Warn("semantic cache set failed", "error", err)
		return
	}

	var queries []cachedQuery
	if listRaw, ok, err := c.kv.Get(ctx, SemanticQueriesKey(userID)); err == nil && ok {
		if err := json.Unmarshal([]byte(listRaw), &queries); err != nil {
			queries = nil
		}
	}
	queries = append(queries, cachedQuery{
		Query:    query,
		Hash:     hash,
		Vector:   queryVector,
		CachedAt: recall.NowUnix(),
	})
	if len(queries) > c.maxQueries {
		queries = queries[len(queries)-c.maxQueries:]
	}
	listRaw, err := json.Marshal(queries)
	if err != nil {
		c.logger.Warn("semantic query list marshal failed", "error", err)
		return
	}
	if err := c.kv.SetEx(ctx, SemanticQueriesKey(userID), string(listRaw), 2*ttl); err != nil {
		c.logger.Warn("semantic query list set failed", "error", err)
	}
}

func (c *SemanticCache) resultByHash(ctx context.Context, userID, hash string) ([]recall.SearchResult, bool) {
	raw, ok, err := c.kv.Get(ctx, SemanticResultKey(userID, hash))
	if err != nil || !ok {
		return nil, false
	}
	var results []recall.SearchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		c.logger.Warn("corrupt semantic cache entry, treating as miss", "error", err)
		return nil, false
	}
	return results, true
}
