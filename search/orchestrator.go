// Package search implements the read path: the five-tier cache
// hierarchy in front of the fact repository, and the combined
// short-term/long-term memory retrieval used by conversational callers.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/recallio/recall"
	"github.com/recallio/recall/cache"
)

// DefaultResultTTL is how long a search result stays in the L1 cache.
const DefaultResultTTL = time.Hour

// favoriteKeywords mark a query as answerable from the materialised
// favourite view.
var favoriteKeywords = []string{"favorite", "like", "prefer", "love"}

// IsFavoriteQuery reports whether the query asks about user favourites
// and may be served from L2.
func IsFavoriteQuery(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range favoriteKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// Retriever is the L4 ground truth behind the cache hierarchy.
type Retriever interface {
	SearchSimilar(ctx context.Context, userID, query string, vector []float32, topK int, scoreThreshold float64) ([]recall.SearchResult, error)
}

// Service walks the tiers in order on every search: request cache,
// Redis, the materialised favourite view, the semantic cache, then the
// tri-store repository. Whatever tier answers, every tier above it is
// repopulated on the way out.
type Service struct {
	kv         recall.KV
	embeddings *cache.EmbeddingCache
	semantic   *cache.SemanticCache
	embedder   recall.Embedder
	summaries  recall.SummaryStore
	retriever  Retriever
	resultTTL  time.Duration
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResultTTL overrides the L1 lifetime of cached search results.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.resultTTL = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a search Service over the cache tiers and the repository.
func New(kv recall.KV, embedder recall.Embedder, summaries recall.SummaryStore, retriever Retriever, opts ...Option) *Service {
	s := &Service{
		kv:         kv,
		embeddings: cache.NewEmbeddingCache(kv),
		semantic:   cache.NewSemanticCache(kv),
		embedder:   embedder,
		summaries:  summaries,
		retriever:  retriever,
		resultTTL:  DefaultResultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Search answers the query from the shallowest tier that can. Only a
// repository failure surfaces as an error; cache tier failures degrade
// to the next tier down.
func (s *Service) Search(ctx context.Context, q recall.SearchQuery) ([]recall.SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	version, _ := s.kv.UserVersion(ctx, q.UserID)
	key := cache.SearchKey(q.UserID, q.Query, version)
	l0 := cache.FromContext(ctx)

	// L0: request-scoped.
	if v, ok := l0.Get(key); ok {
		if results, ok := v.([]recall.SearchResult); ok {
			s.logger.Debug("search hit", "tier", "l0", "user_id", q.UserID)
			return capResults(results, q.Limit), nil
		}
	}

	// L1: Redis.
	if raw, ok, _ := s.kv.Get(ctx, key); ok {
		var results []recall.SearchResult
		if err := json.Unmarshal([]byte(raw), &results); err == nil {
			s.logger.Debug("search hit", "tier", "l1", "user_id", q.UserID)
			l0.Set(key, results)
			return capResults(results, q.Limit), nil
		}
		s.logger.Warn("cached search result corrupt, falling through", "key", key)
	}

	// L2: materialised favourite view, favourite-class queries only.
	if IsFavoriteQuery(q.Query) {
		if summary := s.favoriteSummary(ctx, q.UserID); summary != nil {
			s.logger.Debug("search hit", "tier", "l2", "user_id", q.UserID)
			results := SummaryResults(summary)
			s.store(ctx, l0, key, results)
			return capResults(results, q.Limit), nil
		}
	}

	// Semantic: exact query text first, vector proximity after we have
	// an embedding.
	if results, ok := s.semantic.GetExact(ctx, q.UserID, q.Query); ok {
		s.logger.Debug("search hit", "tier", "semantic_exact", "user_id", q.UserID)
		s.store(ctx, l0, key, results)
		return capResults(results, q.Limit), nil
	}

	vector, err := s.embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}

	if results, ok := s.semantic.GetNearest(ctx, q.UserID, vector); ok {
		s.logger.Debug("search hit", "tier", "semantic_nearest", "user_id", q.UserID)
		s.store(ctx, l0, key, results)
		return capResults(results, q.Limit), nil
	}

	// L4: ground truth.
	results, err := s.retriever.SearchSimilar(ctx, q.UserID, q.Query, vector, q.Limit, q.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("search served from repository", "user_id", q.UserID, "results", len(results))

	s.store(ctx, l0, key, results)
	s.semantic.Set(ctx, q.UserID, q.Query, vector, results, s.resultTTL)
	return capResults(results, q.Limit), nil
}

// capResults enforces the response contract on whatever a tier produced:
// best first, at most limit entries. Cached entries keep their full size;
// only the returned view is cut.
func capResults(results []recall.SearchResult, limit int) []recall.SearchResult {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// favoriteSummary resolves the materialised favourite view, preferring
// the warmed L1 copy over the relational row behind it.
func (s *Service) favoriteSummary(ctx context.Context, userID string) *recall.FavoriteSummary {
	if raw, ok, _ := s.kv.Get(ctx, cache.FavoriteKey(userID)); ok {
		var summary recall.FavoriteSummary
		if err := json.Unmarshal([]byte(raw), &summary); err == nil {
			return &summary
		}
		s.logger.Warn("warmed favourite summary corrupt, falling through", "user_id", userID)
	}
	summary, _ := s.summaries.FavoriteSummary(ctx, userID)
	return summary
}

// embed resolves the query embedding through the L3 cache, retrying the
// provider on transient failures.
func (s *Service) embed(ctx context.Context, query string) ([]float32, error) {
	if vec, ok := s.embeddings.Get(ctx, query); ok {
		return vec, nil
	}
	vec, err := recall.Retry(ctx, func() ([]float32, error) {
		return s.embedder.Embed(ctx, query)
	}, recall.RetryLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.embeddings.Put(ctx, query, vec)
	return vec, nil
}

// store writes results into L1 and L0.
func (s *Service) store(ctx context.Context, l0 *cache.RequestCache, key string, results []recall.SearchResult) {
	if b, err := json.Marshal(results); err == nil {
		_ = s.kv.SetEx(ctx, key, string(b), s.resultTTL)
	}
	l0.Set(key, results)
}

// SummaryResults projects a favourite summary into search results, one
// per remembered item, each with a full-confidence score.
func SummaryResults(summary *recall.FavoriteSummary) []recall.SearchResult {
	var results []recall.SearchResult
	for category, items := range summary.Buckets {
		for _, item := range items {
			results = append(results, recall.SearchResult{
				ID:      "l2_" + category + "_" + recall.MD5Hex(item)[:8],
				Score:   1.0,
				Content: item,
				Metadata: map[string]any{
					"category": category,
					"source":   "l2_cache",
				},
			})
		}
	}
	return results
}
