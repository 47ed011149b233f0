// Package proactive pre-computes per-user favourite summaries on a
// schedule: it searches each user's facts for favourites, buckets them
// by topic, materialises the result in the L2 summary store, and warms
// the L1 cache so favourite-class queries hit without touching the
// repository.
package proactive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/recallio/recall"
	"github.com/recallio/recall/cache"
	"github.com/recallio/recall/search"
)

// Refresh defaults.
const (
	DefaultFavoriteQuery  = "what are the user's favorite things, likes and loves"
	DefaultInterval       = 30 * time.Minute
	DefaultSearchLimit    = 50
	DefaultScoreThreshold = 0.3
	DefaultWarmTTL        = time.Hour
)

// bucketKeywords routes a fact into the first bucket whose keyword list
// matches its content.
var bucketKeywords = []struct {
	bucket   string
	keywords []string
}{
	{"movies", []string{"movie", "film", "cinema"}},
	{"characters", []string{"character", "hero", "superhero"}},
	{"pets", []string{"pet", "dog", "cat", "animal"}},
	{"activities", []string{"activity", "hobby", "sport", "game"}},
	{"friends", []string{"friend", "buddy", "pal"}},
	{"music", []string{"music", "song", "artist", "band"}},
	{"travel", []string{"travel", "trip", "vacation", "visit"}},
	{"toys", []string{"toy", "plaything", "game"}},
}

// Categorize buckets search results by topic keywords. Results matching
// no bucket are dropped; empty buckets are omitted.
func Categorize(results []recall.SearchResult) map[string][]string {
	buckets := map[string][]string{}
	for _, r := range results {
		content := strings.ToLower(r.Content)
		for _, b := range bucketKeywords {
			matched := false
			for _, kw := range b.keywords {
				if strings.Contains(content, kw) {
					matched = true
					break
				}
			}
			if matched {
				buckets[b.bucket] = append(buckets[b.bucket], r.Content)
				break
			}
		}
	}
	return buckets
}

// Cacher refreshes one user's materialised favourite view.
type Cacher struct {
	embedder  recall.Embedder
	retriever search.Retriever
	summaries recall.SummaryStore
	metadata  recall.MetadataStore
	kv        recall.KV
	query     string
	limit     int
	threshold float64
	warmTTL   time.Duration
	logger    *slog.Logger
}

// Option configures a Cacher.
type Option func(*Cacher)

// WithFavoriteQuery overrides the query used to collect favourites.
func WithFavoriteQuery(q string) Option {
	return func(c *Cacher) { c.query = q }
}

// WithSearchLimit overrides how many facts one refresh considers.
func WithSearchLimit(n int) Option {
	return func(c *Cacher) { c.limit = n }
}

// WithScoreThreshold overrides the minimum similarity for inclusion.
func WithScoreThreshold(t float64) Option {
	return func(c *Cacher) { c.threshold = t }
}

// WithWarmTTL overrides the lifetime of the warmed L1 entries.
func WithWarmTTL(ttl time.Duration) Option {
	return func(c *Cacher) { c.warmTTL = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cacher) { c.logger = l }
}

// New creates a Cacher over its collaborators.
func New(embedder recall.Embedder, retriever search.Retriever, summaries recall.SummaryStore, metadata recall.MetadataStore, kv recall.KV, opts ...Option) *Cacher {
	c := &Cacher{
		embedder:  embedder,
		retriever: retriever,
		summaries: summaries,
		metadata:  metadata,
		kv:        kv,
		query:     DefaultFavoriteQuery,
		limit:     DefaultSearchLimit,
		threshold: DefaultScoreThreshold,
		warmTTL:   DefaultWarmTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Update recomputes one user's favourite summary, materialises it, and
// warms the L1 cache under a fresh version tag.
func (c *Cacher) Update(ctx context.Context, userID string) (*recall.FavoriteSummary, error) {
	vector, err := recall.Retry(ctx, func() ([]float32, error) {
		return c.embedder.Embed(ctx, c.query)
	}, recall.RetryLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("proactive: embed favorite query: %w", err)
	}

	results, err := c.retriever.SearchSimilar(ctx, userID, c.query, vector, c.limit, c.threshold)
	if err != nil {
		return nil, fmt.Errorf("proactive: search favorites: %w", err)
	}

	summary := recall.FavoriteSummary{
		UserID:      userID,
		Buckets:     Categorize(results),
		LastUpdated: recall.NowUnix(),
	}
	if err := c.summaries.UpsertFavoriteSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("proactive: materialize summary: %w", err)
	}

	c.warm(ctx, &summary)
	c.logger.Info("favorite cache refreshed",
		"user_id", userID, "buckets", len(summary.Buckets), "facts", len(results))
	return &summary, nil
}

// warm pushes the fresh summary into L1: the favourite key, and the
// search key the favourite query itself would produce under a newly
// bumped version tag. Best-effort.
func (c *Cacher) warm(ctx context.Context, summary *recall.FavoriteSummary) {
	if raw, err := json.Marshal(summary); err == nil {
		_ = c.kv.SetEx(ctx, cache.FavoriteKey(summary.UserID), string(raw), c.warmTTL)
	}

	version, err := c.kv.BumpUserVersion(ctx, summary.UserID)
	if err != nil {
		c.logger.Warn("version bump failed during warm", "user_id", summary.UserID, "error", err)
		return
	}
	results := search.SummaryResults(summary)
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	_ = c.kv.SetEx(ctx, cache.SearchKey(summary.UserID, c.query, version), string(raw), c.warmTTL)
}

// UpdateAll refreshes every known user. One failing user does not stop
// the sweep.
func (c *Cacher) UpdateAll(ctx context.Context) error {
	userIDs, err := c.metadata.UserIDs(ctx)
	if err != nil {
		return fmt.Errorf("proactive: list users: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := c.Update(ctx, userID); err != nil {
			c.logger.Warn("favorite refresh failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// Runner periodically refreshes every user's favourite cache.
type Runner struct {
	cacher   *Cacher
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner with the given refresh interval
// (non-positive falls back to the default).
func NewRunner(cacher *Cacher, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{cacher: cacher, interval: interval, logger: cacher.logger}
}

// Run refreshes immediately, then on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.cacher.UpdateAll(ctx); err != nil {
		r.logger.Warn("proactive sweep failed", "error", err)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.cacher.UpdateAll(ctx); err != nil {
				r.logger.Warn("proactive sweep failed", "error", err)
			}
		}
	}
}
