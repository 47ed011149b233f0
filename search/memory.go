package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallio/recall"
	"github.com/recallio/recall/stm"
)

// Branch deadlines for the combined retrieval. A slow branch returns
// empty rather than stalling the conversation.
const (
	DefaultSTMTimeout = 1000 * time.Millisecond
	DefaultLTMTimeout = 1500 * time.Millisecond
)

// STM result scores by tier. Verbatim turns rank above summaries.
const (
	stmTurnScore    = 0.8
	stmTier2Score   = 0.6
	stmTier3Score   = 0.5
	stmRecencyBonus = 0.05
	stmOverlapBoost = 0.1
)

// Memory combines session short-term memory with long-term fact search.
// Both branches run in parallel; a failed or timed-out branch
// contributes nothing instead of failing the whole retrieval.
type Memory struct {
	stm        *stm.Store
	ltm        *Service
	stmTimeout time.Duration
	ltmTimeout time.Duration
	logger     *slog.Logger
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithBranchTimeouts overrides the STM and LTM branch deadlines.
func WithBranchTimeouts(stmTimeout, ltmTimeout time.Duration) MemoryOption {
	return func(m *Memory) {
		m.stmTimeout, m.ltmTimeout = stmTimeout, ltmTimeout
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = l }
}

// NewMemory creates a Memory over the STM store and the search service.
func NewMemory(stmStore *stm.Store, ltm *Service, opts ...MemoryOption) *Memory {
	m := &Memory{
		stm:        stmStore,
		ltm:        ltm,
		stmTimeout: DefaultSTMTimeout,
		ltmTimeout: DefaultLTMTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Search runs the STM and LTM branches in parallel, merges by content,
// and returns at most limit results, best first.
func (m *Memory) Search(ctx context.Context, userID, sessionID, query string, limit int) ([]recall.SearchResult, error) {
	var stmResults, ltmResults []recall.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stmResults = m.searchSTM(gctx, sessionID, query)
		return nil
	})
	g.Go(func() error {
		ltmResults = m.searchLTM(gctx, userID, query, limit)
		return nil
	})
	_ = g.Wait()

	merged := mergeAndRank(stmResults, ltmResults)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// searchSTM matches the query against the session's active window and
// attaches the rolling summaries as low-confidence context.
func (m *Memory) searchSTM(ctx context.Context, sessionID, query string) []recall.SearchResult {
	ctx, cancel := context.WithTimeout(ctx, m.stmTimeout)
	defer cancel()

	snapshot := m.stm.Context(ctx, sessionID)
	if ctx.Err() != nil {
		m.logger.Warn("stm branch timed out", "session_id", sessionID)
		return nil
	}

	var results []recall.SearchResult
	needle := strings.ToLower(query)
	for _, msg := range snapshot.Recent {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			results = append(results, recall.SearchResult{
				ID:      "stm_" + recall.MD5Hex(msg.Content)[:8],
				Score:   stmTurnScore,
				Content: msg.Content,
				Metadata: map[string]any{
					"source": "stm",
					"role":   msg.Role,
				},
			})
		}
	}
	for _, tier := range []struct {
		summary string
		tag     string
		score   float64
	}{
		{snapshot.RecentSummary, "stm_tier2", stmTier2Score},
		{snapshot.HistorySummary, "stm_tier3", stmTier3Score},
	} {
		if tier.summary == "" {
			continue
		}
		results = append(results, recall.SearchResult{
			ID:       tier.tag + "_" + recall.MD5Hex(tier.summary)[:8],
			Score:    tier.score,
			Content:  tier.summary,
			Metadata: map[string]any{"source": "stm_summary"},
		})
	}
	return results
}

func (m *Memory) searchLTM(ctx context.Context, userID, query string, limit int) []recall.SearchResult {
	ctx, cancel := context.WithTimeout(ctx, m.ltmTimeout)
	defer cancel()

	results, err := m.ltm.Search(ctx, recall.SearchQuery{
		UserID: userID,
		Query:  query,
		Limit:  limit,
	})
	if err != nil {
		m.logger.Warn("ltm branch failed", "user_id", userID, "error", err)
		return nil
	}
	return results
}

// mergeAndRank deduplicates by lowercased content. A fact seen by both
// branches keeps its LTM identity with a confirmation boost; STM-only
// results get a small recency bonus.
func mergeAndRank(stmResults, ltmResults []recall.SearchResult) []recall.SearchResult {
	merged := map[string]recall.SearchResult{}
	order := []string{}

	key := func(r recall.SearchResult) string {
		return recall.ContentHash(r.Content)
	}

	for _, r := range ltmResults {
		k := key(r)
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		merged[k] = r
	}
	for _, r := range stmResults {
		k := key(r)
		if existing, ok := merged[k]; ok {
			score := existing.Score
			if r.Score > score {
				score = r.Score
			}
			existing.Score = capScore(score + stmOverlapBoost)
			meta := map[string]any{"stm_overlap": true}
			for mk, mv := range existing.Metadata {
				meta[mk] = mv
			}
			existing.Metadata = meta
			merged[k] = existing
		} else {
			r.Score = capScore(r.Score + stmRecencyBonus)
			merged[k] = r
			order = append(order, k)
		}
	}

	out := make([]recall.SearchResult, 0, len(merged))
	for _, k := range order {
		out = append(out, merged[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func capScore(s float64) float64 {
	if s > 1.0 {
		return 1.0
	}
	return s
}
