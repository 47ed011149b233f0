package facts

import (
	"context"
	"sort"

	"github.com/recallio/recall"
)

// candidate accumulates both branch scores for one fact during merging.
type candidate struct {
	factID       string
	content      string
	category     string
	confidence   float64
	createdAt    int64
	vectorScore  float64
	keywordScore float64
}

// SearchSimilar runs hybrid retrieval: a vector similarity query blended
// with a relational keyword match on the same query text. When the
// keyword branch fails the vector results stand alone. The score
// threshold applies twice, to the raw vector scores and again to the
// blended scores. Results come back best first, at most topK, with the
// blended score repeated under the transient metadata key.
func (r *Repository) SearchSimilar(ctx context.Context, userID, query string, vector []float32, topK int, scoreThreshold float64) ([]recall.SearchResult, error) {
	// Over-fetch the vector side so the blend still has topK candidates
	// after merging.
	hits, err := r.vectors.Search(ctx, userID, vector, 2*topK, scoreThreshold)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*candidate, len(hits))
	for _, h := range hits {
		merged[h.FactID] = &candidate{
			factID:      h.FactID,
			content:     h.Content,
			category:    h.Category,
			confidence:  h.Confidence,
			createdAt:   h.CreatedAt,
			vectorScore: h.Score,
		}
	}

	if query != "" {
		kw, err := r.metadata.KeywordSearch(ctx, userID, query, topK)
		if err != nil {
			r.logger.Warn("keyword search failed, using vector results alone", "user_id", userID, "error", err)
		} else {
			for _, h := range kw {
				c, ok := merged[h.FactID]
				if !ok {
					c = &candidate{
						factID:     h.FactID,
						content:    h.Content,
						category:   h.Category,
						confidence: h.Confidence,
						createdAt:  h.CreatedAt,
					}
					merged[h.FactID] = c
				}
				c.keywordScore = h.Score
			}
		}
	}

	results := make([]recall.SearchResult, 0, len(merged))
	for _, c := range merged {
		score := r.vectorWeight*c.vectorScore + r.keywordWeight*c.keywordScore
		if score < scoreThreshold {
			continue
		}
		results = append(results, recall.SearchResult{
			ID:      c.factID,
			Score:   score,
			Content: c.content,
			Metadata: map[string]any{
				"category":                 c.category,
				"confidence":               c.confidence,
				"created_at":               c.createdAt,
				recall.MetaSimilarityScore: score,
			},
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
