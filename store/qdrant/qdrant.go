// Package qdrant implements recall.VectorIndex on a Qdrant collection.
//
// Embeddings are L2-normalised at insert time and the collection uses
// dot-product distance, so similarity scores come back in [0,1] and are
// directly comparable to the relevance thresholds used on the search
// path.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	qd "github.com/qdrant/go-client/qdrant"

	"github.com/recallio/recall"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "memory_facts"

// Index implements recall.VectorIndex backed by Qdrant.
type Index struct {
	client     *qd.Client
	collection string
	dimensions uint64
	logger     *slog.Logger
}

var _ recall.VectorIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(i *Index) { i.collection = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// New creates an Index using an existing Qdrant client. The caller owns
// the client. dimensions must match the embedder's output.
func New(client *qd.Client, dimensions int, opts ...Option) *Index {
	idx := &Index{
		client:     client,
		collection: DefaultCollection,
		dimensions: uint64(dimensions),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.New(slog.DiscardHandler)
	}
	return idx
}

// Init creates the collection if it does not exist yet.
func (i *Index) Init(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("qdrant: collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = i.client.CreateCollection(ctx, &qd.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
			Size:     i.dimensions,
			Distance: qd.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Insert stores the fact's embedding with its searchable payload. The
// vector is normalised to unit length first.
func (i *Index) Insert(ctx context.Context, fact recall.Fact) error {
	if len(fact.Embedding) == 0 {
		return &recall.ValidationError{Field: "embedding", Message: "must not be empty"}
	}
	vec := normalize(fact.Embedding)
	_, err := i.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: i.collection,
		Wait:           qd.PtrOf(true),
		Points: []*qd.PointStruct{{
			Id:      qd.NewID(fact.ID),
			Vectors: qd.NewVectors(vec...),
			Payload: qd.NewValueMap(map[string]any{
				"user_id":    fact.UserID,
				"content":    fact.Content,
				"category":   fact.Category,
				"confidence": fact.Confidence,
				"created_at": fact.CreatedAt,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

// Search returns the user's topK nearest facts with score at or above
// scoreThreshold, best first.
func (i *Index) Search(ctx context.Context, userID string, vector []float32, topK int, scoreThreshold float64) ([]recall.VectorHit, error) {
	query := &qd.QueryPoints{
		CollectionName: i.collection,
		Query:          qd.NewQuery(normalize(vector)...),
		Limit:          qd.PtrOf(uint64(topK)),
		Filter: &qd.Filter{
			Must: []*qd.Condition{qd.NewMatch("user_id", userID)},
		},
		WithPayload: qd.NewWithPayload(true),
	}
	if scoreThreshold > 0 {
		query.ScoreThreshold = qd.PtrOf(float32(scoreThreshold))
	}
	points, err := i.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	hits := make([]recall.VectorHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, recall.VectorHit{
			FactID:     p.Id.GetUuid(),
			UserID:     p.Payload["user_id"].GetStringValue(),
			Content:    p.Payload["content"].GetStringValue(),
			Category:   p.Payload["category"].GetStringValue(),
			Confidence: p.Payload["confidence"].GetDoubleValue(),
			CreatedAt:  p.Payload["created_at"].GetIntegerValue(),
			Score:      float64(p.Score),
		})
	}
	return hits, nil
}

// DeleteByID removes a single point.
func (i *Index) DeleteByID(ctx context.Context, factID string) error {
	_, err := i.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: i.collection,
		Wait:           qd.PtrOf(true),
		Points:         qd.NewPointsSelector(qd.NewID(factID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete point: %w", err)
	}
	return nil
}

// DeleteByUser removes every point belonging to a user.
func (i *Index) DeleteByUser(ctx context.Context, userID string) error {
	_, err := i.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: i.collection,
		Wait:           qd.PtrOf(true),
		Points: qd.NewPointsSelectorFilter(&qd.Filter{
			Must: []*qd.Condition{qd.NewMatch("user_id", userID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by user: %w", err)
	}
	return nil
}

// normalize returns v scaled to unit length. Zero vectors pass through
// unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
