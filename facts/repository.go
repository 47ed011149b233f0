// Package facts coordinates the tri-store fact repository: the vector
// index for similarity, the graph store for relations, and the
// relational metadata store as the system of record.
package facts

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/recallio/recall"
)

// Repository fans fact writes out to the three stores and answers
// reads from whichever store serves them best.
type Repository struct {
	vectors  recall.VectorIndex
	graph    recall.GraphStore
	metadata recall.MetadataStore
	logger   *slog.Logger

	vectorWeight  float64
	keywordWeight float64
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithHybridWeights overrides the vector/keyword blend used by
// SearchSimilar (default 0.7/0.3).
func WithHybridWeights(vector, keyword float64) Option {
	return func(r *Repository) {
		r.vectorWeight, r.keywordWeight = vector, keyword
	}
}

// New creates a Repository over the three stores.
func New(vectors recall.VectorIndex, graph recall.GraphStore, metadata recall.MetadataStore, opts ...Option) *Repository {
	r := &Repository{
		vectors:       vectors,
		graph:         graph,
		metadata:      metadata,
		vectorWeight:  0.7,
		keywordWeight: 0.3,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Create writes the fact to all three stores in parallel. Any store
// failing fails the create; a fact without an embedding skips the
// vector index with a warning and is still created.
func (r *Repository) Create(ctx context.Context, fact recall.Fact) error {
	if fact.UserID == "" {
		return &recall.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if fact.Content == "" || len(fact.Content) > recall.MaxFactContentLen {
		return &recall.ValidationError{Field: "content", Message: "must be 1..2000 characters"}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(fact.Embedding) == 0 {
			r.logger.Warn("fact has no embedding, skipping vector index", "fact_id", fact.ID)
			return nil
		}
		return r.vectors.Insert(gctx, fact)
	})
	g.Go(func() error {
		if err := r.graph.EnsureUser(gctx, fact.UserID); err != nil {
			return err
		}
		return r.graph.UpsertFact(gctx, fact.ID, fact.UserID, fact.Content, fact.Category, fact.Confidence)
	})
	g.Go(func() error {
		return r.metadata.UpsertFact(gctx, fact)
	})
	return g.Wait()
}

// GetByID returns a fact from the metadata store.
func (r *Repository) GetByID(ctx context.Context, factID string) (*recall.Fact, error) {
	fact, err := r.metadata.FactByID(ctx, factID)
	if err != nil {
		return nil, err
	}
	if fact == nil {
		return nil, &recall.NotFoundError{Resource: "fact", ID: factID}
	}
	return fact, nil
}

// GetByUser returns the user's facts, newest first. The limit is
// clamped to [1, 100], defaulting to 20.
func (r *Repository) GetByUser(ctx context.Context, userID string, limit int) ([]recall.Fact, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return r.metadata.FactsByUser(ctx, userID, limit)
}

// Link records a typed relation between two facts in the graph.
func (r *Repository) Link(ctx context.Context, sourceID, targetID, relType string, props map[string]any) error {
	return r.graph.Link(ctx, sourceID, targetID, relType, props)
}

// GetRelatedFacts follows the graph one hop out from a fact and returns
// the related facts enriched from the metadata store.
func (r *Repository) GetRelatedFacts(ctx context.Context, factID string) ([]recall.Fact, error) {
	relations, err := r.graph.RelationsOf(ctx, factID)
	if err != nil {
		return nil, err
	}
	if len(relations) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(relations))
	for _, rel := range relations {
		ids = append(ids, rel.FactID)
	}
	return r.metadata.FactsByIDs(ctx, ids)
}

// Delete removes a fact from all three stores. Failures in one store do
// not stop the others; the joined error reports every store that
// failed.
func (r *Repository) Delete(ctx context.Context, factID string) error {
	return errors.Join(
		r.vectors.DeleteByID(ctx, factID),
		r.graph.DeleteFact(ctx, factID),
		r.metadata.DeleteFact(ctx, factID),
	)
}

// DeleteByUser removes every fact of a user from all three stores.
func (r *Repository) DeleteByUser(ctx context.Context, userID string) error {
	return errors.Join(
		r.vectors.DeleteByUser(ctx, userID),
		r.graph.DeleteUser(ctx, userID),
		r.metadata.DeleteFactsByUser(ctx, userID),
	)
}

// UserIDs returns every user with at least one stored fact.
func (r *Repository) UserIDs(ctx context.Context) ([]string, error) {
	return r.metadata.UserIDs(ctx)
}
