package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recallio/recall"
)

// UpsertFact inserts or replaces the metadata row for a fact.
func (s *Store) UpsertFact(ctx context.Context, fact recall.Fact) error {
	meta, err := json.Marshal(fact.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO facts_metadata (fact_id, user_id, content, category, confidence, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (fact_id) DO UPDATE SET
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			confidence = EXCLUDED.confidence,
			meta_data = EXCLUDED.meta_data`,
		fact.ID, fact.UserID, fact.Content, fact.Category, fact.Confidence, fact.CreatedAt, string(meta))
	if err != nil {
		return fmt.Errorf("postgres: upsert fact: %w", err)
	}
	return nil
}

// FactByID returns the fact with the given ID, or nil when absent.
func (s *Store) FactByID(ctx context.Context, factID string) (*recall.Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fact_id, user_id, content, category, confidence, created_at, meta_data::text
		FROM facts_metadata WHERE fact_id = $1`, factID)
	if err != nil {
		return nil, fmt.Errorf("postgres: fact by id: %w", err)
	}
	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}
	return &facts[0], nil
}

// FactsByUser returns the user's facts, newest first. A non-positive
// limit returns everything.
func (s *Store) FactsByUser(ctx context.Context, userID string, limit int) ([]recall.Fact, error) {
	q := `
		SELECT fact_id, user_id, content, category, confidence, created_at, meta_data::text
		FROM facts_metadata WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: facts by user: %w", err)
	}
	return scanFacts(rows)
}

// FactsByIDs returns the facts whose IDs are in factIDs. Missing IDs are
// silently skipped.
func (s *Store) FactsByIDs(ctx context.Context, factIDs []string) ([]recall.Fact, error) {
	if len(factIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT fact_id, user_id, content, category, confidence, created_at, meta_data::text
		FROM facts_metadata WHERE fact_id = ANY($1)`, factIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: facts by ids: %w", err)
	}
	return scanFacts(rows)
}

// KeywordSearch matches facts whose content contains any whitespace
// token of query, case-insensitively. Full-content matches score 1.0,
// token matches 0.5.
func (s *Store) KeywordSearch(ctx context.Context, userID, query string, limit int) ([]recall.KeywordHit, error) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	patterns := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		patterns = append(patterns, "%"+tok+"%")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT fact_id, content, category, confidence, created_at,
			CASE WHEN content ILIKE $2 THEN 1.0 ELSE 0.5 END AS score
		FROM facts_metadata
		WHERE user_id = $1 AND content ILIKE ANY($3::text[])
		ORDER BY score DESC, created_at DESC
		LIMIT $4`,
		userID, "%"+query+"%", patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer rows.Close()

	var hits []recall.KeywordHit
	for rows.Next() {
		var h recall.KeywordHit
		if err := rows.Scan(&h.FactID, &h.Content, &h.Category, &h.Confidence, &h.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteFact removes a fact's metadata row. Deleting an absent fact is
// not an error.
func (s *Store) DeleteFact(ctx context.Context, factID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM facts_metadata WHERE fact_id = $1`, factID); err != nil {
		return fmt.Errorf("postgres: delete fact: %w", err)
	}
	return nil
}

// DeleteFactsByUser removes every metadata row of a user.
func (s *Store) DeleteFactsByUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM facts_metadata WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: delete facts by user: %w", err)
	}
	return nil
}

// UserIDs returns every distinct user with at least one stored fact.
func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM facts_metadata ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type factRows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

func scanFacts(rows factRows) ([]recall.Fact, error) {
	defer rows.Close()

	var facts []recall.Fact
	for rows.Next() {
		var f recall.Fact
		var meta string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.Category, &f.Confidence, &f.CreatedAt, &meta); err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &f.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal metadata: %w", err)
			}
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
