// Package postgres implements the relational tier: the fact metadata
// store (system of record for fact existence), the job store with its
// monotonic status machine, and the L2 materialised favourite-summary
// table.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recallio/recall"
)

// Store implements recall.MetadataStore, recall.JobStore and
// recall.SummaryStore backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ recall.MetadataStore = (*Store)(nil)
	_ recall.JobStore      = (*Store)(nil)
	_ recall.SummaryStore  = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for best-effort write warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Init creates the tables and indexes. Safe to call multiple times (all
// statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts_metadata (
			fact_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			created_at BIGINT NOT NULL,
			meta_data JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS facts_metadata_user_idx ON facts_metadata (user_id)`,
		`CREATE INDEX IF NOT EXISTS facts_metadata_category_idx ON facts_metadata (category)`,
		`CREATE INDEX IF NOT EXISTS facts_metadata_created_idx ON facts_metadata (created_at)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			current_step TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_user_created_idx ON jobs (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
		`CREATE TABLE IF NOT EXISTS user_favorite_summary (
			user_id TEXT PRIMARY KEY,
			summary_json JSONB NOT NULL DEFAULT '{}'::jsonb,
			last_updated BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}
