package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/recallio/recall"
)

// FavoriteSummary returns the user's materialised favourite view, or nil
// on miss. Read failures also present as a miss: L2 is a cache tier and
// the search path degrades to L4 when it is unavailable.
func (s *Store) FavoriteSummary(ctx context.Context, userID string) (*recall.FavoriteSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT summary_json::text, last_updated FROM user_favorite_summary WHERE user_id = $1`, userID)
	if err != nil {
		s.logger.Warn("favorite summary read failed, treating as miss", "user_id", userID, "error", err)
		return nil, nil
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var raw string
	summary := recall.FavoriteSummary{UserID: userID}
	if err := rows.Scan(&raw, &summary.LastUpdated); err != nil {
		s.logger.Warn("favorite summary scan failed, treating as miss", "user_id", userID, "error", err)
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &summary.Buckets); err != nil {
		s.logger.Warn("favorite summary decode failed, treating as miss", "user_id", userID, "error", err)
		return nil, nil
	}
	return &summary, nil
}

// UpsertFavoriteSummary replaces the user's favourite view. Best-effort:
// failures are logged and swallowed so proactive refresh never fails a
// whole cycle over one user.
func (s *Store) UpsertFavoriteSummary(ctx context.Context, summary recall.FavoriteSummary) error {
	buckets, err := json.Marshal(summary.Buckets)
	if err != nil {
		return fmt.Errorf("postgres: marshal summary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_favorite_summary (user_id, summary_json, last_updated)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			summary_json = EXCLUDED.summary_json,
			last_updated = EXCLUDED.last_updated`,
		summary.UserID, string(buckets), summary.LastUpdated)
	if err != nil {
		s.logger.Warn("favorite summary write failed", "user_id", summary.UserID, "error", err)
	}
	return nil
}
