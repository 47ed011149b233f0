package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/recallio/recall"
)

// rankCase maps a status column to its transition rank in SQL, mirroring
// recall.JobStatus.Rank.
const rankCase = `CASE %s WHEN 'pending' THEN 0 WHEN 'processing' THEN 1 ELSE 2 END`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job recall.Job) error {
	data, err := json.Marshal(job.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal job data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, user_id, conversation_id, status, progress, current_step, data, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)`,
		job.ID, job.UserID, job.ConversationID, string(job.Status), job.Progress,
		job.CurrentStep, string(data), job.Error, job.CreatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}
	return nil
}

// JobByID returns the job with the given ID, or nil when absent.
func (s *Store) JobByID(ctx context.Context, jobID string) (*recall.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, conversation_id, status, progress, current_step, data::text, error, created_at, completed_at
		FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: job by id: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var j recall.Job
	var status, data string
	if err := rows.Scan(&j.ID, &j.UserID, &j.ConversationID, &status, &j.Progress,
		&j.CurrentStep, &data, &j.Error, &j.CreatedAt, &j.CompletedAt); err != nil {
		return nil, fmt.Errorf("postgres: scan job: %w", err)
	}
	j.Status = recall.JobStatus(status)
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &j.Data); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal job data: %w", err)
		}
	}
	return &j, nil
}

// UpdateJob applies a partial update under the monotonic status machine.
// The conditional UPDATE enforces, in one statement, that the row is not
// terminal and that the new status does not rank below the stored one.
// Zero rows affected is then disambiguated by re-reading the row: absent
// means NotFoundError, present means the transition was rejected.
func (s *Store) UpdateJob(ctx context.Context, update recall.JobUpdate) error {
	if update.Status.Rank() < 0 {
		return &recall.ValidationError{Field: "status", Message: "unknown status " + string(update.Status)}
	}

	var completedAt int64
	if update.Status.Terminal() {
		completedAt = recall.NowUnix()
	}
	var data *string
	if update.Data != nil {
		b, err := json.Marshal(update.Data)
		if err != nil {
			return fmt.Errorf("postgres: marshal job data: %w", err)
		}
		js := string(b)
		data = &js
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE jobs SET
			status = $2,
			progress = COALESCE($3, progress),
			current_step = COALESCE($4, current_step),
			data = COALESCE($5::jsonb, data),
			error = COALESCE($6, error),
			completed_at = CASE WHEN $7 > 0 THEN $7 ELSE completed_at END
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed')
		  AND `+rankCase+` <= $8`, "status"),
		update.ID, string(update.Status), update.Progress, update.CurrentStep,
		data, update.Error, completedAt, update.Status.Rank())
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := s.JobByID(ctx, update.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return &recall.NotFoundError{Resource: "job", ID: update.ID}
	}
	return &recall.ValidationError{
		Field:   "status",
		Message: fmt.Sprintf("transition %s -> %s not allowed", existing.Status, update.Status),
	}
}
