// Package jobs manages asynchronous extraction jobs: creation,
// enqueueing, and status tracking. Processing itself lives in the
// worker package.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/recallio/recall"
)

// DefaultQueue is the extraction work queue name.
const DefaultQueue = "memory_extraction"

// Message is the queue payload handed to the worker.
type Message struct {
	JobID          string                    `json:"job_id"`
	UserID         string                    `json:"user_id"`
	ConversationID string                    `json:"conversation_id"`
	Conversation   []recall.ConversationTurn `json:"conversation"`
	Metadata       map[string]any            `json:"metadata,omitempty"`
}

// Manager creates jobs and tracks their status.
type Manager struct {
	store  recall.JobStore
	queue  recall.MessageQueue
	name   string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueueName overrides the work queue name.
func WithQueueName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager over the job store and the message queue.
func New(store recall.JobStore, queue recall.MessageQueue, opts ...Option) *Manager {
	m := &Manager{store: store, queue: queue, name: DefaultQueue}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Create validates the request, persists a pending job, and enqueues it.
// A broker outage does not fail the create: the job stays pending in the
// store and is reported to the caller, who can poll its status.
func (m *Manager) Create(ctx context.Context, req recall.ExtractionRequest) (*recall.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := recall.Job{
		ID:             recall.NewID(),
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Status:         recall.JobPending,
		CurrentStep:    "Queued for processing",
		CreatedAt:      recall.NowUnix(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	m.logger.Info("created extraction job", "job_id", job.ID, "user_id", job.UserID)

	body, err := json.Marshal(Message{
		JobID:          job.ID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Conversation:   req.Conversation,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job message: %w", err)
	}
	if err := m.queue.Publish(ctx, m.name, body); err != nil {
		m.logger.Warn("job created but not enqueued, broker unavailable",
			"job_id", job.ID, "error", err)
	}
	return &job, nil
}

// Status returns the job with the given ID.
func (m *Manager) Status(ctx context.Context, jobID string) (*recall.Job, error) {
	job, err := m.store.JobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &recall.NotFoundError{Resource: "job", ID: jobID}
	}
	return job, nil
}
