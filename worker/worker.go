// Package worker consumes extraction jobs from the durable queue and
// runs the pipeline: extract facts with the LLM, embed them, store them
// in the tri-store, then invalidate the user's caches.
//
// Acknowledgement policy: success acks; a permanent failure marks the
// job failed and nacks without requeue so a poison message cannot cycle
// forever; any other failure nacks with requeue so another attempt can
// succeed.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/recallio/recall"
	"github.com/recallio/recall/cache"
	"github.com/recallio/recall/jobs"
)

// DefaultPrefetch bounds how many jobs one worker holds unacknowledged.
const DefaultPrefetch = 1

// Progress checkpoints reported while a job runs.
const (
	progressExtracting = 10
	progressStoring    = 50
)

// FactCreator stores one extracted fact across the tri-store.
type FactCreator interface {
	Create(ctx context.Context, fact recall.Fact) error
}

// Worker drains the extraction queue.
type Worker struct {
	queue     recall.MessageQueue
	store     recall.JobStore
	extractor recall.FactExtractor
	embedder  recall.Embedder
	creator   FactCreator
	kv        recall.KV
	name      string
	prefetch  int
	logger    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueName overrides the work queue name.
func WithQueueName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithPrefetch overrides the unacknowledged-job bound.
func WithPrefetch(n int) Option {
	return func(w *Worker) { w.prefetch = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a Worker over its collaborators.
func New(queue recall.MessageQueue, store recall.JobStore, extractor recall.FactExtractor, embedder recall.Embedder, creator FactCreator, kv recall.KV, opts ...Option) *Worker {
	w := &Worker{
		queue:     queue,
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		creator:   creator,
		kv:        kv,
		name:      jobs.DefaultQueue,
		prefetch:  DefaultPrefetch,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	return w
}

// Run consumes jobs until ctx is cancelled or the delivery channel
// closes.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume(ctx, w.name, w.prefetch)
	if err != nil {
		return fmt.Errorf("worker: consume: %w", err)
	}
	w.logger.Info("worker started", "queue", w.name, "prefetch", w.prefetch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery end to end, including acknowledgement.
func (w *Worker) Handle(ctx context.Context, d recall.Delivery) {
	var msg jobs.Message
	if err := json.Unmarshal(d.Body(), &msg); err != nil {
		w.logger.Error("undecodable job message, dropping", "error", err)
		w.nackDrop(d)
		return
	}

	err := w.process(ctx, msg)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			w.logger.Warn("ack failed", "job_id", msg.JobID, "error", ackErr)
		}
		return
	}

	if recall.IsPermanent(err) {
		w.logger.Error("permanent job failure, dropping", "job_id", msg.JobID, "error", err)
		w.failJob(ctx, msg.JobID, err)
		w.nackDrop(d)
		return
	}

	// Anything not provably permanent is requeued: a store outage mid-job
	// must not lose the extraction.
	w.logger.Warn("job failed, requeueing", "job_id", msg.JobID, "error", err)
	if nackErr := d.NackRequeue(); nackErr != nil {
		w.logger.Warn("nack failed", "job_id", msg.JobID, "error", nackErr)
	}
}

func (w *Worker) nackDrop(d recall.Delivery) {
	if err := d.NackDrop(); err != nil {
		w.logger.Warn("nack failed", "error", err)
	}
}

// process runs the pipeline for one job.
func (w *Worker) process(ctx context.Context, msg jobs.Message) error {
	if err := w.progress(ctx, msg.JobID, progressExtracting, "Extracting facts from conversation"); err != nil {
		return err
	}

	candidates, err := w.extractor.Extract(ctx, msg.Conversation)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if len(candidates) == 0 {
		w.logger.Info("no facts extracted", "job_id", msg.JobID)
		return w.complete(ctx, msg.JobID, 0, 0)
	}

	contents := make([]string, 0, len(candidates))
	for _, c := range candidates {
		contents = append(contents, c.Content)
	}
	embeddings, err := recall.Retry(ctx, func() ([][]float32, error) {
		return w.embedder.EmbedBatch(ctx, contents)
	}, recall.RetryLogger(w.logger))
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	if err := w.progress(ctx, msg.JobID, progressStoring, "Storing extracted facts"); err != nil {
		return err
	}
	stored := 0
	for i, c := range candidates {
		fact := recall.Fact{
			ID:         recall.NewID(),
			UserID:     msg.UserID,
			Content:    c.Content,
			Category:   c.Category,
			Confidence: c.Confidence,
			Entities:   c.Entities,
			CreatedAt:  recall.NowUnix(),
			Source:     "extraction",
			Metadata:   factMetadata(msg),
		}
		if i < len(embeddings) {
			fact.Embedding = embeddings[i]
		}
		if err := w.creator.Create(ctx, fact); err != nil {
			// One bad fact does not fail the batch.
			w.logger.Warn("fact store failed", "job_id", msg.JobID, "fact_id", fact.ID, "error", err)
			continue
		}
		stored++
	}

	if stored > 0 {
		w.invalidate(ctx, msg.UserID)
	}
	return w.complete(ctx, msg.JobID, len(candidates), stored)
}

func factMetadata(msg jobs.Message) map[string]any {
	meta := map[string]any{"conversation_id": msg.ConversationID}
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	return meta
}

// invalidate makes every cached read for the user stale: bump the
// version tag, then sweep the derived entries.
func (w *Worker) invalidate(ctx context.Context, userID string) {
	if _, err := w.kv.BumpUserVersion(ctx, userID); err != nil {
		w.logger.Warn("version bump failed", "user_id", userID, "error", err)
	}
	for _, pattern := range cache.InvalidationPatterns(userID) {
		if _, err := w.kv.ScanDel(ctx, pattern); err != nil {
			w.logger.Warn("cache sweep failed", "pattern", pattern, "error", err)
		}
	}
}

func (w *Worker) progress(ctx context.Context, jobID string, progress int, step string) error {
	return w.store.UpdateJob(ctx, recall.JobUpdate{
		ID:          jobID,
		Status:      recall.JobProcessing,
		Progress:    &progress,
		CurrentStep: &step,
	})
}

func (w *Worker) complete(ctx context.Context, jobID string, extracted, stored int) error {
	progress := 100
	step := "Completed"
	return w.store.UpdateJob(ctx, recall.JobUpdate{
		ID:          jobID,
		Status:      recall.JobCompleted,
		Progress:    &progress,
		CurrentStep: &step,
		Data: map[string]any{
			"facts_extracted": extracted,
			"facts_stored":    stored,
		},
	})
}

// failJob records the failure on the job. Best-effort: the job may be
// gone or already terminal.
func (w *Worker) failJob(ctx context.Context, jobID string, cause error) {
	msg := cause.Error()
	if err := w.store.UpdateJob(ctx, recall.JobUpdate{
		ID:     jobID,
		Status: recall.JobFailed,
		Error:  &msg,
	}); err != nil {
		w.logger.Warn("failed-state update rejected", "job_id", jobID, "error", err)
	}
}
