package recall

import (
	"context"
	"time"
)

// Embedder turns text into fixed-dimension vectors.
// The dimension is fixed per deployment.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// FactExtractor extracts user-fact candidates from a conversation.
type FactExtractor interface {
	Extract(ctx context.Context, conversation []ConversationTurn) ([]FactCandidate, error)
}

// VectorHit is one similarity match from the vector index.
type VectorHit struct {
	FactID     string
	UserID     string
	Content    string
	Category   string
	Confidence float64
	CreatedAt  int64
	Score      float64
}

// VectorIndex stores embeddings and answers inner-product similarity
// queries. Scores are assumed normalised into [0,1]; implementations
// normalise embeddings at insert time.
type VectorIndex interface {
	Insert(ctx context.Context, fact Fact) error
	Search(ctx context.Context, userID string, vector []float32, topK int, scoreThreshold float64) ([]VectorHit, error)
	DeleteByID(ctx context.Context, factID string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// Relation is one outbound edge of a fact in the graph store.
type Relation struct {
	FactID string
	Type   string
	Props  map[string]any
}

// GraphStore keeps User and Fact nodes with HAS_FACT and typed
// RELATED_TO edges. IDs are unique per label.
type GraphStore interface {
	EnsureUser(ctx context.Context, userID string) error
	UpsertFact(ctx context.Context, factID, userID, content, category string, confidence float64) error
	Link(ctx context.Context, sourceID, targetID, relType string, props map[string]any) error
	RelationsOf(ctx context.Context, factID string) ([]Relation, error)
	DeleteFact(ctx context.Context, factID string) error
	DeleteUser(ctx context.Context, userID string) error
}

// KeywordHit is one row matched by the relational keyword search.
type KeywordHit struct {
	FactID     string
	Content    string
	Category   string
	Confidence float64
	CreatedAt  int64
	Score      float64
}

// MetadataStore is the relational system of record for fact existence.
type MetadataStore interface {
	UpsertFact(ctx context.Context, fact Fact) error
	FactByID(ctx context.Context, factID string) (*Fact, error) // nil when absent
	FactsByUser(ctx context.Context, userID string, limit int) ([]Fact, error)
	FactsByIDs(ctx context.Context, factIDs []string) ([]Fact, error)
	KeywordSearch(ctx context.Context, userID, query string, limit int) ([]KeywordHit, error)
	DeleteFact(ctx context.Context, factID string) error
	DeleteFactsByUser(ctx context.Context, userID string) error
	UserIDs(ctx context.Context) ([]string, error)
}

// JobStore persists extraction jobs. UpdateJob enforces the monotonic
// status machine and rejects transitions out of terminal states.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	JobByID(ctx context.Context, jobID string) (*Job, error) // nil when absent
	UpdateJob(ctx context.Context, update JobUpdate) error
}

// SummaryStore is the L2 materialised favourite-summary cache.
// Reads return nil on miss; writes are best-effort.
type SummaryStore interface {
	FavoriteSummary(ctx context.Context, userID string) (*FavoriteSummary, error)
	UpsertFavoriteSummary(ctx context.Context, summary FavoriteSummary) error
}

// KV is the distributed L1 cache. Implementations must never turn a
// transport failure into a caller-visible cache error on the read path:
// a failed Get is a miss.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ScanDel(ctx context.Context, pattern string) (int, error)
	// UserVersion returns the per-user cache version tag, or "" when unset.
	UserVersion(ctx context.Context, userID string) (string, error)
	// BumpUserVersion atomically advances the tag and returns the new value.
	BumpUserVersion(ctx context.Context, userID string) (string, error)
}

// Delivery is one consumed queue message awaiting acknowledgement.
type Delivery interface {
	Body() []byte
	Ack() error
	NackRequeue() error // transient failure: redeliver later
	NackDrop() error    // poison message: never redeliver
}

// MessageQueue is a durable work queue with persistent delivery and
// manual acknowledgement.
type MessageQueue interface {
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume delivers messages until ctx is cancelled, holding at most
	// prefetch unacknowledged messages. The channel closes on shutdown.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
}
