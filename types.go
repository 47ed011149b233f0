package recall

// Fact categories assigned by the extraction pipeline.
const (
	CategoryPreference   = "preference"
	CategoryExperience   = "experience"
	CategoryHabit        = "habit"
	CategoryEmotion      = "emotion"
	CategoryRelationship = "relationship"
	CategoryLearning     = "learning"
	CategoryUnknown      = "unknown"
)

// MetaSimilarityScore is the transient metadata key carrying the similarity
// score a fact was retrieved with. It is never persisted.
const MetaSimilarityScore = "_similarityScore"

// MaxFactContentLen bounds the content of a single fact.
const MaxFactContentLen = 2000

// Fact is a single extracted user fact. Immutable after creation except for
// Metadata. The same record is read back as a "memory" on the search path.
type Fact struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Content    string         `json:"content"`
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	Embedding  []float32      `json:"-"`
	Entities   []string       `json:"entities,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// SimilarityScore returns the transient similarity score attached during
// search, or 0 if the fact was not retrieved by similarity.
func (f *Fact) SimilarityScore() float64 {
	if f.Metadata == nil {
		return 0
	}
	if s, ok := f.Metadata[MetaSimilarityScore].(float64); ok {
		return s
	}
	return 0
}

// FactCandidate is an unstored extraction result produced by a FactExtractor.
type FactCandidate struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
}

// ConversationTurn is one message of an ingested conversation.
type ConversationTurn struct {
	Role    string `json:"role"` // "user", "assistant" or "system"
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the accepted conversation roles.
func ValidRole(role string) bool {
	return role == "user" || role == "assistant" || role == "system"
}

// SearchResult is a transient, ranked hit returned by the search path.
// Never persisted.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchQuery carries one semantic search request.
type SearchQuery struct {
	UserID         string  `json:"user_id"`
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// Validate checks the query fields against the service limits.
func (q SearchQuery) Validate() error {
	if q.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if q.Query == "" {
		return &ValidationError{Field: "query", Message: "must not be empty"}
	}
	if q.Limit < 1 || q.Limit > 100 {
		return &ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	return nil
}

// ExtractionRequest asks for fact extraction over a conversation.
type ExtractionRequest struct {
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id"`
	Conversation   []ConversationTurn `json:"conversation"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// Validate checks the request before a job is created.
func (r ExtractionRequest) Validate() error {
	if r.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if len(r.Conversation) == 0 {
		return &ValidationError{Field: "conversation", Message: "must not be empty"}
	}
	for _, turn := range r.Conversation {
		if !ValidRole(turn.Role) {
			return &ValidationError{Field: "conversation", Message: "unknown role " + turn.Role}
		}
	}
	return nil
}

// JobStatus is the lifecycle state of an extraction job.
// Transitions are monotonic: pending -> processing -> completed|failed.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Rank orders statuses for monotonic transition checks.
// Terminal states share the highest rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobPending:
		return 0
	case JobProcessing:
		return 1
	case JobCompleted, JobFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job tracks one asynchronous extraction. Mutated only by the worker.
type Job struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Status         JobStatus      `json:"status"`
	Progress       int            `json:"progress"` // 0..100
	CurrentStep    string         `json:"current_step"`
	Data           map[string]any `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	CompletedAt    int64          `json:"completed_at,omitempty"` // 0 until terminal
}

// JobUpdate is a partial job mutation. Nil pointers leave the stored
// value unchanged.
type JobUpdate struct {
	ID          string
	Status      JobStatus
	Progress    *int
	CurrentStep *string
	Data        map[string]any
	Error       *string
}

// STMMessage is one turn appended to short-term memory. Immutable.
type STMMessage struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// FavoriteSummary is the pre-materialised per-user favourite view (L2).
type FavoriteSummary struct {
	UserID      string              `json:"user_id"`
	Buckets     map[string][]string `json:"buckets"`
	LastUpdated int64               `json:"last_updated"`
}
