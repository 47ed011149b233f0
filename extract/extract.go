// Package extract turns conversations into fact candidates with an LLM.
// It owns the extraction prompt, the response parser, and the gate that
// skips conversations not worth an LLM round trip.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/recallio/recall"
)

// LLM is the completion capability the extractor needs.
type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// DefaultConfidence is assigned when the model omits a confidence.
const DefaultConfidence = 0.8

// Prompt is the system prompt for fact extraction.
const Prompt = `You are a memory extraction system. Given a conversation between a user and an assistant, extract factual information ABOUT THE USER.

Extract facts like:
- Preferences (favorite things, likes and dislikes)
- Experiences (places visited, events attended)
- Habits and routines
- Emotions and feelings they express
- Relationships and people they mention
- Things they are learning or curious about

Rules:
- Only extract facts clearly stated or strongly implied by the USER (not the assistant)
- Each fact should be a single, concise statement
- Categorize each fact as: preference, experience, habit, emotion, relationship, or learning
- Give each fact a confidence between 0 and 1
- List the named entities each fact mentions
- Do NOT extract facts about the assistant or general knowledge

Return a JSON array:
[{"content": "Loves hiking in the mountains", "category": "preference", "confidence": 0.9, "entities": ["hiking", "mountains"]}]

Return ONLY the JSON array, no extra text. Return [] if no facts found.`

// validCategories is the closed category set the model must pick from.
var validCategories = map[string]bool{
	recall.CategoryPreference:   true,
	recall.CategoryExperience:   true,
	recall.CategoryHabit:        true,
	recall.CategoryEmotion:      true,
	recall.CategoryRelationship: true,
	recall.CategoryLearning:     true,
}

// ShouldExtract reports whether the conversation is worth an extraction
// call. Short acknowledgement-only exchanges are skipped.
func ShouldExtract(conversation []recall.ConversationTurn) bool {
	for _, turn := range conversation {
		if turn.Role != "user" {
			continue
		}
		if worthExtracting(turn.Content) {
			return true
		}
	}
	return false
}

func worthExtracting(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}
	lower := strings.ToLower(trimmed)
	skip := []string{
		"ok", "okay", "okey",
		"thanks", "thank you", "thx", "ty",
		"yes", "no", "yep", "nope",
		"nice", "good", "great", "cool",
		"lol", "haha", "hmm", "oh", "ah",
	}
	for _, s := range skip {
		if lower == s {
			return false
		}
	}
	return true
}

// Extractor implements recall.FactExtractor over an LLM.
type Extractor struct {
	llm    LLM
	logger *slog.Logger
}

var _ recall.FactExtractor = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor over the given LLM.
func New(llm LLM, opts ...Option) *Extractor {
	e := &Extractor{llm: llm}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Extract runs the extraction prompt over the conversation and returns
// the sanitised candidates. A response that cannot be parsed yields no
// candidates rather than an error; the model sometimes rambles and a
// lost extraction is recoverable, a failed job is noisier.
func (e *Extractor) Extract(ctx context.Context, conversation []recall.ConversationTurn) ([]recall.FactCandidate, error) {
	if !ShouldExtract(conversation) {
		return nil, nil
	}

	response, err := e.llm.Complete(ctx, Prompt, Transcript(conversation))
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	candidates := ParseCandidates(response)
	if candidates == nil {
		e.logger.Warn("unparseable extraction response", "response_len", len(response))
		return nil, nil
	}
	return sanitize(candidates), nil
}

// Transcript renders the conversation for the prompt, one role-tagged
// line per turn.
func Transcript(conversation []recall.ConversationTurn) string {
	var b strings.Builder
	for _, turn := range conversation {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseCandidates parses the model's JSON array response, tolerating
// markdown fences and surrounding prose. Returns nil when no array can
// be recovered.
func ParseCandidates(response string) []recall.FactCandidate {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start == -1 || end < start {
		return nil
	}

	var candidates []recall.FactCandidate
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &candidates); err != nil {
		return nil
	}
	if candidates == nil {
		candidates = []recall.FactCandidate{}
	}
	return candidates
}

// sanitize drops empty candidates and clamps model output into the
// domain's bounds.
func sanitize(candidates []recall.FactCandidate) []recall.FactCandidate {
	out := make([]recall.FactCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			continue
		}
		if len(c.Content) > recall.MaxFactContentLen {
			c.Content = c.Content[:recall.MaxFactContentLen]
		}
		if !validCategories[c.Category] {
			c.Category = recall.CategoryUnknown
		}
		if c.Confidence == 0 {
			c.Confidence = DefaultConfidence
		}
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		out = append(out, c)
	}
	return out
}
