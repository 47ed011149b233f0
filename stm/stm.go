// Package stm implements tiered short-term memory for conversation
// sessions.
//
// Each session keeps three tiers: tier 1 is the verbatim active window,
// tier 2 is a rolling summary of recently evicted turns (plus a buffer
// of turns awaiting summarisation), and tier 3 is a compressed summary
// of the deep past. Turns only ever move downward. State is persisted
// per session in the L1 cache and reloaded on demand, so any replica
// can continue a session.
package stm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/recallio/recall"
	"github.com/recallio/recall/cache"
)

// Tier capacities and limits.
const (
	DefaultTier1Size = 10  // verbatim turns in the active window
	DefaultTier2Size = 40  // buffered turns summarised per batch
	DefaultTier3Size = 200 // estimated turns before tier 2 collapses into tier 3

	DefaultSessionTTL = time.Hour

	summaryChunkLen = 50   // chars of each turn kept in a batch summary
	summaryMaxLen   = 500  // cap on one batch summary
	mergedMaxLen    = 1000 // cap on a merged rolling summary
)

// Summarizer reduces a batch of turns to one summary string. The default
// is a cheap extractive join; an LLM-backed implementation can be
// plugged in instead.
type Summarizer func(msgs []recall.STMMessage) string

// state is the persisted per-session record.
type state struct {
	Tier1        []recall.STMMessage `json:"tier1"`
	Tier2Buffer  []recall.STMMessage `json:"tier2_buffer"`
	Tier2Summary string              `json:"tier2_summary"`
	Tier3Summary string              `json:"tier3_summary"`
}

// Context is the snapshot handed to the search path: the three tiers as
// a reader consumes them. Buffered holds the turns evicted from the
// active window but not yet summarised.
type Context struct {
	SessionID      string              `json:"session_id"`
	Recent         []recall.STMMessage `json:"recent"`
	Buffered       []recall.STMMessage `json:"buffered"`
	RecentSummary  string              `json:"recent_summary"`
	HistorySummary string              `json:"history_summary"`
	EstimatedTurns int                 `json:"estimated_turns"`
}

// Store manages per-session tiered memory on top of the L1 cache.
type Store struct {
	kv         recall.KV
	summarize  Summarizer
	tier1Size  int
	tier2Size  int
	tier3Size  int
	sessionTTL time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithTierSizes overrides the three tier capacities.
func WithTierSizes(t1, t2, t3 int) Option {
	return func(s *Store) {
		s.tier1Size, s.tier2Size, s.tier3Size = t1, t2, t3
	}
}

// WithSummarizer replaces the default extractive summariser.
func WithSummarizer(fn Summarizer) Option {
	return func(s *Store) { s.summarize = fn }
}

// WithSessionTTL overrides how long idle session state survives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) { s.sessionTTL = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store persisting session state through kv.
func New(kv recall.KV, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		summarize:  defaultSummarize,
		tier1Size:  DefaultTier1Size,
		tier2Size:  DefaultTier2Size,
		tier3Size:  DefaultTier3Size,
		sessionTTL: DefaultSessionTTL,
		locks:      map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// AddMessage appends one turn to the session, cascading overflow down
// the tiers. It never fails: a broken persistence layer degrades the
// session, it does not break the conversation.
func (s *Store) AddMessage(ctx context.Context, msg recall.STMMessage) {
	unlock := s.lockSession(msg.SessionID)
	defer unlock()

	st := s.load(ctx, msg.SessionID)

	st.Tier1 = append(st.Tier1, msg)
	for len(st.Tier1) > s.tier1Size {
		st.Tier2Buffer = append(st.Tier2Buffer, st.Tier1[0])
		st.Tier1 = st.Tier1[1:]
	}
	if len(st.Tier2Buffer) >= s.tier2Size {
		st.Tier2Summary = mergeSummaries(st.Tier2Summary, s.summarize(st.Tier2Buffer))
		st.Tier2Buffer = nil
	}
	if s.estimatedTotal(st) > s.tier3Size && st.Tier2Summary != "" {
		st.Tier3Summary = mergeSummaries(st.Tier3Summary, st.Tier2Summary)
		st.Tier2Summary = ""
	}

	s.persist(ctx, msg.SessionID, st)
}

// Context returns the session's current three-tier snapshot.
func (s *Store) Context(ctx context.Context, sessionID string) Context {
	unlock := s.lockSession(sessionID)
	defer unlock()

	st := s.load(ctx, sessionID)
	return Context{
		SessionID:      sessionID,
		Recent:         st.Tier1,
		Buffered:       st.Tier2Buffer,
		RecentSummary:  st.Tier2Summary,
		HistorySummary: st.Tier3Summary,
		EstimatedTurns: s.estimatedTotal(st),
	}
}

// Clear drops the session's state.
func (s *Store) Clear(ctx context.Context, sessionID string) {
	unlock := s.lockSession(sessionID)
	defer unlock()
	if err := s.kv.Del(ctx, cache.STMKey(sessionID)); err != nil {
		s.logger.Warn("stm clear failed", "session_id", sessionID, "error", err)
	}
}

func (s *Store) lockSession(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// load returns the persisted state, or a fresh one when the session is
// new or the stored record cannot be read.
func (s *Store) load(ctx context.Context, sessionID string) *state {
	raw, ok, _ := s.kv.Get(ctx, cache.STMKey(sessionID))
	if !ok {
		return &state{}
	}
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		s.logger.Warn("stm state corrupt, starting fresh", "session_id", sessionID, "error", err)
		return &state{}
	}
	return &st
}

func (s *Store) persist(ctx context.Context, sessionID string, st *state) {
	b, err := json.Marshal(st)
	if err != nil {
		s.logger.Warn("stm state marshal failed", "session_id", sessionID, "error", err)
		return
	}
	if err := s.kv.SetEx(ctx, cache.STMKey(sessionID), string(b), s.sessionTTL); err != nil {
		s.logger.Warn("stm persist failed", "session_id", sessionID, "error", err)
	}
}

// estimatedTotal approximates how many turns the whole session has seen:
// exact counts for the verbatim tiers plus a length heuristic for the
// summaries.
func (s *Store) estimatedTotal(st *state) int {
	return len(st.Tier1) + len(st.Tier2Buffer) +
		estimatedTurns(st.Tier2Summary) + estimatedTurns(st.Tier3Summary)
}

// estimatedTurns guesses how many turns a summary stands for, one per
// hundred characters with a floor of one for any non-empty summary.
func estimatedTurns(summary string) int {
	if summary == "" {
		return 0
	}
	n := len(summary) / 100
	if n < 1 {
		return 1
	}
	return n
}

// defaultSummarize is the extractive fallback: the head of each turn,
// joined, capped.
func defaultSummarize(msgs []recall.STMMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if len(content) > summaryChunkLen {
			content = content[:summaryChunkLen]
		}
		parts = append(parts, content)
	}
	out := strings.Join(parts, " ")
	if len(out) > summaryMaxLen {
		out = out[:summaryMaxLen]
	}
	return out
}

// mergeSummaries stacks a newer summary under an older one, cutting from
// the new end when the cap forces it.
func mergeSummaries(older, newer string) string {
	switch {
	case older == "":
		return newer
	case newer == "":
		return older
	}
	out := older + "\n" + newer
	if len(out) > mergedMaxLen {
		out = out[:mergedMaxLen]
	}
	return out
}
