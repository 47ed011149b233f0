package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/recallio/recall"
)

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Complete(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func conversation(userContent string) []recall.ConversationTurn {
	return []recall.ConversationTurn{
		{Role: "user", Content: userContent},
		{Role: "assistant", Content: "That sounds wonderful!"},
	}
}

func TestExtract(t *testing.T) {
	llm := &stubLLM{response: `[
		{"content": "Loves hiking in the mountains", "category": "preference", "confidence": 0.9, "entities": ["hiking"]},
		{"content": "Visited Japan last spring", "category": "experience", "confidence": 0.85}
	]`}
	e := New(llm)

	got, err := e.Extract(context.Background(), conversation("I love hiking, and I visited Japan last spring"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Content != "Loves hiking in the mountains" || got[0].Category != recall.CategoryPreference {
		t.Errorf("got %+v", got[0])
	}
	if got[0].Entities[0] != "hiking" {
		t.Errorf("entities must survive parsing, got %v", got[0].Entities)
	}
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	llm := &stubLLM{response: "```json\n[{\"content\": \"Has a dog named Rex\", \"category\": \"relationship\"}]\n```"}
	e := New(llm)

	got, err := e.Extract(context.Background(), conversation("my dog Rex is the best"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 || got[0].Content != "Has a dog named Rex" {
		t.Errorf("got %+v", got)
	}
}

func TestExtractUnparseableYieldsNothing(t *testing.T) {
	llm := &stubLLM{response: "I could not find any structured facts, sorry!"}
	e := New(llm)

	got, err := e.Extract(context.Background(), conversation("tell me about the weather today"))
	if err != nil {
		t.Fatalf("unparseable response must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want nothing", got)
	}
}

func TestExtractLLMFailurePropagates(t *testing.T) {
	llm := &stubLLM{err: errors.New("rate limited")}
	e := New(llm)

	if _, err := e.Extract(context.Background(), conversation("I moved to Berlin recently")); err == nil {
		t.Error("LLM failure must propagate")
	}
}

func TestExtractSkipsTrivialConversations(t *testing.T) {
	llm := &stubLLM{response: "[]"}
	e := New(llm)

	got, err := e.Extract(context.Background(), []recall.ConversationTurn{
		{Role: "user", Content: "thanks"},
		{Role: "assistant", Content: "You're welcome!"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nothing", got)
	}
	if llm.calls != 0 {
		t.Error("trivial conversations must not reach the LLM")
	}
}

func TestSanitize(t *testing.T) {
	got := sanitize([]recall.FactCandidate{
		{Content: "  ", Category: recall.CategoryPreference},
		{Content: "valid", Category: "made_up_category", Confidence: 1.7},
		{Content: "defaulted", Category: recall.CategoryHabit},
		{Content: strings.Repeat("x", recall.MaxFactContentLen+50), Category: recall.CategoryHabit, Confidence: -3},
	})
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].Category != recall.CategoryUnknown {
		t.Errorf("unknown category must map to %q, got %q", recall.CategoryUnknown, got[0].Category)
	}
	if got[0].Confidence != 1 {
		t.Errorf("confidence must clamp to 1, got %f", got[0].Confidence)
	}
	if got[1].Confidence != DefaultConfidence {
		t.Errorf("missing confidence must default, got %f", got[1].Confidence)
	}
	if len(got[2].Content) != recall.MaxFactContentLen {
		t.Errorf("oversized content must be cut, got %d", len(got[2].Content))
	}
	if got[2].Confidence != 0 {
		t.Errorf("negative confidence must clamp to 0, got %f", got[2].Confidence)
	}
}

func TestShouldExtract(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"I love hiking in the mountains", true},
		{"thanks", false},
		{"ok", false},
		{"short", false},
		{"THANK YOU", false},
	}
	for _, tc := range cases {
		conv := []recall.ConversationTurn{{Role: "user", Content: tc.content}}
		if got := ShouldExtract(conv); got != tc.want {
			t.Errorf("ShouldExtract(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestShouldExtractIgnoresAssistantTurns(t *testing.T) {
	conv := []recall.ConversationTurn{
		{Role: "assistant", Content: "Here is a long and detailed explanation about many things."},
		{Role: "user", Content: "ok"},
	}
	if ShouldExtract(conv) {
		t.Error("assistant content alone must not trigger extraction")
	}
}

func TestParseCandidatesEmptyArray(t *testing.T) {
	got := ParseCandidates("[]")
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}
