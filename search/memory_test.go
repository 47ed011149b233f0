package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/recallio/recall"
	"github.com/recallio/recall/stm"
)

func testMemory(t *testing.T) (*Memory, *stm.Store, *stubRetriever) {
	t.Helper()
	kv := newMemKV()
	stmStore := stm.New(kv)
	ret := &stubRetriever{}
	ltm := New(kv, &stubEmbedder{}, &stubSummaries{}, ret)
	return NewMemory(stmStore, ltm), stmStore, ret
}

func turn(session, content string) recall.STMMessage {
	return recall.STMMessage{
		SessionID: session,
		UserID:    "u1",
		Role:      "user",
		Content:   content,
	}
}

func TestMemorySearchMergesBothBranches(t *testing.T) {
	m, stmStore, ret := testMemory(t)
	ctx := context.Background()

	stmStore.AddMessage(ctx, turn("s1", "I really like pizza margherita"))
	ret.results = []recall.SearchResult{{ID: "f9", Score: 0.7, Content: "visited Rome"}}

	got, err := m.Search(ctx, "u1", "s1", "pizza", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want both branches, %+v", len(got), got)
	}

	// The STM turn gets the recency bonus and outranks the LTM fact.
	if got[0].Metadata["source"] != "stm" {
		t.Errorf("got %+v first, want the stm turn", got[0])
	}
	if math.Abs(got[0].Score-0.85) > 1e-9 {
		t.Errorf("got score %f, want 0.8 + recency bonus", got[0].Score)
	}
	if got[1].ID != "f9" {
		t.Errorf("got %+v second, want the ltm fact", got[1])
	}
}

func TestMemorySearchOverlapBoost(t *testing.T) {
	m, stmStore, ret := testMemory(t)
	ctx := context.Background()

	// Same content surfaces in both branches; case differs to prove the
	// content key is case-insensitive.
	stmStore.AddMessage(ctx, turn("s1", "Likes Pizza"))
	ret.results = []recall.SearchResult{{
		ID:       "f1",
		Score:    0.7,
		Content:  "likes pizza",
		Metadata: map[string]any{"category": recall.CategoryPreference},
	}}

	got, err := m.Search(ctx, "u1", "s1", "pizza", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want the deduplicated fact, %+v", len(got), got)
	}
	if got[0].ID != "f1" {
		t.Errorf("overlap must keep the long-term identity, got %q", got[0].ID)
	}
	// max(0.7 stm-side 0.8) + 0.1 = 0.9.
	if math.Abs(got[0].Score-0.9) > 1e-9 {
		t.Errorf("got score %f, want 0.9", got[0].Score)
	}
	if got[0].Metadata["stm_overlap"] != true {
		t.Error("overlap must be flagged in metadata")
	}
	if got[0].Metadata["category"] != recall.CategoryPreference {
		t.Error("existing metadata must survive the boost")
	}
}

func TestMemorySearchScoreCapped(t *testing.T) {
	m, stmStore, ret := testMemory(t)
	ctx := context.Background()

	stmStore.AddMessage(ctx, turn("s1", "adores pizza"))
	ret.results = []recall.SearchResult{{ID: "f1", Score: 0.95, Content: "adores pizza"}}

	got, err := m.Search(ctx, "u1", "s1", "pizza", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Score > 1.0 {
		t.Errorf("got score %f, want capped at 1.0", got[0].Score)
	}
}

func TestMemorySearchLTMFailureDegrades(t *testing.T) {
	m, stmStore, ret := testMemory(t)
	ctx := context.Background()

	stmStore.AddMessage(ctx, turn("s1", "talked about pizza toppings"))
	ret.err = errors.New("qdrant down")

	got, err := m.Search(ctx, "u1", "s1", "pizza", 10)
	if err != nil {
		t.Fatalf("a failed branch must not fail the search: %v", err)
	}
	if len(got) != 1 || got[0].Metadata["source"] != "stm" {
		t.Errorf("got %+v, want stm results alone", got)
	}
}

func TestMemorySearchIncludesSummaries(t *testing.T) {
	m, _, _ := testMemory(t)
	ctx := context.Background()

	// Overflow tier 1 so a tier 2 summary exists.
	small := stm.New(newMemKV(), stm.WithTierSizes(1, 1, 200))
	m.stm = small
	for _, content := range []string{"first topic", "second topic", "third topic"} {
		small.AddMessage(ctx, turn("s1", content))
	}

	got, err := m.Search(ctx, "u1", "s1", "nothing matches this", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range got {
		if r.Metadata["source"] == "stm_summary" {
			found = true
		}
	}
	if !found {
		t.Errorf("summaries must surface as low-confidence context, got %+v", got)
	}
}

func TestMemorySearchRespectsLimit(t *testing.T) {
	m, stmStore, ret := testMemory(t)
	ctx := context.Background()

	for _, content := range []string{"pizza one", "pizza two", "pizza three"} {
		stmStore.AddMessage(ctx, turn("s1", content))
	}
	ret.results = []recall.SearchResult{{ID: "f1", Score: 0.7, Content: "pizza fact"}}

	got, err := m.Search(ctx, "u1", "s1", "pizza", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d results, want limit 2", len(got))
	}
}

func TestMergeAndRankEmptyBranches(t *testing.T) {
	if got := mergeAndRank(nil, nil); len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}
