package cache

import (
	"strings"
	"testing"

	"github.com/recallio/recall"
)

func TestSearchKeyCanonicalForm(t *testing.T) {
	got := SearchKey("u1", "what do I like?", "42")
	want := "search:u1:" + recall.MD5Hex("what do I like?") + ":version:42"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSearchKeyEmptyVersion(t *testing.T) {
	got := SearchKey("u1", "q", "")
	if !strings.HasSuffix(got, ":version:") {
		t.Errorf("key without version tag must end in \":version:\", got %q", got)
	}
}

func TestSearchKeyChangesWithVersion(t *testing.T) {
	before := SearchKey("u1", "q", "1")
	after := SearchKey("u1", "q", "2")
	if before == after {
		t.Error("version bump must produce a different key")
	}
}

func TestSearchKeyFromHashMatchesSearchKey(t *testing.T) {
	if SearchKey("u1", "q", "7") != SearchKeyFromHash("u1", recall.MD5Hex("q"), "7") {
		t.Error("SearchKeyFromHash must agree with SearchKey")
	}
}

func TestFixedKeyLayouts(t *testing.T) {
	if got := FavoriteKey("u1"); got != "user_favorite:u1" {
		t.Errorf("FavoriteKey = %q", got)
	}
	if got := STMKey("s1"); got != "stm:s1" {
		t.Errorf("STMKey = %q", got)
	}
	if got := SemanticQueriesKey("u1"); got != "semantic_cache:queries:u1" {
		t.Errorf("SemanticQueriesKey = %q", got)
	}
	if got := EmbeddingKey("q"); got != "embedding:"+recall.MD5Hex("q") {
		t.Errorf("EmbeddingKey = %q", got)
	}
}

func TestInvalidationPatternsCoverUserEntries(t *testing.T) {
	patterns := InvalidationPatterns("u1")
	if len(patterns) == 0 {
		t.Fatal("expected invalidation patterns")
	}
	joined := strings.Join(patterns, " ")
	for _, want := range []string{"search:u1:*", "user_favorite:u1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("patterns %v missing %q", patterns, want)
		}
	}
}
