package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/recallio/recall"
)

func TestRequestCacheRoundTrip(t *testing.T) {
	c := NewRequestCache()
	if _, ok := c.Get("k"); ok {
		t.Fatal("fresh cache must miss")
	}
	c.Set("k", []recall.SearchResult{{ID: "f1"}})
	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(v.([]recall.SearchResult)) != 1 {
		t.Error("wrong cached value")
	}
}

func TestRequestCacheNilSafe(t *testing.T) {
	var c *RequestCache
	c.Set("k", 1) // must not panic
	if _, ok := c.Get("k"); ok {
		t.Error("nil cache must always miss")
	}
}

func TestRequestCacheContextCarrier(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Fatal("bare context must carry no cache")
	}
	ctx = WithRequest(ctx)
	c := FromContext(ctx)
	if c == nil {
		t.Fatal("expected attached cache")
	}
	c.Set("k", "v")
	if got, _ := FromContext(ctx).Get("k"); got != "v" {
		t.Error("same context must yield the same cache")
	}
	// A second request gets its own cache.
	if _, ok := FromContext(WithRequest(context.Background())).Get("k"); ok {
		t.Error("request caches must not be shared")
	}
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	kv := newMemKV()
	c := NewEmbeddingCache(kv)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "what do I like?"); ok {
		t.Fatal("expected miss on empty cache")
	}
	vec := []float32{0.1, 0.2, 0.3}
	c.Put(ctx, "what do I like?", vec)

	got, ok := c.Get(ctx, "what do I like?")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if len(got) != 3 || got[1] != 0.2 {
		t.Errorf("got %v, want %v", got, vec)
	}
	if ttl := kv.ttls[EmbeddingKey("what do I like?")]; ttl != DefaultEmbeddingTTL {
		t.Errorf("got ttl %v, want %v", ttl, DefaultEmbeddingTTL)
	}
}

func TestEmbeddingCacheFailureIsMiss(t *testing.T) {
	kv := newMemKV()
	kv.failing = true
	c := NewEmbeddingCache(kv)
	c.Put(context.Background(), "q", []float32{1}) // swallowed
	if _, ok := c.Get(context.Background(), "q"); ok {
		t.Error("transport failure must present as a miss")
	}
}

func TestSemanticCacheExactMatch(t *testing.T) {
	kv := newMemKV()
	c := NewSemanticCache(kv)
	ctx := context.Background()
	results := []recall.SearchResult{{ID: "f1", Score: 0.9, Content: "likes pizza"}}

	c.Set(ctx, "u1", "what do I like?", []float32{1, 0}, results, time.Minute)

	got, ok := c.GetExact(ctx, "u1", "what do I like?")
	if !ok {
		t.Fatal("expected exact hit")
	}
	if got[0].ID != "f1" {
		t.Errorf("got %q, want f1", got[0].ID)
	}
	if _, ok := c.GetExact(ctx, "u2", "what do I like?"); ok {
		t.Error("exact entries must be per-user")
	}
}

func TestSemanticCacheNearestMatch(t *testing.T) {
	kv := newMemKV()
	c := NewSemanticCache(kv)
	ctx := context.Background()
	results := []recall.SearchResult{{ID: "f1", Score: 0.8, Content: "likes pizza"}}

	c.Set(ctx, "u1", "what do I like?", []float32{1, 0, 0}, results, time.Minute)

	// Nearly parallel vector: similarity above 0.9.
	got, ok := c.GetNearest(ctx, "u1", []float32{0.99, 0.05, 0})
	if !ok {
		t.Fatal("expected nearest-query hit")
	}
	if got[0].ID != "f1" {
		t.Errorf("got %q, want f1", got[0].ID)
	}

	// Orthogonal vector: below threshold.
	if _, ok := c.GetNearest(ctx, "u1", []float32{0, 1, 0}); ok {
		t.Error("dissimilar query must miss")
	}
}

func TestSemanticCacheNearestPicksBest(t *testing.T) {
	kv := newMemKV()
	c := NewSemanticCache(kv)
	ctx := context.Background()

	c.Set(ctx, "u1", "close", []float32{0.95, 0.31225, 0}, []recall.SearchResult{{ID: "close"}}, time.Minute)
	c.Set(ctx, "u1", "closest", []float32{1, 0, 0}, []recall.SearchResult{{ID: "closest"}}, time.Minute)

	got, ok := c.GetNearest(ctx, "u1", []float32{1, 0, 0})
	if !ok {
		t.Fatal("expected hit")
	}
	if got[0].ID != "closest" {
		t.Errorf("got %q, want the highest-similarity entry", got[0].ID)
	}
}

func TestSemanticCacheTrimsQueryList(t *testing.T) {
	kv := newMemKV()
	c := NewSemanticCache(kv, WithMaxCachedQueries(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q := fmt.Sprintf("query %d", i)
		c.Set(ctx, "u1", q, []float32{float32(i), 1}, []recall.SearchResult{{ID: q}}, time.Minute)
	}

	raw, ok, _ := kv.Get(ctx, SemanticQueriesKey("u1"))
	if !ok {
		t.Fatal("expected query list")
	}
	// Oldest entries trimmed: "query 0" and "query 1" gone.
	for _, gone := range []string{`"query 0"`, `"query 1"`} {
		if strings.Contains(raw, gone) {
			t.Errorf("query list still contains trimmed entry %s", gone)
		}
	}
	if !strings.Contains(raw, `"query 4"`) {
		t.Error("query list must keep the newest entry")
	}
}
