package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestGetSetRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.SetEx(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v != "v" {
		t.Errorf("got %q, want %q", v, "v")
	}
}

func TestSetExAppliesTTL(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	_ = c.SetEx(ctx, "k", "v", time.Minute)
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("got ttl %v, want 1m", ttl)
	}

	// Non-positive TTL falls back to the default.
	_ = c.SetEx(ctx, "d", "v", 0)
	if ttl := mr.TTL("d"); ttl != DefaultTTL {
		t.Errorf("got ttl %v, want %v", ttl, DefaultTTL)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected expired key to miss")
	}
}

func TestTransportFailureIsMiss(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()
	_ = c.SetEx(ctx, "k", "v", time.Minute)

	mr.Close()

	v, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("transport failure must not surface, got %v", err)
	}
	if ok || v != "" {
		t.Error("transport failure must present as a miss")
	}
}

func TestScanDel(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	for _, k := range []string{"search:u1:a", "search:u1:b", "search:u2:a", "user_favorite:u1"} {
		_ = c.SetEx(ctx, k, "v", time.Minute)
	}

	n, err := c.ScanDel(ctx, "search:u1:*")
	if err != nil {
		t.Fatalf("ScanDel: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d deleted, want 2", n)
	}
	if _, ok, _ := c.Get(ctx, "search:u1:a"); ok {
		t.Error("matching key must be gone")
	}
	if _, ok, _ := c.Get(ctx, "search:u2:a"); !ok {
		t.Error("non-matching key must survive")
	}
}

func TestUserVersionBumpMonotonic(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	if v, _ := c.UserVersion(ctx, "u1"); v != "" {
		t.Errorf("got %q, want empty version for unseen user", v)
	}

	v1, err := c.BumpUserVersion(ctx, "u1")
	if err != nil {
		t.Fatalf("BumpUserVersion: %v", err)
	}
	v2, _ := c.BumpUserVersion(ctx, "u1")
	if v1 == v2 {
		t.Error("bumps must produce distinct tags")
	}
	if v1 != "1" || v2 != "2" {
		t.Errorf("got %q then %q, want counter 1 then 2", v1, v2)
	}

	got, _ := c.UserVersion(ctx, "u1")
	if got != v2 {
		t.Errorf("got %q, want latest tag %q", got, v2)
	}
}
