package db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis spins up an in-memory Redis and returns a store pointed at it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
	return s, store
}

func TestVisitorImpressionsPipeline(t *testing.T) {
	s, store := setupTestRedis(t)
	if err := s.Set(capKey("v1", "hero"), "2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(capKey("v1", "junk"), "not-a-number"); err != nil {
		t.Fatal(err)
	}

	got, err := store.VisitorImpressions("v1", []string{"hero", "inline", "junk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["hero"] != 2 {
		t.Fatalf("expected hero=2, got %d", got["hero"])
	}
	if _, ok := got["inline"]; ok {
		t.Fatal("missing counters should be absent")
	}
	if _, ok := got["junk"]; ok {
		t.Fatal("unreadable counters should fail open")
	}
}

func TestVisitorImpressionsEmpty(t *testing.T) {
	_, store := setupTestRedis(t)
	got, err := store.VisitorImpressions("", []string{"hero"})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty map, got %v, %v", got, err)
	}
}

func TestIncrementVisitorImpression(t *testing.T) {
	s, store := setupTestRedis(t)

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementVisitorImpression("v1", "hero", 30*time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if ttl := s.TTL(capKey("v1", "hero")); ttl != 30*time.Minute {
		t.Fatalf("expected 30m TTL, got %v", ttl)
	}

	s.FastForward(31 * time.Minute)
	got, _ := store.VisitorImpressions("v1", []string{"hero"})
	if got["hero"] != 0 {
		t.Fatalf("counter should expire with the window, got %d", got["hero"])
	}
}

func TestNilRedisStore(t *testing.T) {
	var store *RedisStore
	if _, err := store.VisitorImpressions("v", []string{"a"}); err != ErrNilRedisStore {
		t.Fatalf("expected ErrNilRedisStore, got %v", err)
	}
	if _, err := store.IncrementVisitorImpression("v", "a", time.Minute); err != ErrNilRedisStore {
		t.Fatalf("expected ErrNilRedisStore, got %v", err)
	}
	if err := store.Ping(); err != ErrNilRedisStore {
		t.Fatalf("expected ErrNilRedisStore, got %v", err)
	}
	store.Close()
}
