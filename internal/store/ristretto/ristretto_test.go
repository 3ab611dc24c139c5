package ristretto

import (
	"context"
	"testing"
	"time"
)

func newStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	cfg := Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64, DefaultTTL: ttl}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for zero config")
	}
	if _, err := New(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestBasicOperations(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := s.Get(ctx, "k")
	if err != nil || !found || string(value) != "v" {
		t.Fatalf("expected v, got %q found=%v err=%v", value, found, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatal("expected key to be deleted")
	}
}

func TestMultiOperations(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if err := s.SetMulti(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}
	got, err := s.GetMulti(ctx, []string{"a", "b", "c"})
	if err != nil || len(got) != 2 || string(got["b"]) != "2" {
		t.Fatalf("unexpected GetMulti result %v err=%v", got, err)
	}
	if err := s.DeleteMulti(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("DeleteMulti failed: %v", err)
	}
	if got, _ := s.GetMulti(ctx, []string{"a", "b"}); len(got) != 0 {
		t.Fatalf("expected no values after delete, got %v", got)
	}
}

func TestTTL(t *testing.T) {
	s := newStore(t, 50*time.Millisecond)
	ctx := context.Background()

	_ = s.Set(ctx, "default", []byte("1"), 0)
	_ = s.Set(ctx, "long", []byte("2"), time.Hour)
	time.Sleep(100 * time.Millisecond)

	if _, found, _ := s.Get(ctx, "default"); found {
		t.Fatal("expected default ttl entry to expire")
	}
	if _, found, _ := s.Get(ctx, "long"); !found {
		t.Fatal("expected long ttl entry to survive")
	}
}
