package entry

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ttl := 10 * time.Second
	e := New([]byte("test-value"), ttl)

	if string(e.Value) != "test-value" {
		t.Fatalf("Expected value test-value, got %q", e.Value)
	}
	if e.ExpiresAt == nil {
		t.Fatal("Expected ExpiresAt to be set")
	}

	expected := time.Now().Add(ttl)
	if e.ExpiresAt.Before(expected.Add(-time.Second)) || e.ExpiresAt.After(expected.Add(time.Second)) {
		t.Fatal("ExpiresAt not set correctly")
	}
}

func TestNewWithoutTTL(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		e := New([]byte("v"), ttl)
		if e.ExpiresAt != nil {
			t.Fatalf("Expected no expiry for ttl %v", ttl)
		}
		if e.IsExpired() {
			t.Fatalf("Entry without expiry must never expire")
		}
		if e.TTL() != 0 {
			t.Fatalf("Expected zero TTL, got %v", e.TTL())
		}
	}
}

func TestNewCopiesValue(t *testing.T) {
	value := []byte("abc")
	e := New(value, 0)
	value[0] = 'x'

	if string(e.Value) != "abc" {
		t.Fatalf("Entry must not alias the caller's slice, got %q", e.Value)
	}

	out := e.Bytes()
	out[0] = 'y'
	if string(e.Value) != "abc" {
		t.Fatalf("Bytes must return a copy, got %q", e.Value)
	}
}

func TestIsExpired(t *testing.T) {
	e := New([]byte("v"), 20*time.Millisecond)
	if e.IsExpired() {
		t.Fatal("Entry should not be expired yet")
	}

	time.Sleep(40 * time.Millisecond)
	if !e.IsExpired() {
		t.Fatal("Entry should be expired")
	}
	if e.TTL() != 0 {
		t.Fatalf("Expired entry should report zero TTL, got %v", e.TTL())
	}
}

func TestTTL(t *testing.T) {
	e := New([]byte("v"), time.Minute)
	ttl := e.TTL()
	if ttl <= 59*time.Second || ttl > time.Minute {
		t.Fatalf("Expected TTL close to 1m, got %v", ttl)
	}
}
