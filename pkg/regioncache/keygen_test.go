package regioncache

import (
	"strings"
	"testing"
)

func lookupUser(_ int) string {
	return "user"
}

func TestFunctionKey(t *testing.T) {
	if got := FunctionKey("", lookupUser, nil, 42); got != "regioncache.lookupUser|42" {
		t.Errorf("FunctionKey = %q", got)
	}
	if got := FunctionKey("ns", lookupUser, nil, 42); got != "ns:regioncache.lookupUser|42" {
		t.Errorf("FunctionKey with namespace = %q", got)
	}
	if got := FunctionKey("", lookupUser, nil, "a", 1, true); got != "regioncache.lookupUser|a 1 true" {
		t.Errorf("FunctionKey with several args = %q", got)
	}
}

func TestFunctionKeyMethodValue(t *testing.T) {
	s := &Stats{}
	name := functionName(s.Hits)
	if strings.HasSuffix(name, "-fm") || !strings.Contains(name, "Hits") {
		t.Errorf("Unexpected method value name %q", name)
	}
}

func TestSHA1Mangler(t *testing.T) {
	a := SHA1Mangler("some key")
	if len(a) != 40 {
		t.Errorf("Expected 40 hex characters, got %d", len(a))
	}
	if a != SHA1Mangler("some key") {
		t.Error("Mangling must be deterministic")
	}
	if a == SHA1Mangler("some other key") {
		t.Error("Different keys should mangle differently")
	}
}

func TestTypedKeyFunc(t *testing.T) {
	if TypedKeyFunc([]any{1}) == TypedKeyFunc([]any{"1"}) {
		t.Error("1 and \"1\" must produce different keys")
	}
	if DefaultKeyFunc([]any{1}) != DefaultKeyFunc([]any{"1"}) {
		t.Error("DefaultKeyFunc formats values only")
	}

	m1 := map[string]int{"a": 1, "b": 2, "c": 3}
	m2 := map[string]int{"c": 3, "b": 2, "a": 1}
	if TypedKeyFunc([]any{m1}) != TypedKeyFunc([]any{m2}) {
		t.Error("Map keys must be rendered in sorted order")
	}

	type query struct {
		Name   string
		Limit  int
		secret string
	}
	a := TypedKeyFunc([]any{query{Name: "x", Limit: 1, secret: "a"}})
	b := TypedKeyFunc([]any{query{Name: "x", Limit: 1, secret: "b"}})
	if a != b {
		t.Errorf("Unexported fields must not affect the key: %q vs %q", a, b)
	}

	var nilPtr *query
	if got := TypedKeyFunc([]any{nil, nilPtr}); got != "nil nil" {
		t.Errorf("Expected nil rendering, got %q", got)
	}
}
