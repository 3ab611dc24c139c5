package regioncache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vnykmshr/regioncache-go/pkg/codec"
	"github.com/vnykmshr/regioncache-go/pkg/logging"
)

func TestDebugHandler(t *testing.T) {
	ctx := context.Background()
	r := newTestRegion(t, NewDefaultConfig().WithName("sessions").WithNamespace("s:"))

	_ = r.Set(ctx, "a", 1, 0)
	_, _ = r.Get(ctx, "a", nil)
	_, _ = r.Get(ctx, "b", nil)

	handler := r.DebugHandler()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var resp DebugResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Region != "sessions" {
		t.Errorf("Expected region sessions, got %q", resp.Region)
	}
	if resp.Stats.Hits != 1 || resp.Stats.Misses != 1 || resp.Stats.Sets != 1 {
		t.Errorf("Unexpected stats %+v", resp.Stats)
	}
	if resp.Backend.Name != "memory" || resp.Backend.Entries != 1 {
		t.Errorf("Unexpected backend stats %+v", resp.Backend)
	}
	if resp.Config != nil {
		t.Error("/stats must not include the configuration")
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	resp = DebugResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Config == nil || resp.Config.Namespace != "s:" || resp.Config.Codec != "msgpack" || !resp.Config.Mangled {
		t.Errorf("Unexpected config %+v", resp.Config)
	}
}

func TestDebugHandlerRedisHidesCredentials(t *testing.T) {
	r := &Region{
		config: NewRedisConfig("cache:6379").WithRedisAuth("svc", "hunter2"),
		stats:  &Stats{},
	}
	c, err := codec.ByName("")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	r.codec = c

	dc := r.debugConfig()
	if dc.Redis == nil || dc.Redis.Addrs[0] != "cache:6379" {
		t.Fatalf("Expected redis section, got %+v", dc.Redis)
	}
	data, err := json.Marshal(dc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "hunter2") || strings.Contains(string(data), "svc") {
		t.Errorf("Debug config leaks credentials: %s", data)
	}
}

func TestDebugHandlerMethodNotAllowed(t *testing.T) {
	r := newTestRegion(t, nil)

	w := httptest.NewRecorder()
	r.DebugHandler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stats", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestNewDebugServer(t *testing.T) {
	r := newTestRegion(t, nil)

	srv := r.NewDebugServer(":0")
	if srv.Addr != ":0" || srv.ReadHeaderTimeout == 0 {
		t.Errorf("Unexpected server %+v", srv)
	}

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 from /config, got %d", w.Code)
	}
}

func TestDebugBackendLogsCalls(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	config := NewDefaultConfig().
		WithDebug(true).
		WithLogger(logging.NewZapLogger(zap.New(core)))
	r := newTestRegion(t, config)

	ctx := context.Background()
	_ = r.Set(ctx, "k", "v", 0)
	_, _ = r.Get(ctx, "k", nil)
	_ = r.Delete(ctx, "k")
	_, _ = r.Incr(ctx, "n", 1)

	for _, msg := range []string{"CACHE_SET", "CACHE_GET", "CACHE_DELETE", "CACHE_INCR"} {
		entries := logs.FilterMessage(msg).All()
		if len(entries) != 1 {
			t.Errorf("Expected one %s entry, got %d", msg, len(entries))
			continue
		}
		if entries[0].ContextMap()["region"] != "default" {
			t.Errorf("%s entry missing region field: %v", msg, entries[0].ContextMap())
		}
	}

	got := logs.FilterMessage("CACHE_GET").All()
	if len(got) == 1 && got[0].ContextMap()["found"] != true {
		t.Errorf("Expected found=true, got %v", got[0].ContextMap())
	}
}
