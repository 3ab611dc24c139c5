package regioncache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/regioncache-go/pkg/metrics"
)

func TestRegionPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	exporter, err := metrics.NewPrometheusExporter(metrics.NewDefaultConfig(), &metrics.PrometheusConfig{Registry: registry})
	if err != nil {
		t.Fatalf("Failed to create exporter: %v", err)
	}

	r := newTestRegion(t, NewDefaultConfig().WithName("users").WithMetrics(&MetricsConfig{
		Exporter: exporter,
		Enabled:  true,
	}))

	ctx := context.Background()
	_ = r.Set(ctx, "a", 1, 0)
	_, _ = r.Get(ctx, "a", nil)
	_, _ = r.Get(ctx, "b", nil)

	if n, err := testutil.GatherAndCount(registry, "regioncache_operations_total"); err != nil || n != 3 {
		t.Errorf("Expected 3 operation series, got %d (%v)", n, err)
	}

	r.ExportMetrics()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var hitRate float64 = -1
	for _, mf := range families {
		if mf.GetName() != "regioncache_hit_rate" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "region" && lp.GetValue() == "users" {
					hitRate = m.GetGauge().GetValue()
				}
			}
		}
	}
	if hitRate != 50 {
		t.Errorf("Expected hit rate 50 for region users, got %v", hitRate)
	}
}

type countingExporter struct {
	mu        sync.Mutex
	snapshots int
	ops       int
	closed    bool
}

func (c *countingExporter) RecordOperation(metrics.Operation, metrics.Result, time.Duration, metrics.Labels) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops++
	return nil
}

func (c *countingExporter) ExportSnapshot(metrics.Snapshot, metrics.Labels) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots++
	return nil
}

func (c *countingExporter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestRegionMetricsReporter(t *testing.T) {
	exporter := &countingExporter{}
	r, err := New(NewDefaultConfig().WithMetrics(&MetricsConfig{
		Exporter:          exporter,
		Enabled:           true,
		ReportingInterval: 10 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("Failed to create region: %v", err)
	}

	_, _ = r.Get(context.Background(), "k", nil)
	time.Sleep(50 * time.Millisecond)

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	if exporter.snapshots < 2 {
		t.Errorf("Expected periodic and final snapshots, got %d", exporter.snapshots)
	}
	if exporter.ops != 1 {
		t.Errorf("Expected 1 recorded operation, got %d", exporter.ops)
	}
	if !exporter.closed {
		t.Error("Expected the exporter to be closed with the region")
	}
}
