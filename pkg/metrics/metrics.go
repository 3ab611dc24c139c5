// Package metrics exports region, backend and pool statistics to Prometheus
// or OpenTelemetry.
//
// Operations are counted as they happen through RecordOperation. Snapshots
// passed to ExportSnapshot update gauges; their cumulative counters are
// converted to deltas so repeated exports never double count.
package metrics

import (
	"sync"
	"time"
)

// Exporter publishes cache metrics to an observability system
type Exporter interface {
	// RecordOperation counts one region operation with its outcome and latency
	RecordOperation(op Operation, result Result, duration time.Duration, labels Labels) error

	// ExportSnapshot publishes a point-in-time view of a region
	ExportSnapshot(s Snapshot, labels Labels) error

	// Close flushes pending metrics
	Close() error
}

// Labels are key-value metric labels. The "region" label names the region.
type Labels map[string]string

// Operation is a region operation
type Operation string

const (
	OperationGet         Operation = "get"
	OperationGetMulti    Operation = "get_multi"
	OperationSet         Operation = "set"
	OperationSetMulti    Operation = "set_multi"
	OperationDelete      Operation = "delete"
	OperationDeleteMulti Operation = "delete_multi"
	OperationIncr        Operation = "incr"
	OperationGetOrCreate Operation = "get_or_create"
)

// Result is the outcome of an operation
type Result string

const (
	ResultHit   Result = "hit"
	ResultMiss  Result = "miss"
	ResultOK    Result = "ok"
	ResultError Result = "error"
)

// Snapshot is a point-in-time view of a region and what sits under it
type Snapshot struct {
	Hits     int64
	Misses   int64
	Errors   int64
	InFlight int64
	HitRate  float64

	Backend BackendStats

	// Pool is nil for backends without a connection pool
	Pool *PoolStats
}

// BackendStats mirrors the counters a backend reports
type BackendStats struct {
	Entries           int64
	Retries           int64
	TransportFailures int64
	RequestErrors     int64
	Unavailable       int64
	Evictions         int64
}

// PoolStats mirrors a connection pool snapshot
type PoolStats struct {
	MaxSize int
	Open    int
	Idle    int
	InUse   int
	Opening int

	Acquired     int64
	Waited       int64
	Exhausted    int64
	Dialed       int64
	DialFailures int64
	Invalidated  int64
	Reaped       int64
}

// events returns the cumulative backend counters by event name
func (b BackendStats) events() map[string]int64 {
	return map[string]int64{
		"retry":             b.Retries,
		"transport_failure": b.TransportFailures,
		"request_error":     b.RequestErrors,
		"unavailable":       b.Unavailable,
		"eviction":          b.Evictions,
	}
}

// events returns the cumulative pool counters by event name
func (p PoolStats) events() map[string]int64 {
	return map[string]int64{
		"acquired":     p.Acquired,
		"waited":       p.Waited,
		"exhausted":    p.Exhausted,
		"dialed":       p.Dialed,
		"dial_failure": p.DialFailures,
		"invalidated":  p.Invalidated,
		"reaped":       p.Reaped,
	}
}

// connections returns the pool gauges by connection state
func (p PoolStats) connections() map[string]int {
	return map[string]int{
		"open":    p.Open,
		"idle":    p.Idle,
		"in_use":  p.InUse,
		"opening": p.Opening,
	}
}

// MetricNames are the metric names used by every exporter
type MetricNames struct {
	OperationsTotal   string
	OperationDuration string
	HitRate           string
	InFlight          string
	Entries           string
	BackendEvents     string
	PoolConnections   string
	PoolMaxSize       string
	PoolEvents        string
}

// DefaultMetricNames returns the metric names under namespace
func DefaultMetricNames(namespace string) MetricNames {
	if namespace == "" {
		namespace = "regioncache"
	}
	return MetricNames{
		OperationsTotal:   namespace + "_operations_total",
		OperationDuration: namespace + "_operation_duration_seconds",
		HitRate:           namespace + "_hit_rate",
		InFlight:          namespace + "_inflight_requests",
		Entries:           namespace + "_entries",
		BackendEvents:     namespace + "_backend_events_total",
		PoolConnections:   namespace + "_pool_connections",
		PoolMaxSize:       namespace + "_pool_max_size",
		PoolEvents:        namespace + "_pool_events_total",
	}
}

// Config holds exporter configuration
type Config struct {
	Enabled bool

	// Namespace prefixes every metric name
	Namespace string

	// Labels are applied to every metric
	Labels Labels

	MetricNames MetricNames

	// ReportingInterval is how often a region exports its snapshot
	ReportingInterval time.Duration

	// IncludeDetailedTimings enables the operation latency histogram
	IncludeDetailedTimings bool
}

// NewDefaultConfig creates a default metrics configuration
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:           true,
		Namespace:         "regioncache",
		Labels:            make(Labels),
		MetricNames:       DefaultMetricNames("regioncache"),
		ReportingInterval: 30 * time.Second,
	}
}

// WithNamespace sets the namespace and renames every metric under it
func (c *Config) WithNamespace(namespace string) *Config {
	c.Namespace = namespace
	c.MetricNames = DefaultMetricNames(namespace)
	return c
}

// WithLabels adds labels applied to all metrics
func (c *Config) WithLabels(labels Labels) *Config {
	if c.Labels == nil {
		c.Labels = make(Labels)
	}
	for k, v := range labels {
		c.Labels[k] = v
	}
	return c
}

// WithReportingInterval sets how often snapshots are exported
func (c *Config) WithReportingInterval(interval time.Duration) *Config {
	c.ReportingInterval = interval
	return c
}

// WithDetailedTimings enables the latency histogram
func (c *Config) WithDetailedTimings(enabled bool) *Config {
	c.IncludeDetailedTimings = enabled
	return c
}

// deltas turns cumulative counters into increments. A value lower than the
// last one seen means the source restarted and counts in full.
type deltas struct {
	mu   sync.Mutex
	last map[string]int64
}

func (d *deltas) next(key string, current int64) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last == nil {
		d.last = make(map[string]int64)
	}
	prev, seen := d.last[key]
	d.last[key] = current
	if !seen || current < prev {
		return current
	}
	return current - prev
}

// MultiExporter fans out to several exporters
type MultiExporter struct {
	exporters []Exporter
}

// NewMultiExporter creates an exporter that writes to every given exporter
func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

func (m *MultiExporter) RecordOperation(op Operation, result Result, duration time.Duration, labels Labels) error {
	for _, exporter := range m.exporters {
		if err := exporter.RecordOperation(op, result, duration, labels); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiExporter) ExportSnapshot(s Snapshot, labels Labels) error {
	for _, exporter := range m.exporters {
		if err := exporter.ExportSnapshot(s, labels); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiExporter) Close() error {
	for _, exporter := range m.exporters {
		if err := exporter.Close(); err != nil {
			return err
		}
	}
	return nil
}

// NoOpExporter discards everything
type NoOpExporter struct{}

// NewNoOpExporter creates a no-op exporter
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (n *NoOpExporter) RecordOperation(Operation, Result, time.Duration, Labels) error { return nil }
func (n *NoOpExporter) ExportSnapshot(Snapshot, Labels) error                          { return nil }
func (n *NoOpExporter) Close() error                                                   { return nil }

var (
	_ Exporter = (*MultiExporter)(nil)
	_ Exporter = (*NoOpExporter)(nil)
)
