package regioncache

import (
	"time"

	"github.com/vnykmshr/regioncache-go/pkg/logging"
	"github.com/vnykmshr/regioncache-go/pkg/metrics"
)

// initializeMetrics sets up metrics collection if enabled
func (r *Region) initializeMetrics(name string) {
	mc := r.config.Metrics
	if mc == nil || !mc.Enabled || mc.Exporter == nil {
		return
	}

	r.metricsExporter = mc.Exporter
	r.metricsLabels = make(metrics.Labels, len(mc.Labels)+1)
	for k, v := range mc.Labels {
		r.metricsLabels[k] = v
	}
	r.metricsLabels["region"] = name

	if mc.ReportingInterval > 0 {
		r.metricsStop = make(chan struct{})
		r.metricsWg.Add(1)
		go r.metricsReporter(mc.ReportingInterval)
	}
}

// metricsReporter periodically exports region snapshots
func (r *Region) metricsReporter(interval time.Duration) {
	defer r.metricsWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ExportMetrics()
		case <-r.metricsStop:
			// final export before shutting down
			r.ExportMetrics()
			return
		}
	}
}

// ExportMetrics pushes the current snapshot to the configured exporter
func (r *Region) ExportMetrics() {
	if r.metricsExporter == nil {
		return
	}
	if err := r.metricsExporter.ExportSnapshot(r.snapshot(), r.metricsLabels); err != nil {
		r.log.Warn("regioncache: exporting metrics", logging.Err(err))
	}
}

func (r *Region) snapshot() metrics.Snapshot {
	b := r.BackendStats()
	s := metrics.Snapshot{
		Hits:     r.stats.Hits(),
		Misses:   r.stats.Misses(),
		Errors:   r.stats.Errors(),
		InFlight: r.stats.InFlight(),
		HitRate:  r.stats.HitRate(),
		Backend: metrics.BackendStats{
			Entries:           b.Entries,
			Retries:           b.Retries,
			TransportFailures: b.TransportFailures,
			RequestErrors:     b.RequestErrors,
			Unavailable:       b.Unavailable,
			Evictions:         b.Evictions,
		},
	}

	if p, ok := r.PoolStats(); ok {
		s.Pool = &metrics.PoolStats{
			MaxSize:      p.MaxSize,
			Open:         p.Open,
			Idle:         p.Idle,
			InUse:        p.InUse,
			Opening:      p.Opening,
			Acquired:     p.Acquired,
			Waited:       p.Waited,
			Exhausted:    p.Exhausted,
			Dialed:       p.Dialed,
			DialFailures: p.DialFailures,
			Invalidated:  p.Invalidated,
			Reaped:       p.Reaped,
		}
	}
	return s
}

// record counts one operation with the exporter
func (r *Region) record(op metrics.Operation, result metrics.Result, start time.Time) {
	if r.metricsExporter == nil {
		return
	}
	_ = r.metricsExporter.RecordOperation(op, result, time.Since(start), r.metricsLabels) //nolint:errcheck // exporter errors are not operation errors
}
