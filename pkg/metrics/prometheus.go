package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter implements Exporter with Prometheus collectors
type PrometheusExporter struct {
	config   *Config
	registry prometheus.Registerer

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	backendEvents     *prometheus.CounterVec
	poolEvents        *prometheus.CounterVec

	hitRate         *prometheus.GaugeVec
	inFlight        *prometheus.GaugeVec
	entries         *prometheus.GaugeVec
	poolConnections *prometheus.GaugeVec
	poolMaxSize     *prometheus.GaugeVec

	deltas deltas
}

// PrometheusConfig holds Prometheus-specific configuration
type PrometheusConfig struct {
	// Registry defaults to prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// DurationBuckets for the latency histogram
	DurationBuckets []float64
}

// NewPrometheusExporter creates and registers the region collectors
func NewPrometheusExporter(config *Config, promConfig *PrometheusConfig) (*PrometheusExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if promConfig == nil {
		promConfig = &PrometheusConfig{}
	}

	registry := promConfig.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	buckets := promConfig.DurationBuckets
	if buckets == nil {
		buckets = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	}

	p := &PrometheusExporter{config: config, registry: registry}
	if err := p.createMetrics(prometheus.Labels(config.Labels), buckets); err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return p, nil
}

func (p *PrometheusExporter) createMetrics(constLabels prometheus.Labels, buckets []float64) error {
	names := p.config.MetricNames
	var err error

	if p.operationsTotal, err = p.counterVec(names.OperationsTotal, "Region operations by outcome",
		constLabels, "region", "operation", "result"); err != nil {
		return err
	}
	if p.backendEvents, err = p.counterVec(names.BackendEvents, "Backend retries, failures and evictions",
		constLabels, "region", "event"); err != nil {
		return err
	}
	if p.poolEvents, err = p.counterVec(names.PoolEvents, "Connection pool events",
		constLabels, "region", "event"); err != nil {
		return err
	}

	if p.config.IncludeDetailedTimings {
		p.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        names.OperationDuration,
			Help:        "Region operation latency in seconds",
			ConstLabels: constLabels,
			Buckets:     buckets,
		}, []string{"region", "operation"})
		if err := p.registry.Register(p.operationDuration); err != nil {
			return err
		}
	}

	if p.hitRate, err = p.gaugeVec(names.HitRate, "Hit rate as a percentage", constLabels, "region"); err != nil {
		return err
	}
	if p.inFlight, err = p.gaugeVec(names.InFlight, "Creator calls in flight", constLabels, "region"); err != nil {
		return err
	}
	if p.entries, err = p.gaugeVec(names.Entries, "Entries held by the backend, when known", constLabels, "region"); err != nil {
		return err
	}
	if p.poolConnections, err = p.gaugeVec(names.PoolConnections, "Pooled connections by state",
		constLabels, "region", "state"); err != nil {
		return err
	}
	if p.poolMaxSize, err = p.gaugeVec(names.PoolMaxSize, "Connection pool capacity", constLabels, "region"); err != nil {
		return err
	}
	return nil
}

// RecordOperation counts one operation and observes its latency
func (p *PrometheusExporter) RecordOperation(op Operation, result Result, duration time.Duration, labels Labels) error {
	region := labels["region"]
	p.operationsTotal.WithLabelValues(region, string(op), string(result)).Inc()
	if p.operationDuration != nil {
		p.operationDuration.WithLabelValues(region, string(op)).Observe(duration.Seconds())
	}
	return nil
}

// ExportSnapshot sets gauges and adds counter deltas since the last export
func (p *PrometheusExporter) ExportSnapshot(s Snapshot, labels Labels) error {
	region := labels["region"]

	p.hitRate.WithLabelValues(region).Set(s.HitRate)
	p.inFlight.WithLabelValues(region).Set(float64(s.InFlight))
	if s.Backend.Entries >= 0 {
		p.entries.WithLabelValues(region).Set(float64(s.Backend.Entries))
	}

	for event, total := range s.Backend.events() {
		if d := p.deltas.next("backend|"+region+"|"+event, total); d > 0 {
			p.backendEvents.WithLabelValues(region, event).Add(float64(d))
		}
	}

	if s.Pool != nil {
		p.poolMaxSize.WithLabelValues(region).Set(float64(s.Pool.MaxSize))
		for state, n := range s.Pool.connections() {
			p.poolConnections.WithLabelValues(region, state).Set(float64(n))
		}
		for event, total := range s.Pool.events() {
			if d := p.deltas.next("pool|"+region+"|"+event, total); d > 0 {
				p.poolEvents.WithLabelValues(region, event).Add(float64(d))
			}
		}
	}
	return nil
}

// Close is a no-op; collectors stay registered for a final scrape
func (p *PrometheusExporter) Close() error {
	return nil
}

func (p *PrometheusExporter) counterVec(name, help string, constLabels prometheus.Labels, labelNames ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, labelNames)

	if err := p.registry.Register(counter); err != nil {
		return nil, err
	}
	return counter, nil
}

func (p *PrometheusExporter) gaugeVec(name, help string, constLabels prometheus.Labels, labelNames ...string) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, labelNames)

	if err := p.registry.Register(gauge); err != nil {
		return nil, err
	}
	return gauge, nil
}

var _ Exporter = (*PrometheusExporter)(nil)
