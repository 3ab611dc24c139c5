package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetryExporter implements Exporter with OpenTelemetry instruments
type OpenTelemetryExporter struct {
	config *Config
	meter  metric.Meter
	ctx    context.Context

	operations        metric.Int64Counter
	operationDuration metric.Float64Histogram
	backendEvents     metric.Int64Counter
	poolEvents        metric.Int64Counter

	hitRate         metric.Float64Gauge
	inFlight        metric.Int64Gauge
	entries         metric.Int64Gauge
	poolConnections metric.Int64Gauge
	poolMaxSize     metric.Int64Gauge

	deltas deltas
}

// OpenTelemetryConfig holds OpenTelemetry-specific configuration
type OpenTelemetryConfig struct {
	// Meter is required
	Meter metric.Meter

	// Context is used for every measurement. Default: context.Background()
	Context context.Context
}

// NewOpenTelemetryExporter creates the region instruments on the given meter
func NewOpenTelemetryExporter(config *Config, otelConfig *OpenTelemetryConfig) (*OpenTelemetryExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if otelConfig == nil || otelConfig.Meter == nil {
		return nil, errors.New("OpenTelemetry meter is required")
	}

	ctx := otelConfig.Context
	if ctx == nil {
		ctx = context.Background()
	}

	o := &OpenTelemetryExporter{config: config, meter: otelConfig.Meter, ctx: ctx}
	if err := o.createInstruments(); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return o, nil
}

func (o *OpenTelemetryExporter) createInstruments() error {
	names := o.config.MetricNames
	var err error

	if o.operations, err = o.meter.Int64Counter(names.OperationsTotal,
		metric.WithDescription("Region operations by outcome"), metric.WithUnit("1")); err != nil {
		return err
	}
	if o.backendEvents, err = o.meter.Int64Counter(names.BackendEvents,
		metric.WithDescription("Backend retries, failures and evictions"), metric.WithUnit("1")); err != nil {
		return err
	}
	if o.poolEvents, err = o.meter.Int64Counter(names.PoolEvents,
		metric.WithDescription("Connection pool events"), metric.WithUnit("1")); err != nil {
		return err
	}

	if o.config.IncludeDetailedTimings {
		if o.operationDuration, err = o.meter.Float64Histogram(names.OperationDuration,
			metric.WithDescription("Region operation latency"), metric.WithUnit("s")); err != nil {
			return err
		}
	}

	if o.hitRate, err = o.meter.Float64Gauge(names.HitRate,
		metric.WithDescription("Hit rate as a percentage"), metric.WithUnit("%")); err != nil {
		return err
	}
	if o.inFlight, err = o.meter.Int64Gauge(names.InFlight,
		metric.WithDescription("Creator calls in flight"), metric.WithUnit("1")); err != nil {
		return err
	}
	if o.entries, err = o.meter.Int64Gauge(names.Entries,
		metric.WithDescription("Entries held by the backend, when known"), metric.WithUnit("1")); err != nil {
		return err
	}
	if o.poolConnections, err = o.meter.Int64Gauge(names.PoolConnections,
		metric.WithDescription("Pooled connections by state"), metric.WithUnit("1")); err != nil {
		return err
	}
	if o.poolMaxSize, err = o.meter.Int64Gauge(names.PoolMaxSize,
		metric.WithDescription("Connection pool capacity"), metric.WithUnit("1")); err != nil {
		return err
	}
	return nil
}

// RecordOperation counts one operation and records its latency
func (o *OpenTelemetryExporter) RecordOperation(op Operation, result Result, duration time.Duration, labels Labels) error {
	attrs := o.attributes(labels, attribute.String("operation", string(op)))

	o.operations.Add(o.ctx, 1, metric.WithAttributes(append(attrs, attribute.String("result", string(result)))...))
	if o.operationDuration != nil {
		o.operationDuration.Record(o.ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	return nil
}

// ExportSnapshot records gauges and adds counter deltas since the last export
func (o *OpenTelemetryExporter) ExportSnapshot(s Snapshot, labels Labels) error {
	region := labels["region"]
	base := metric.WithAttributes(o.attributes(labels)...)

	o.hitRate.Record(o.ctx, s.HitRate, base)
	o.inFlight.Record(o.ctx, s.InFlight, base)
	if s.Backend.Entries >= 0 {
		o.entries.Record(o.ctx, s.Backend.Entries, base)
	}

	for event, total := range s.Backend.events() {
		if d := o.deltas.next("backend|"+region+"|"+event, total); d > 0 {
			o.backendEvents.Add(o.ctx, d, metric.WithAttributes(o.attributes(labels, attribute.String("event", event))...))
		}
	}

	if s.Pool != nil {
		o.poolMaxSize.Record(o.ctx, int64(s.Pool.MaxSize), base)
		for state, n := range s.Pool.connections() {
			o.poolConnections.Record(o.ctx, int64(n), metric.WithAttributes(o.attributes(labels, attribute.String("state", state))...))
		}
		for event, total := range s.Pool.events() {
			if d := o.deltas.next("pool|"+region+"|"+event, total); d > 0 {
				o.poolEvents.Add(o.ctx, d, metric.WithAttributes(o.attributes(labels, attribute.String("event", event))...))
			}
		}
	}
	return nil
}

// Close is a no-op; the meter provider owns flushing
func (o *OpenTelemetryExporter) Close() error {
	return nil
}

func (o *OpenTelemetryExporter) attributes(labels Labels, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(o.config.Labels)+len(labels)+len(extra))
	for k, v := range o.config.Labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return append(attrs, extra...)
}

var _ Exporter = (*OpenTelemetryExporter)(nil)
