// Package observe provides application-wide observability primitives for
// VeriWave: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VeriWave metrics.
const meterName = "github.com/veriwave/veriwave"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// DetectionDuration tracks backend classification latency per window.
	// Use with attribute: attribute.String("backend", ...)
	DetectionDuration metric.Float64Histogram

	// MessagesReceived counts inbound WebSocket messages. Use with attribute:
	//   attribute.String("kind", ...)
	MessagesReceived metric.Int64Counter

	// DetectionsTotal counts completed classifications. Use with attributes:
	//   attribute.String("label", ...), attribute.String("status", ...)
	DetectionsTotal metric.Int64Counter

	// WindowsEmitted counts analysis windows produced across all connections.
	WindowsEmitted metric.Int64Counter

	// DecodeErrors counts audio payloads that failed to decode. Use with
	// attribute: attribute.String("reason", ...)
	DecodeErrors metric.Int64Counter

	// ProtocolViolations counts messages rejected by the session state
	// machine. Use with attribute: attribute.String("reason", ...)
	ProtocolViolations metric.Int64Counter

	// ActiveConnections tracks the number of registered client sessions.
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DetectionDuration, err = m.Float64Histogram("veriwave.detection.duration",
		metric.WithDescription("Latency of backend classification per window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.MessagesReceived, err = m.Int64Counter("veriwave.messages.received",
		metric.WithDescription("Total inbound WebSocket messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.DetectionsTotal, err = m.Int64Counter("veriwave.detections.total",
		metric.WithDescription("Total completed classifications by label and status."),
	); err != nil {
		return nil, err
	}
	if met.WindowsEmitted, err = m.Int64Counter("veriwave.windows.emitted",
		metric.WithDescription("Total analysis windows produced across all connections."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("veriwave.decode.errors",
		metric.WithDescription("Total audio payloads that failed to decode, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolViolations, err = m.Int64Counter("veriwave.protocol.violations",
		metric.WithDescription("Total messages rejected by the session state machine, by reason."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("veriwave.active_connections",
		metric.WithDescription("Number of registered client sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("veriwave.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMessage records an inbound message counter increment by kind.
func (m *Metrics) RecordMessage(ctx context.Context, kind string) {
	m.MessagesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDetection records a completed classification with its label and
// status, plus the backend latency.
func (m *Metrics) RecordDetection(ctx context.Context, backend, label, status string, seconds float64) {
	m.DetectionsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("label", label),
			attribute.String("status", status),
		),
	)
	m.DetectionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordDecodeError records a failed payload decode by reason.
func (m *Metrics) RecordDecodeError(ctx context.Context, reason string) {
	m.DecodeErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProtocolViolation records a message rejected by the state machine.
func (m *Metrics) RecordProtocolViolation(ctx context.Context, reason string) {
	m.ProtocolViolations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
