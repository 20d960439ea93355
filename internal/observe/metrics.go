// Package observe provides application-wide observability primitives for
// Correctify: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Correctify metrics.
const meterName = "github.com/MrWong99/correctify"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// CorrectionDuration tracks wall-clock time of one provider call. Use
	// with attributes provider, model, status.
	CorrectionDuration metric.Float64Histogram

	// Corrections counts finished correction attempts. Use with attributes
	// provider, source, status.
	Corrections metric.Int64Counter

	// ProviderErrors counts failed attempts. Use with attributes provider,
	// kind (config, provider, empty, circuit_open).
	ProviderErrors metric.Int64Counter

	// HotkeyCaptures counts clipboard captures received from the native
	// host. Use with attribute outcome.
	HotkeyCaptures metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes tool, status.
	ToolCalls metric.Int64Counter

	// BridgeConnected is 1 while a native host is connected, else 0.
	BridgeConnected metric.Int64UpDownCounter

	// CorrectionsInFlight tracks corrections currently waiting on a provider.
	CorrectionsInFlight metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round-trips, which run from a few hundred milliseconds up to the 30s
// gateway timeout.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CorrectionDuration, err = m.Float64Histogram("correctify.correction.duration",
		metric.WithDescription("Latency of one provider correction call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Corrections, err = m.Int64Counter("correctify.corrections",
		metric.WithDescription("Correction attempts by provider, source and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("correctify.provider.errors",
		metric.WithDescription("Failed correction attempts by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HotkeyCaptures, err = m.Int64Counter("correctify.hotkey.captures",
		metric.WithDescription("Clipboard captures received from the native host by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("correctify.tool.calls",
		metric.WithDescription("MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.BridgeConnected, err = m.Int64UpDownCounter("correctify.bridge.connected",
		metric.WithDescription("Whether a native host is connected (0 or 1)."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionsInFlight, err = m.Int64UpDownCounter("correctify.corrections.in_flight",
		metric.WithDescription("Corrections currently waiting on a provider."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("correctify.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCorrection records one finished attempt: the counter always, the
// latency histogram only when a provider was actually called (seconds > 0).
func (m *Metrics) RecordCorrection(ctx context.Context, provider, model, source, status string, seconds float64) {
	m.Corrections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
	if seconds > 0 {
		m.CorrectionDuration.Record(ctx, seconds,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("model", model),
				attribute.String("status", status),
			),
		)
	}
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordHotkeyCapture records one capture with its outcome
// (delivered, failed, missing_key, key_error, deduped).
func (m *Metrics) RecordHotkeyCapture(ctx context.Context, outcome string) {
	m.HotkeyCaptures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordToolCall records a tool call counter increment.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
