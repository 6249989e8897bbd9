// Package observe provides application-wide observability primitives for
// wavetap: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all wavetap metrics.
const meterName = "github.com/wavetap/wavetap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ResolveDuration tracks URL resolution latency (the extractor call).
	ResolveDuration metric.Float64Histogram

	// TranscodeStartup tracks time from opening a transcode stream to its
	// first byte.
	TranscodeStartup metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// Resolutions counts resolver calls. Use with attribute:
	//   attribute.String("status", "ok" | <error kind>)
	Resolutions metric.Int64Counter

	// StreamedBytes counts transcoded audio bytes delivered to clients.
	StreamedBytes metric.Int64Counter

	// AmplitudeSamples counts amplitude samples delivered to live channels.
	AmplitudeSamples metric.Int64Counter

	// AmplitudeDropped counts amplitude samples dropped because the live
	// channel consumer was too slow.
	AmplitudeDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live stream sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of running transcoder processes.
	ActiveStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for resolution and transcode-startup latencies, which sit in the seconds
// range rather than milliseconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("wavetap.resolve.duration",
		metric.WithDescription("Latency of URL resolution via the external extractor."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeStartup, err = m.Float64Histogram("wavetap.transcode.startup.duration",
		metric.WithDescription("Time from stream open to first transcoded byte."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("wavetap.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Resolutions, err = m.Int64Counter("wavetap.resolutions",
		metric.WithDescription("Total resolver calls by status."),
	); err != nil {
		return nil, err
	}
	if met.StreamedBytes, err = m.Int64Counter("wavetap.stream.bytes",
		metric.WithDescription("Total transcoded audio bytes delivered to clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AmplitudeSamples, err = m.Int64Counter("wavetap.amplitude.samples",
		metric.WithDescription("Total amplitude samples delivered to live channels."),
	); err != nil {
		return nil, err
	}
	if met.AmplitudeDropped, err = m.Int64Counter("wavetap.amplitude.dropped",
		metric.WithDescription("Total amplitude samples dropped due to slow consumers."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("wavetap.active_sessions",
		metric.WithDescription("Number of live stream sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("wavetap.active_streams",
		metric.WithDescription("Number of running transcoder processes."),
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

// RecordResolution is a convenience method that records one resolver call
// with its outcome status ("ok" or an error kind).
func (m *Metrics) RecordResolution(ctx context.Context, status string) {
	m.Resolutions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
