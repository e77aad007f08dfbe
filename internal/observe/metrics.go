// Package observe provides application-wide observability primitives for
// hearken: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hearken metrics.
const meterName = "github.com/MrWong99/hearken"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Recognizer ---

	// Results counts session results produced by the detect worker. Use with
	// attribute.String("outcome", "enqueued"|"dropped").
	Results metric.Int64Counter

	// Events counts events delivered to the event handler. Use with
	// attribute.String("kind", ...).
	Events metric.Int64Counter

	// FetchFailures counts failed front-end fetches.
	FetchFailures metric.Int64Counter

	// FillFailures counts failed audio source reads.
	FillFailures metric.Int64Counter

	// ModeTransitions counts mode changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	ModeTransitions metric.Int64Counter

	// CallbackDuration tracks how long the event handler takes per event.
	CallbackDuration metric.Float64Histogram

	// ActiveSessions tracks the number of set-up recognizer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Providers ---

	// TranscribeDuration tracks speech-to-text latency of the reference
	// engines.
	TranscribeDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Application ---

	// EventSubscribers tracks connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// ConfigReloads counts configuration reloads. Use with
	// attribute.String("status", "applied"|"restarted"|"failed"|"invalid").
	ConfigReloads metric.Int64Counter

	// HTTPRequestDuration tracks control server latency by method, route
	// pattern and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callbackBuckets are finer: event handlers are expected to return within a
// few milliseconds.
var callbackBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates every instrument on mp. The first instrument that fails
// to register aborts construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	met := &Metrics{
		Results:          b.counter("hearken.recognizer.results", "Session results by queue outcome."),
		Events:           b.counter("hearken.recognizer.events", "Events delivered to the event handler by kind."),
		FetchFailures:    b.counter("hearken.recognizer.fetch_failures", "Failed front-end fetches."),
		FillFailures:     b.counter("hearken.recognizer.fill_failures", "Failed audio source reads."),
		ModeTransitions:  b.counter("hearken.recognizer.mode_transitions", "Recognizer mode changes by source and target mode."),
		CallbackDuration: b.seconds("hearken.recognizer.callback.duration", "Time spent in the event handler per event.", callbackBuckets),
		ActiveSessions:   b.gauge("hearken.recognizer.active_sessions", "Number of set-up recognizer sessions."),

		TranscribeDuration: b.seconds("hearken.transcribe.duration", "Latency of speech-to-text transcription by provider.", latencyBuckets),
		ProviderErrors:     b.counter("hearken.provider.errors", "Provider errors by provider and kind."),

		EventSubscribers:    b.gauge("hearken.events.subscribers", "Number of connected event stream clients."),
		ConfigReloads:       b.counter("hearken.config.reloads", "Configuration reloads by status."),
		HTTPRequestDuration: b.seconds("hearken.http.request.duration", "HTTP request latency by method, route and status.", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// instruments registers instruments on one meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return g
}

// seconds registers a latency histogram. Nil buckets use the SDK defaults.
func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.keep(name, err)
	return h
}

func (b *instruments) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordResult counts one session result with the given queue outcome.
func (m *Metrics) RecordResult(ctx context.Context, outcome string) {
	m.Results.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEvent counts one delivered event of the given kind.
func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordModeTransition counts a mode change.
func (m *Metrics) RecordModeTransition(ctx context.Context, from, to string) {
	m.ModeTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordConfigReload counts a configuration reload with the given status.
func (m *Metrics) RecordConfigReload(ctx context.Context, status string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
