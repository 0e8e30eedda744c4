// Package observe provides application-wide observability primitives for
// Quill: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Quill metrics.
const meterName = "github.com/quillvoice/quill"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	STTDuration metric.Float64Histogram

	// WindowDuration tracks the audio span (in seconds) submitted per
	// inference cycle. Growing values indicate the sliding window is not
	// being advanced by commits.
	WindowDuration metric.Float64Histogram

	// --- Counters ---

	// InferenceCycles counts transcription passes over the rolling window.
	// Use with attribute:
	//   attribute.String("status", ...)
	InferenceCycles metric.Int64Counter

	// CommittedWords counts words promoted to the stable transcript.
	CommittedWords metric.Int64Counter

	// VocabCorrections counts custom-vocabulary substitutions applied to
	// committed text.
	VocabCorrections metric.Int64Counter

	// Utterances counts completed speech segments (speech start to end).
	Utterances metric.Int64Counter

	// --- Error counters ---

	// RecognizerErrors counts transcription failures. Use with attribute:
	//   attribute.String("backend", ...)
	RecognizerErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dictation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-dictation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// windowBuckets defines histogram bucket boundaries (in seconds) for the
// inference window span, which is bounded by the session's window cap.
var windowBuckets = []float64{
	0.5, 1, 2, 5, 10, 15, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("quill.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WindowDuration, err = m.Float64Histogram("quill.window.duration",
		metric.WithDescription("Audio span submitted per inference cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(windowBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.InferenceCycles, err = m.Int64Counter("quill.inference.cycles",
		metric.WithDescription("Total transcription passes over the rolling window by status."),
	); err != nil {
		return nil, err
	}
	if met.CommittedWords, err = m.Int64Counter("quill.transcript.committed_words",
		metric.WithDescription("Total words promoted to the stable transcript."),
	); err != nil {
		return nil, err
	}
	if met.VocabCorrections, err = m.Int64Counter("quill.transcript.vocab_corrections",
		metric.WithDescription("Total custom-vocabulary substitutions applied."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("quill.utterances",
		metric.WithDescription("Total completed speech segments."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognizerErrors, err = m.Int64Counter("quill.recognizer.errors",
		metric.WithDescription("Total transcription failures by backend."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("quill.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions by backend and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("quill.active_sessions",
		metric.WithDescription("Number of live dictation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("quill.http.request.duration",
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

// RecordSTT is a convenience method that records one transcription call: its
// latency and an inference-cycle increment with the standard attribute set.
func (m *Metrics) RecordSTT(ctx context.Context, backend, status string, seconds float64) {
	m.STTDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
	m.InferenceCycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCommit is a convenience method that records words promoted to the
// stable transcript.
func (m *Metrics) RecordCommit(ctx context.Context, words int) {
	if words <= 0 {
		return
	}
	m.CommittedWords.Add(ctx, int64(words))
}

// RecordVocabCorrections is a convenience method that records applied
// custom-vocabulary substitutions.
func (m *Metrics) RecordVocabCorrections(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.VocabCorrections.Add(ctx, int64(n))
}

// RecordUtterance is a convenience method that records one completed speech
// segment.
func (m *Metrics) RecordUtterance(ctx context.Context) {
	m.Utterances.Add(ctx, 1)
}

// RecordRecognizerError is a convenience method that records a transcription
// failure.
func (m *Metrics) RecordRecognizerError(ctx context.Context, backend string) {
	m.RecognizerErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordBreakerTransition is a convenience method that records one circuit
// breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("to", to),
		),
	)
}
