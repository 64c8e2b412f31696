// Package observe provides application-wide observability primitives for
// Cadence: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Cadence metrics.
const meterName = "github.com/MrWong99/cadence"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ─── Latency histograms ───

	// STTDuration tracks how long a streaming recognition session stayed open.
	STTDuration metric.Float64Histogram

	// TranscriptionDuration tracks fallback transcription of a recorded clip.
	TranscriptionDuration metric.Float64Histogram

	// GenerationDuration tracks coach-response generation latency.
	GenerationDuration metric.Float64Histogram

	// TTSDuration tracks speaking time of one utterance, synthesis included.
	TTSDuration metric.Float64Histogram

	// TurnLatency tracks the time from a settled utterance to the start of
	// the spoken reply.
	TurnLatency metric.Float64Histogram

	// ─── Counters ───

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// TurnTransitions counts coordinator state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TurnTransitions metric.Int64Counter

	// VoiceErrors counts errors reported by voice sessions, labelled with
	// attribute.String("kind", ...) and attribute.Bool("terminal", ...).
	VoiceErrors metric.Int64Counter

	// DroppedUtterances counts speak requests rejected because another
	// utterance was still playing.
	DroppedUtterances metric.Int64Counter

	// RecognitionRestarts counts automatic recognition restarts.
	RecognitionRestarts metric.Int64Counter

	// ─── Gauges ───

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ─── HTTP middleware ───

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "cadence.stt.duration", "Duration of streaming recognition sessions."},
		{&met.TranscriptionDuration, "cadence.transcription.duration", "Latency of recorded clip transcription."},
		{&met.GenerationDuration, "cadence.generation.duration", "Latency of coach-response generation."},
		{&met.TTSDuration, "cadence.tts.duration", "Duration of spoken utterances including synthesis."},
		{&met.TurnLatency, "cadence.turn.latency", "Time from settled utterance to spoken reply."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "cadence.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "cadence.provider.errors", "Total provider errors by provider and kind."},
		{&met.TurnTransitions, "cadence.turn.transitions", "Coordinator state transitions."},
		{&met.VoiceErrors, "cadence.voice.errors", "Errors reported to voice sessions by kind."},
		{&met.DroppedUtterances, "cadence.playback.dropped", "Speak requests dropped while busy."},
		{&met.RecognitionRestarts, "cadence.capture.restarts", "Automatic recognition restarts."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadence.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cadence.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition records a coordinator state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordVoiceError records an error surfaced to a voice session.
func (m *Metrics) RecordVoiceError(ctx context.Context, kind string, terminal bool) {
	m.VoiceErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("terminal", terminal),
		),
	)
}
