// Package observe provides application-wide observability primitives for
// phonoxa: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all phonoxa metrics.
const meterName = "github.com/MrWong99/phonoxa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks blocking speech-to-text latency.
	STTDuration metric.Float64Histogram

	// LLMFirstToken tracks the time from request to the first LLM token.
	LLMFirstToken metric.Float64Histogram

	// TTSFirstAudio tracks the time from synthesis request to the first
	// audio chunk.
	TTSFirstAudio metric.Float64Histogram

	// ResponseLatency tracks the time from end of caller speech to the first
	// agent audio sent on the line.
	ResponseLatency metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Utterances counts segmented caller utterances. Use with attribute:
	//   attribute.String("outcome", "complete"|"discarded"|"filler")
	Utterances metric.Int64Counter

	// Interrupts counts validated barge-ins. Use with attribute:
	//   attribute.String("agent_id", ...)
	Interrupts metric.Int64Counter

	// SpeculativeResults counts whether a speculative transcript could be
	// used. Use with attribute: attribute.String("result", "hit"|"miss")
	SpeculativeResults metric.Int64Counter

	// WatchdogActions counts inactivity prompts and forced hangups. Use with
	// attribute: attribute.String("action", ...)
	WatchdogActions metric.Int64Counter

	// CircuitTransitions counts provider circuit breaker state changes. Use
	// with attributes: attribute.String("provider", ...),
	// attribute.String("kind", ...), attribute.String("to", ...)
	CircuitTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// mux route and status. Media streams are recorded when they close.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.STTDuration, err = histogram("phonoxa.stt.duration", "Latency of blocking speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMFirstToken, err = histogram("phonoxa.llm.first_token", "Latency until the first LLM token."); err != nil {
		return nil, err
	}
	if met.TTSFirstAudio, err = histogram("phonoxa.tts.first_audio", "Latency until the first synthesized audio chunk."); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = histogram("phonoxa.response.latency", "Latency from end of caller speech to first agent audio."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("phonoxa.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("phonoxa.utterances",
		metric.WithDescription("Total caller utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("phonoxa.interrupts",
		metric.WithDescription("Total validated caller barge-ins."),
	); err != nil {
		return nil, err
	}
	if met.SpeculativeResults, err = m.Int64Counter("phonoxa.speculative.results",
		metric.WithDescription("Speculative transcripts used (hit) or discarded (miss)."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogActions, err = m.Int64Counter("phonoxa.watchdog.actions",
		metric.WithDescription("Inactivity prompts and watchdog hangups by action."),
	); err != nil {
		return nil, err
	}

	if met.CircuitTransitions, err = m.Int64Counter("phonoxa.provider.circuit_transitions",
		metric.WithDescription("Provider circuit breaker transitions by target state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("phonoxa.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("phonoxa.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = histogram("phonoxa.http.request.duration",
		"HTTP request latency by method, route and status."); err != nil {
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
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

// RecordUtterance counts one caller utterance with its outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordInterrupt counts one barge-in.
func (m *Metrics) RecordInterrupt(ctx context.Context, agentID string) {
	m.Interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_id", agentID)))
}

// RecordSpeculative counts a speculative transcript hit or miss.
func (m *Metrics) RecordSpeculative(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SpeculativeResults.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordWatchdogAction counts one watchdog action.
func (m *Metrics) RecordWatchdogAction(ctx context.Context, action string) {
	m.WatchdogActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordCircuitTransition counts a breaker of the named provider moving to
// state to.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, provider, kind, to string) {
	m.CircuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("to", to),
	))
}
