// Package observe provides application-wide observability primitives for
// Luna: OpenTelemetry metrics, distributed tracing, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/luna"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// CaptureDuration tracks how long a listening session stayed open.
	CaptureDuration metric.Float64Histogram

	// TurnDuration tracks reply generation latency.
	TurnDuration metric.Float64Histogram

	// SynthesisDuration tracks the remote speech synthesis request latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a reply was audible.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes:
	//   provider, kind, status
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind
	ProviderErrors metric.Int64Counter

	// Turns counts completed turns. Attributes: source (text|voice), status
	Turns metric.Int64Counter

	// --- Gauges ---

	// Listening is 1 while the microphone is open.
	Listening metric.Int64UpDownCounter

	// Speaking is 1 while a reply is being synthesized or played.
	Speaking metric.Int64UpDownCounter

	// Subscribers tracks connected event stream clients.
	Subscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, route
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds, tuned for
// conversational latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.CaptureDuration, "luna.capture.duration", "Duration of listening sessions."},
		{&met.TurnDuration, "luna.turn.duration", "Latency of reply generation."},
		{&met.SynthesisDuration, "luna.synthesis.duration", "Latency of speech synthesis requests."},
		{&met.PlaybackDuration, "luna.playback.duration", "Duration of reply playback."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("luna.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("luna.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("luna.turns",
		metric.WithDescription("Total conversational turns by source and status."),
	); err != nil {
		return nil, err
	}

	if met.Listening, err = m.Int64UpDownCounter("luna.listening",
		metric.WithDescription("1 while the microphone is capturing."),
	); err != nil {
		return nil, err
	}
	if met.Speaking, err = m.Int64UpDownCounter("luna.speaking",
		metric.WithDescription("1 while a reply is being synthesized or played."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("luna.event_subscribers",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("luna.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// that the instruments bind to the exporting provider.
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

// Status maps an error to the "ok" / "error" status attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordProviderRequest records one provider call and, when err is non-nil,
// the matching error counter increment.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", Status(err)),
		),
	)
	if err != nil {
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordTurn records a finished turn and its latency.
func (m *Metrics) RecordTurn(ctx context.Context, source string, d time.Duration, err error) {
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("source", source)))
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", Status(err)),
		),
	)
}

// SetFlag adjusts an up-down counter by +1 when on, -1 otherwise. Callers
// must only report transitions.
func SetFlag(ctx context.Context, c metric.Int64UpDownCounter, on bool) {
	if on {
		c.Add(ctx, 1)
		return
	}
	c.Add(ctx, -1)
}
