// Package observe provides Pettry's observability primitives: OpenTelemetry
// metrics and traces, trace-aware logging, and HTTP middleware that ties
// them together.
//
// Metrics go through the OpenTelemetry Metrics API and are scraped from
// /metrics via the Prometheus exporter set up by [InitProvider]. Services
// take a *[Metrics]; tests build one with [NewMetrics] over their own
// [metric.MeterProvider] so they do not share state.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/pettry"

// Metrics holds every instrument Pettry records. The OTel instruments are
// safe for concurrent use.
type Metrics struct {
	// ChatDuration is the latency of one chat reply, LLM call included.
	ChatDuration metric.Float64Histogram

	// AnalysisDuration is the latency of one pet photo analysis.
	AnalysisDuration metric.Float64Histogram

	// SynthesisDuration is the latency of one remote speech synthesis.
	SynthesisDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// ActiveVoiceSessions is the number of open /api/voice connections.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// Interruptions counts replies cut short by the user talking.
	Interruptions metric.Int64Counter

	// PlaybackOutcomes counts finished playback sessions by outcome.
	PlaybackOutcomes metric.Int64Counter

	// HTTPRequestDuration is request latency by method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds, sized for hosted model round trips.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ChatDuration, "pettry.chat.duration", "Latency of a chat reply."},
		{&met.AnalysisDuration, "pettry.analysis.duration", "Latency of a pet photo analysis."},
		{&met.SynthesisDuration, "pettry.synthesis.duration", "Latency of remote speech synthesis."},
		{&met.HTTPRequestDuration, "pettry.http.request.duration", "HTTP request latency by method, route and status."},
	}
	for _, h := range histograms {
		var err error
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "pettry.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "pettry.provider.errors", "Provider errors by provider and kind."},
		{&met.Interruptions, "pettry.voice.interruptions", "Replies interrupted by the user speaking."},
		{&met.PlaybackOutcomes, "pettry.voice.playback", "Finished playback sessions by outcome."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	var err error
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("pettry.voice.active_sessions",
		metric.WithDescription("Open voice WebSocket sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a Metrics over the global meter provider, created
// on first use. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status is "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordProviderRequest counts one provider call, and one provider error
// when err is non-nil.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", Status(err)),
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
}

// RecordDuration records the time since start on h with a status
// attribute derived from err.
func RecordDuration(ctx context.Context, h metric.Float64Histogram, start time.Time, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("status", Status(err)))
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}

// RecordPlayback counts one finished playback session. Interrupted
// sessions with reason "barge_in" also count as interruptions.
func (m *Metrics) RecordPlayback(ctx context.Context, outcome, reason string) {
	m.PlaybackOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
	if reason == "barge_in" {
		m.Interruptions.Add(ctx, 1)
	}
}
