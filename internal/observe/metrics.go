// Package observe provides application-wide observability primitives for the
// reading bot: OpenTelemetry metrics, tracing helpers, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/jinwktk/YomiageBotAlpha"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthDuration tracks remote synthesis latency (cache misses only).
	// Use with attribute.String("backend", ...).
	SynthDuration metric.Float64Histogram

	// PlaybackDuration tracks wall-clock time from Play to finished.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// SynthRequests counts backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	SynthRequests metric.Int64Counter

	// CacheLookups counts cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// CacheEvictions counts removed cache entries. Use with attribute:
	//   attribute.String("reason", "expired"|"lru"|"purge"|"corrupt")
	CacheEvictions metric.Int64Counter

	// CacheWriteErrors counts failed cache writes. The audio is still played.
	CacheWriteErrors metric.Int64Counter

	// QueueRejected counts utterances refused by a full queue. Use with
	// attribute.String("kind", ...).
	QueueRejected metric.Int64Counter

	// QueueDropped counts queued utterances discarded to make room. Use with
	// attribute.String("kind", ...).
	QueueDropped metric.Int64Counter

	// Utterances counts processed utterances. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Utterances metric.Int64Counter

	// SessionTransitions counts lifecycle state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// synthesis calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// playbackBuckets covers clip lengths up to the playback guard.
var playbackBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 12, 20, 30, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthDuration, err = m.Float64Histogram("yomiage.synth.duration",
		metric.WithDescription("Latency of remote speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("yomiage.playback.duration",
		metric.WithDescription("Time spent playing one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthRequests, err = m.Int64Counter("yomiage.synth.requests",
		metric.WithDescription("Total synthesis backend requests by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("yomiage.cache.lookups",
		metric.WithDescription("Total audio cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("yomiage.cache.evictions",
		metric.WithDescription("Total audio cache entries removed by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheWriteErrors, err = m.Int64Counter("yomiage.cache.write_errors",
		metric.WithDescription("Total failed audio cache writes."),
	); err != nil {
		return nil, err
	}
	if met.QueueRejected, err = m.Int64Counter("yomiage.queue.rejected",
		metric.WithDescription("Total utterances rejected by a full queue."),
	); err != nil {
		return nil, err
	}
	if met.QueueDropped, err = m.Int64Counter("yomiage.queue.dropped",
		metric.WithDescription("Total queued utterances dropped to make room."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("yomiage.utterances",
		metric.WithDescription("Total processed utterances by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("yomiage.session.transitions",
		metric.WithDescription("Total session lifecycle transitions."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("yomiage.active_sessions",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("yomiage.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordSynthRequest records one backend call with its outcome.
func (m *Metrics) RecordSynthRequest(ctx context.Context, backend, status string) {
	m.SynthRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCacheEvictions records n removed entries. Zero is ignored.
func (m *Metrics) RecordCacheEvictions(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.CacheEvictions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordUtterance records a processed utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, kind, status string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordQueueOverflow records a rejected or dropped utterance. dropped
// selects between [Metrics.QueueDropped] and [Metrics.QueueRejected].
func (m *Metrics) RecordQueueOverflow(ctx context.Context, kind string, dropped bool) {
	c := m.QueueRejected
	if dropped {
		c = m.QueueDropped
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTransition records a lifecycle state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordPlayback records how long one utterance kept the sink busy.
func (m *Metrics) RecordPlayback(ctx context.Context, kind string, d time.Duration) {
	m.PlaybackDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}
