// Package observe provides application-wide observability primitives for
// NexusMem: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all NexusMem metrics.
const meterName = "github.com/vonbase/nexusmem"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per operation ---

	// StoreDuration tracks end-to-end memory-store latency (hash, dedup,
	// embed, primary write, secondary/graph fanout).
	StoreDuration metric.Float64Histogram

	// QueryDuration tracks end-to-end memory-query latency.
	QueryDuration metric.Float64Histogram

	// EmbedDuration tracks embedding-provider call latency.
	EmbedDuration metric.Float64Histogram

	// GraphSyncDuration tracks knowledge-graph sync latency per memory.
	GraphSyncDuration metric.Float64Histogram

	// ImportBatchDuration tracks bulk-import batch processing latency.
	ImportBatchDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// DedupDecisions counts deduplication outcomes. Use with attribute:
	//   attribute.String("outcome", "unique"|"exact_duplicate"|"semantic_duplicate")
	DedupDecisions metric.Int64Counter

	// GraphSyncJobs counts graph-sync outcomes. Use with attribute:
	//   attribute.String("mode", "inline"|"background"), attribute.String("status", ...)
	GraphSyncJobs metric.Int64Counter

	// ImportRecords counts import-pipeline record outcomes. Use with
	// attribute: attribute.String("status", "succeeded"|"failed"|"duplicate")
	ImportRecords metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// GraphSyncQueueDepth tracks the background graph-sync queue's pending
	// job count.
	GraphSyncQueueDepth metric.Int64UpDownCounter

	// ActiveImportJobs tracks the number of import jobs currently running.
	ActiveImportJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-millisecond cache hits and multi-second provider calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StoreDuration, err = m.Float64Histogram("nexusmem.store.duration",
		metric.WithDescription("Latency of a memory store operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueryDuration, err = m.Float64Histogram("nexusmem.query.duration",
		metric.WithDescription("Latency of a memory query operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("nexusmem.embed.duration",
		metric.WithDescription("Latency of an embedding-provider call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GraphSyncDuration, err = m.Float64Histogram("nexusmem.graphsync.duration",
		metric.WithDescription("Latency of a knowledge-graph sync for one memory."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ImportBatchDuration, err = m.Float64Histogram("nexusmem.import.batch.duration",
		metric.WithDescription("Latency of a bulk-import batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("nexusmem.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.DedupDecisions, err = m.Int64Counter("nexusmem.dedup.decisions",
		metric.WithDescription("Total deduplication decisions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.GraphSyncJobs, err = m.Int64Counter("nexusmem.graphsync.jobs",
		metric.WithDescription("Total graph-sync jobs by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.ImportRecords, err = m.Int64Counter("nexusmem.import.records",
		metric.WithDescription("Total import records processed by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("nexusmem.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.GraphSyncQueueDepth, err = m.Int64UpDownCounter("nexusmem.graphsync.queue_depth",
		metric.WithDescription("Pending jobs in the background graph-sync queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveImportJobs, err = m.Int64UpDownCounter("nexusmem.import.active_jobs",
		metric.WithDescription("Number of currently running import jobs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("nexusmem.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordDedupDecision is a convenience method that records a deduplication
// outcome counter increment.
func (m *Metrics) RecordDedupDecision(ctx context.Context, outcome string) {
	m.DedupDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordGraphSyncJob is a convenience method that records a graph-sync job
// counter increment.
func (m *Metrics) RecordGraphSyncJob(ctx context.Context, mode, status string) {
	m.GraphSyncJobs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordImportRecord is a convenience method that records an import-record
// outcome counter increment.
func (m *Metrics) RecordImportRecord(ctx context.Context, status string) {
	m.ImportRecords.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
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
