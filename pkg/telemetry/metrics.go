package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCacheHitsTotal   = "scmwalk.cache.hits.total"
	metricCacheMissesTotal = "scmwalk.cache.misses.total"
	metricPrefetchQueue    = "scmwalk.prefetch.queue.depth"
	metricPrefetchJobs     = "scmwalk.prefetch.jobs.total"

	attrPool   = "pool"
	attrStatus = "status"
)

// CacheMetrics counts revision cache lookups.
type CacheMetrics struct {
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// NewCacheMetrics creates the cache hit/miss counters from the given meter.
func NewCacheMetrics(mt metric.Meter) (*CacheMetrics, error) {
	hits, err := mt.Int64Counter(metricCacheHitsTotal,
		metric.WithDescription("Revision cache lookups served from disk"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCacheHitsTotal, err)
	}

	misses, err := mt.Int64Counter(metricCacheMissesTotal,
		metric.WithDescription("Revision cache lookups that fell through to the backend"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCacheMissesTotal, err)
	}

	return &CacheMetrics{hits: hits, misses: misses}, nil
}

// RecordHit records a cache hit.
func (c *CacheMetrics) RecordHit(ctx context.Context) {
	if c == nil {
		return
	}

	c.hits.Add(ctx, 1)
}

// RecordMiss records a cache miss.
func (c *CacheMetrics) RecordMiss(ctx context.Context) {
	if c == nil {
		return
	}

	c.misses.Add(ctx, 1)
}

// PrefetchMetrics tracks prefetcher worker-pool throughput and backlog.
type PrefetchMetrics struct {
	queueDepth metric.Int64UpDownCounter
	jobsTotal  metric.Int64Counter
}

// NewPrefetchMetrics creates the prefetcher instruments from the given meter.
func NewPrefetchMetrics(mt metric.Meter) (*PrefetchMetrics, error) {
	depth, err := mt.Int64UpDownCounter(metricPrefetchQueue,
		metric.WithDescription("Pending keys in a prefetcher job queue"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPrefetchQueue, err)
	}

	jobs, err := mt.Int64Counter(metricPrefetchJobs,
		metric.WithDescription("Completed prefetcher jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPrefetchJobs, err)
	}

	return &PrefetchMetrics{queueDepth: depth, jobsTotal: jobs}, nil
}

// Enqueued records that a key was added to the named pool's queue.
func (p *PrefetchMetrics) Enqueued(ctx context.Context, pool string, n int) {
	if p == nil {
		return
	}

	p.queueDepth.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrPool, pool)))
}

// Completed records that a job finished, successfully or not, draining it
// from the backlog gauge.
func (p *PrefetchMetrics) Completed(ctx context.Context, pool string, ok bool) {
	if p == nil {
		return
	}

	status := "ok"
	if !ok {
		status = "failed"
	}

	p.queueDepth.Add(ctx, -1, metric.WithAttributes(attribute.String(attrPool, pool)))
	p.jobsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrPool, pool),
		attribute.String(attrStatus, status),
	))
}
