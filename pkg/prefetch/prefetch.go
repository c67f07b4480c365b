// Package prefetch drives two worker pools — one for diffstats, one for
// revision metadata — that eagerly compute Revisions ahead of consumer
// demand, backed by jobqueue.Queue for keyed scheduling.
package prefetch

import (
	"context"
	"sync"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/jobqueue"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
	"github.com/brindlecode/scmwalk/pkg/telemetry"
)

const maxMetadataWorkers = 4

// metadataBatchSize bounds how many pending ids a metadata worker drains
// into a single batched request before dispatching.
const metadataBatchSize = 64

// Prefetcher fans out revision IDs to a diffstat worker pool and a metadata
// worker pool, each backed by its own jobqueue.Queue. Metadata is cheap and
// benefits from a small, bounded pool; diffstat is heavy and scales with the
// number of workers requested.
type Prefetcher struct {
	backend scm.Backend
	metrics *telemetry.PrefetchMetrics

	diffQueue *jobqueue.Queue[string, diffstat.Diffstat]
	metaQueue *jobqueue.Queue[string, revision.Revision]

	wg sync.WaitGroup
}

// Option configures a Prefetcher at construction.
type Option func(*Prefetcher)

// WithMetrics attaches telemetry instruments. Safe to omit (metrics are
// nil-safe).
func WithMetrics(m *telemetry.PrefetchMetrics) Option {
	return func(p *Prefetcher) { p.metrics = m }
}

// WithQueueBound overrides the default jobqueue backpressure bound for both
// pools.
func WithQueueBound(bound int) Option {
	return func(p *Prefetcher) {
		p.diffQueue = jobqueue.New[string, diffstat.Diffstat](bound)
		p.metaQueue = jobqueue.New[string, revision.Revision](bound)
	}
}

// Start creates a Prefetcher over backend with a diffstat pool of n workers
// and a metadata pool of min(n, 4) workers, then launches all of them.
func Start(ctx context.Context, backend scm.Backend, n int, opts ...Option) *Prefetcher {
	if n < 1 {
		n = 1
	}

	p := &Prefetcher{
		backend:   backend,
		diffQueue: jobqueue.New[string, diffstat.Diffstat](jobqueue.DefaultMax),
		metaQueue: jobqueue.New[string, revision.Revision](jobqueue.DefaultMax),
	}

	for _, opt := range opts {
		opt(p)
	}

	metaWorkers := n
	if metaWorkers > maxMetadataWorkers {
		metaWorkers = maxMetadataWorkers
	}

	for i := 0; i < n; i++ {
		p.wg.Add(1)

		go p.diffstatWorker(ctx)
	}

	for i := 0; i < metaWorkers; i++ {
		p.wg.Add(1)

		go p.metadataWorker(ctx)
	}

	return p
}

// Prefetch enqueues each ID on both worker pools.
func (p *Prefetcher) Prefetch(ids []string) {
	if len(ids) == 0 {
		return
	}

	p.diffQueue.Put(ids)
	p.metaQueue.Put(ids)
	p.metrics.Enqueued(context.Background(), "diffstat", len(ids))
	p.metrics.Enqueued(context.Background(), "metadata", len(ids))
}

// WillFetch reports whether id has been scheduled on the diffstat pool —
// the fast, non-blocking predicate the backend's hot path uses to decide
// between consuming the prefetcher's result and a synchronous fetch.
func (p *Prefetcher) WillFetch(id string) bool {
	return p.diffQueue.HasArg(id)
}

// GetDiffstat blocks until id's diffstat job is terminal.
func (p *Prefetcher) GetDiffstat(id string) (diffstat.Diffstat, bool) {
	return p.diffQueue.GetResult(id)
}

// GetMeta blocks until id's metadata job is terminal.
func (p *Prefetcher) GetMeta(id string) (revision.Revision, bool) {
	return p.metaQueue.GetResult(id)
}

// Stop unblocks every worker and waiter, then waits for all workers to
// exit.
func (p *Prefetcher) Stop() {
	p.diffQueue.Stop()
	p.metaQueue.Stop()
	p.wg.Wait()
}

func (p *Prefetcher) diffstatWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		id, ok := p.diffQueue.GetArg()
		if !ok {
			return
		}

		stat, err := p.backend.Diffstat(ctx, id)
		if err != nil {
			p.diffQueue.Failed(id)
			p.metrics.Completed(ctx, "diffstat", false)

			continue
		}

		p.diffQueue.Done(id, stat)
		p.metrics.Completed(ctx, "diffstat", true)
	}
}

// metadataWorker blocks for the first pending id, then opportunistically
// drains up to metadataBatchSize-1 more without blocking, so a backend that
// supports it can resolve them in a single batched request.
func (p *Prefetcher) metadataWorker(ctx context.Context) {
	defer p.wg.Done()

	batcher, batched := p.backend.(scm.BatchMetadataBackend)

	for {
		id, ok := p.metaQueue.GetArg()
		if !ok {
			return
		}

		ids := []string{id}

		for batched && len(ids) < metadataBatchSize {
			next, ok := p.metaQueue.TryGetArg()
			if !ok {
				break
			}

			ids = append(ids, next)
		}

		if batched && len(ids) > 1 {
			p.resolveBatch(ctx, batcher, ids)
			continue
		}

		for _, id := range ids {
			p.resolveOne(ctx, id)
		}
	}
}

// resolveBatch dispatches ids through the backend's batched metadata call,
// falling back to one-at-a-time retries on a batch-level failure so the
// bad ids among them can still be identified individually.
func (p *Prefetcher) resolveBatch(ctx context.Context, batcher scm.BatchMetadataBackend, ids []string) {
	results, err := batcher.BatchMetadata(ctx, ids)
	if err != nil {
		for _, id := range ids {
			p.resolveOne(ctx, id)
		}

		return
	}

	for _, id := range ids {
		rev, ok := results[id]
		if !ok {
			p.metaQueue.Failed(id)
			p.metrics.Completed(ctx, "metadata", false)

			continue
		}

		p.metaQueue.Done(id, rev)
		p.metrics.Completed(ctx, "metadata", true)
	}
}

func (p *Prefetcher) resolveOne(ctx context.Context, id string) {
	rev, err := p.backend.Metadata(ctx, id)
	if err != nil {
		p.metaQueue.Failed(id)
		p.metrics.Completed(ctx, "metadata", false)

		return
	}

	p.metaQueue.Done(id, rev)
	p.metrics.Completed(ctx, "metadata", true)
}
