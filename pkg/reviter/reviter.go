// Package reviter implements the consumer-facing RevisionIterator: it pulls
// batches of IDs from a backend's log iterator, hands them to the backend's
// prefetcher, and yields them one at a time in the order the log produced
// them.
package reviter

import (
	"context"
	"fmt"
	"sync"

	"github.com/brindlecode/scmwalk/pkg/scm"
)

// Flags controls RevisionIterator construction.
type Flags int

const (
	// PrefetchRevisions asks the iterator to call backend.Prefetch on every
	// newly fetched batch of IDs. This is the default.
	PrefetchRevisions Flags = 1 << iota
)

// RevisionIterator couples an asynchronous log producer to synchronous,
// in-order ID consumption. A revision ID is consumed at most once by Next.
type RevisionIterator struct {
	mu sync.Mutex

	backend scm.Backend
	log     scm.IDIterator
	flags   Flags

	queue    []string
	total    int
	consumed int
	logDone  bool
}

// New starts a log iterator over branch within [start, end] (Unix seconds;
// zero means unbounded) and returns a RevisionIterator that drains it.
func New(ctx context.Context, backend scm.Backend, branch string, start, end int64, flags Flags) (*RevisionIterator, error) {
	log, err := backend.LogIterator(ctx, branch, start, end)
	if err != nil {
		return nil, fmt.Errorf("start log iterator: %w", err)
	}

	return &RevisionIterator{backend: backend, log: log, flags: flags}, nil
}

// NewDefault is New with the default flags (PrefetchRevisions set).
func NewDefault(ctx context.Context, backend scm.Backend, branch string, start, end int64) (*RevisionIterator, error) {
	return New(ctx, backend, branch, start, end, PrefetchRevisions)
}

// AtEnd reports whether the iteration has no more IDs to deliver. The first
// call triggers the initial log fetch, since until then it isn't known
// whether the branch has any revisions at all.
func (it *RevisionIterator) AtEnd() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.total == 0 {
		it.fetchLogs()
	}

	return len(it.queue) == 0
}

// Next returns the next revision ID and advances the iterator. It returns
// ("", false) once the iterator is at end.
func (it *RevisionIterator) Next() (string, bool) {
	if it.AtEnd() {
		return "", false
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	if len(it.queue) <= 1 {
		it.fetchLogs()

		if len(it.queue) == 0 {
			return "", false
		}
	}

	id := it.queue[0]
	it.queue = it.queue[1:]
	it.consumed++

	return id, true
}

// Progress returns consumed*100/total once the log producer has finished;
// otherwise 0, since the total isn't known yet.
func (it *RevisionIterator) Progress() int {
	it.mu.Lock()
	defer it.mu.Unlock()

	if !it.logDone || it.total == 0 {
		return 0
	}

	return (100 * it.consumed) / it.total
}

// Close releases the underlying log iterator.
func (it *RevisionIterator) Close() error {
	return it.log.Close()
}

// fetchLogs asks the log iterator for the next batch and, if configured,
// hands the new IDs to the backend's prefetcher. Called with mu held.
func (it *RevisionIterator) fetchLogs() {
	ids, more := it.log.NextIDs()
	if !more {
		it.logDone = true

		return
	}

	it.total += len(ids)
	it.queue = append(it.queue, ids...)

	if it.flags&PrefetchRevisions != 0 {
		it.backend.Prefetch(ids)
	}
}
