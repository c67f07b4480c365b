// Package logiter implements the producer side of revision-ID delivery: a
// single goroutine walks a branch and appends batches of IDs to a
// mutex/condition-variable-guarded buffer, which the consumer drains with
// NextIDs.
package logiter

import (
	"context"
	"sync"
)

// Producer is backend-specific history-walking logic. It calls emit with
// each batch of IDs as they become available (batched delivery — e.g. one
// call per paginated window) and returns when the branch has been fully
// walked or ctx is cancelled.
type Producer func(ctx context.Context, emit func(ids []string)) error

// LogIterator couples a producer goroutine to a consumer via a buffer
// guarded by a mutex and condition variable, matching the batched,
// blocking-until-available delivery contract the revision iterator relies
// on.
type LogIterator struct {
	mu   sync.Mutex
	cond *sync.Cond

	buffer   []string
	done     bool
	err      error
	cancel   context.CancelFunc
	finished chan struct{}
}

// Start launches the producer goroutine and returns a LogIterator that
// drains its output.
func Start(ctx context.Context, produce Producer) *LogIterator {
	ctx, cancel := context.WithCancel(ctx)

	it := &LogIterator{
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	it.cond = sync.NewCond(&it.mu)

	go it.run(ctx, produce)

	return it
}

func (it *LogIterator) run(ctx context.Context, produce Producer) {
	defer close(it.finished)

	err := produce(ctx, func(ids []string) {
		if len(ids) == 0 {
			return
		}

		it.mu.Lock()
		it.buffer = append(it.buffer, ids...)
		it.mu.Unlock()
		it.cond.Broadcast()
	})

	it.mu.Lock()
	it.done = true
	it.err = err
	it.mu.Unlock()
	it.cond.Broadcast()
}

// NextIDs blocks until either at least one new ID is available (returned,
// more=true) or the producer has terminated with an empty buffer
// (more=false).
func (it *LogIterator) NextIDs() (ids []string, more bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	for len(it.buffer) == 0 && !it.done {
		it.cond.Wait()
	}

	if len(it.buffer) == 0 {
		return nil, false
	}

	ids = it.buffer
	it.buffer = nil

	return ids, true
}

// Err returns the error the producer terminated with, if any. Only
// meaningful after NextIDs has returned more=false.
func (it *LogIterator) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.err
}

// Close cancels the producer and waits for its goroutine to exit. Safe to
// call even if the consumer never drained all IDs — the producer only
// blocks on backend I/O, not on the consumer, so cancellation always
// unblocks it promptly.
func (it *LogIterator) Close() error {
	it.cancel()
	<-it.finished

	return it.Err()
}
