package prefetch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/prefetch"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
)

var errBackendInjected = errors.New("injected backend failure")

type fakeBackend struct {
	mu       sync.Mutex
	failIDs  map[string]bool
	prefetch []string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) UUID(context.Context) (string, error)              { return "uuid", nil }
func (f *fakeBackend) Head(context.Context, string) (string, error)      { return "HEAD", nil }
func (f *fakeBackend) MainBranch(context.Context) (string, error)        { return "main", nil }
func (f *fakeBackend) Branches(context.Context) ([]string, error)        { return nil, nil }
func (f *fakeBackend) Tags(context.Context) ([]revision.Tag, error)      { return nil, nil }
func (f *fakeBackend) Tree(context.Context, string) ([]string, error)    { return nil, nil }
func (f *fakeBackend) Cat(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) LogIterator(context.Context, string, int64, int64) (scm.IDIterator, error) {
	return nil, nil
}

func (f *fakeBackend) Revision(ctx context.Context, id string) (revision.Revision, error) {
	return revision.New(id, 0, "author", "msg", diffstat.New()), nil
}

func (f *fakeBackend) Metadata(_ context.Context, id string) (revision.Revision, error) {
	if f.shouldFail(id) {
		return revision.Revision{}, errBackendInjected
	}

	return revision.New(id, 100, "Ada", "subject", diffstat.New()), nil
}

func (f *fakeBackend) Diffstat(_ context.Context, id string) (diffstat.Diffstat, error) {
	if f.shouldFail(id) {
		return diffstat.Diffstat{}, errBackendInjected
	}

	return diffstat.New(), nil
}

func (f *fakeBackend) Prefetch(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prefetch = append(f.prefetch, ids...)
}

func (f *fakeBackend) Finalize() error { return nil }

func (f *fakeBackend) shouldFail(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.failIDs[id]
}

// batchingFakeBackend embeds fakeBackend and additionally implements
// scm.BatchMetadataBackend, recording the size of every batch it's asked
// to resolve.
type batchingFakeBackend struct {
	fakeBackend

	batchMu     sync.Mutex
	batchSizes  []int
	failBatches bool
}

func (f *batchingFakeBackend) BatchMetadata(_ context.Context, ids []string) (map[string]revision.Revision, error) {
	f.batchMu.Lock()
	f.batchSizes = append(f.batchSizes, len(ids))
	f.batchMu.Unlock()

	if f.failBatches {
		return nil, errBackendInjected
	}

	out := make(map[string]revision.Revision, len(ids))

	for _, id := range ids {
		if f.shouldFail(id) {
			continue
		}

		out[id] = revision.New(id, 200, "Batch", "subject", diffstat.New())
	}

	return out, nil
}

func (f *batchingFakeBackend) recordedBatchSizes() []int {
	f.batchMu.Lock()
	defer f.batchMu.Unlock()

	return append([]int(nil), f.batchSizes...)
}

func TestMetadataWorkerUsesBatchMetadataWhenAvailable(t *testing.T) {
	t.Parallel()

	backend := &batchingFakeBackend{}
	p := prefetch.Start(context.Background(), backend, 1)
	defer p.Stop()

	ids := []string{"A", "B", "C", "D", "E"}
	p.Prefetch(ids)

	for _, id := range ids {
		meta, ok := p.GetMeta(id)
		require.True(t, ok)
		assert.Equal(t, "Batch", meta.Author)
	}

	sizes := backend.recordedBatchSizes()
	require.NotEmpty(t, sizes, "BatchMetadata should have been called at least once")

	total := 0
	for _, s := range sizes {
		total += s
	}

	assert.Equal(t, len(ids), total)
}

func TestMetadataWorkerFallsBackToPerIDOnBatchFailure(t *testing.T) {
	t.Parallel()

	backend := &batchingFakeBackend{failBatches: true}
	p := prefetch.Start(context.Background(), backend, 1)
	defer p.Stop()

	p.Prefetch([]string{"A", "B"})

	metaA, ok := p.GetMeta("A")
	require.True(t, ok, "a batch-level failure should fall back to resolving each id individually")
	assert.Equal(t, "Ada", metaA.Author)

	metaB, ok := p.GetMeta("B")
	require.True(t, ok)
	assert.Equal(t, "Ada", metaB.Author)
}

func TestPrefetcherResolvesDiffstatAndMeta(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	p := prefetch.Start(context.Background(), backend, 2)
	defer p.Stop()

	p.Prefetch([]string{"A", "B"})

	stat, ok := p.GetDiffstat("A")
	require.True(t, ok)
	assert.Empty(t, stat.Files())

	meta, ok := p.GetMeta("A")
	require.True(t, ok)
	assert.Equal(t, "Ada", meta.Author)
}

func TestPrefetcherFailedIDResolvesToFalse(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{failIDs: map[string]bool{"bad": true}}
	p := prefetch.Start(context.Background(), backend, 2)
	defer p.Stop()

	p.Prefetch([]string{"bad"})

	_, ok := p.GetDiffstat("bad")
	assert.False(t, ok)

	_, ok = p.GetMeta("bad")
	assert.False(t, ok)
}

func TestWillFetchReflectsScheduledIDs(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	p := prefetch.Start(context.Background(), backend, 1)
	defer p.Stop()

	assert.False(t, p.WillFetch("X"))

	p.Prefetch([]string{"X"})
	assert.True(t, p.WillFetch("X"))
}

func TestStopDrainsAndJoinsWorkers(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	p := prefetch.Start(context.Background(), backend, 3)

	p.Prefetch([]string{"A", "B", "C"})

	_, ok := p.GetDiffstat("A")
	require.True(t, ok)

	done := make(chan struct{})

	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop should join all workers promptly")
	}
}
