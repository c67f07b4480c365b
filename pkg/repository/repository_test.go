package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/repository"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
)

// fakeLogIterator delivers a fixed batch of IDs once, then finishes.
type fakeLogIterator struct {
	mu      sync.Mutex
	batches [][]string
	closed  bool
}

func (f *fakeLogIterator) NextIDs() ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.batches) == 0 {
		return nil, false
	}

	next := f.batches[0]
	f.batches = f.batches[1:]

	return next, true
}

func (f *fakeLogIterator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

type fakeBackend struct {
	mu         sync.Mutex
	revisions  map[string]revision.Revision
	order      []string
	finalized  bool
	prefetched [][]string
}

var _ scm.Backend = (*fakeBackend)(nil)

func newFakeBackend(order []string) *fakeBackend {
	revs := make(map[string]revision.Revision)

	for _, id := range order {
		revs[id] = revision.New(id, 1700000000, "ada", "commit "+id, diffstat.New())
	}

	return &fakeBackend{revisions: revs, order: order}
}

func (f *fakeBackend) Name() string                                 { return "fake" }
func (f *fakeBackend) UUID(context.Context) (string, error)         { return "uuid", nil }
func (f *fakeBackend) Head(context.Context, string) (string, error) { return "head", nil }
func (f *fakeBackend) MainBranch(context.Context) (string, error)   { return "main", nil }
func (f *fakeBackend) Branches(context.Context) ([]string, error)   { return []string{"main"}, nil }

func (f *fakeBackend) Tags(context.Context) ([]revision.Tag, error) {
	return []revision.Tag{{ID: "v1", Name: "v1.0"}}, nil
}

func (f *fakeBackend) Tree(context.Context, string) ([]string, error) {
	return []string{"main.go"}, nil
}

func (f *fakeBackend) Cat(context.Context, string, string) ([]byte, error) {
	return []byte("package main\n"), nil
}

func (f *fakeBackend) LogIterator(context.Context, string, int64, int64) (scm.IDIterator, error) {
	return &fakeLogIterator{batches: [][]string{f.order}}, nil
}

func (f *fakeBackend) Revision(_ context.Context, id string) (revision.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rev, ok := f.revisions[id]
	if !ok {
		return revision.Revision{}, errors.New("unknown revision")
	}

	return rev, nil
}

func (f *fakeBackend) Metadata(ctx context.Context, id string) (revision.Revision, error) {
	return f.Revision(ctx, id)
}

func (f *fakeBackend) Diffstat(ctx context.Context, id string) (diffstat.Diffstat, error) {
	rev, err := f.Revision(ctx, id)

	return rev.Diffstat, err
}

func (f *fakeBackend) Prefetch(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prefetched = append(f.prefetched, ids)
}

func (f *fakeBackend) Finalize() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finalized = true

	return nil
}

func TestRepositoryMetadataPassesThroughToBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newFakeBackend([]string{"r1"})
	repo := repository.New(backend, "/repos/demo")

	assert.Equal(t, "/repos/demo", repo.URL())
	assert.Equal(t, "fake", repo.Type())

	branch, err := repo.DefaultBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	tags, err := repo.Tags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "v1.0", tags[0].Name)
}

func TestRepositoryWalkVisitsEveryRevisionInOrderThenFinalizes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	order := []string{"r1", "r2", "r3"}
	backend := newFakeBackend(order)
	repo := repository.New(backend, "/repos/demo")

	var visited []string

	err := repo.Walk(ctx, "main", 0, 0, func(_ context.Context, rev revision.Revision) error {
		visited = append(visited, rev.ID)

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, order, visited)
	assert.True(t, backend.finalized)
}

func TestRepositoryWalkStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newFakeBackend([]string{"r1", "r2", "r3"})
	repo := repository.New(backend, "/repos/demo")

	boom := errors.New("boom")
	visited := 0

	err := repo.Walk(ctx, "main", 0, 0, func(_ context.Context, _ revision.Revision) error {
		visited++

		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, visited)
}
