package jobqueue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlecode/scmwalk/pkg/jobqueue"
)

func TestPutThenGetArgFIFO(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)
	q.Put([]string{"a", "b", "c"})

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.GetArg()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestDuplicatePutLeavesExistingStateUnchanged(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)
	q.Put([]string{"a"})
	q.Done("a", 42)
	q.Put([]string{"a"})

	v, ok := q.GetResult("a")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestDoneAndFailedResolveGetResult(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)
	q.Put([]string{"ok", "bad"})
	q.Done("ok", 7)
	q.Failed("bad")

	v, ok := q.GetResult("ok")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = q.GetResult("bad")
	assert.False(t, ok)
}

func TestGetResultUnknownKeyReturnsFalse(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)

	_, ok := q.GetResult("missing")
	assert.False(t, ok)
}

func TestTryGetArgDrainsWithoutBlocking(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)

	_, ok := q.TryGetArg()
	assert.False(t, ok, "TryGetArg must not block when nothing is pending")

	q.Put([]string{"a", "b"})

	got, ok := q.TryGetArg()
	require.True(t, ok)
	assert.Equal(t, "a", got)

	got, ok = q.TryGetArg()
	require.True(t, ok)
	assert.Equal(t, "b", got)

	_, ok = q.TryGetArg()
	assert.False(t, ok)
}

func TestTryGetArgReturnsFalseAfterStop(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)
	q.Put([]string{"a"})
	q.Stop()

	_, ok := q.TryGetArg()
	assert.False(t, ok)
}

func TestHasArgReflectsPendingState(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)
	assert.False(t, q.HasArg("a"))

	q.Put([]string{"a"})
	assert.True(t, q.HasArg("a"))
}

func TestStopUnblocksAllWaiters(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[string, int](jobqueue.DefaultMax)

	var wg sync.WaitGroup

	argDone := make(chan bool, 1)
	resultDone := make(chan bool, 1)

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, ok := q.GetArg()
		argDone <- ok
	}()

	go func() {
		defer wg.Done()

		q.Put([]string{"pending-key"})

		_, ok := q.GetResult("pending-key")
		resultDone <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	wg.Wait()

	assert.False(t, <-argDone)
	assert.False(t, <-resultDone)
}

// TestBackpressureBlocksGetArgOnceResultBoundExceeded reproduces the
// end-to-end backpressure scenario: with max=4, a producer putting 100 keys
// must not block before a consumer starts; once more than four (here five)
// results accumulate without being read, GetArg blocks; reading a single
// result unblocks exactly one GetArg.
func TestBackpressureBlocksGetArgOnceResultBoundExceeded(t *testing.T) {
	t.Parallel()

	const max = 4

	q := jobqueue.New[int, int](max)

	keys := make([]int, 100)
	for i := range keys {
		keys[i] = i
	}

	q.Put(keys)

	// Drain and complete max+1 keys without retrieving results, so the
	// ready-result backlog exceeds the bound (GetArg blocks once the
	// backlog *exceeds* max, per the bound being a backpressure threshold
	// rather than a hard cap).
	for i := 0; i < max+1; i++ {
		k, ok := q.GetArg()
		require.True(t, ok)
		q.Done(k, k*2)
	}

	blocked := make(chan bool, 1)

	go func() {
		_, ok := q.GetArg()
		blocked <- ok
	}()

	select {
	case <-blocked:
		t.Fatal("GetArg should have blocked while the result backlog is above the bound")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := q.GetResult(0)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	select {
	case ok := <-blocked:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("GetArg should have unblocked after a single GetResult")
	}
}

func TestConcurrentProducerConsumerCompletesAllKeys(t *testing.T) {
	t.Parallel()

	q := jobqueue.New[int, int](8)

	const n = 200

	keys := make([]int, n)
	for i := range keys {
		keys[i] = i
	}

	q.Put(keys)

	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				k, ok := q.GetArg()
				if !ok {
					return
				}

				q.Done(k, k)
			}
		}()
	}

	results := make([]int, n)

	var resultWg sync.WaitGroup

	resultWg.Add(1)

	go func() {
		defer resultWg.Done()

		for _, k := range keys {
			v, ok := q.GetResult(k)
			if ok {
				results[k] = v
			}
		}
	}()

	resultWg.Wait()
	q.Stop()
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, i, v)
	}
}
