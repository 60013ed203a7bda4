package greenrt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitShutdownLifecycle(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	require.ErrorIs(t, Init(), ErrAlreadyInitialized)
	Shutdown()

	_, err := current()
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, Init(WithWorkerCount(2)))
	Shutdown()
}

func TestSpawnGreenFnRunsRoutine(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	done := make(chan string, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		done <- arg.(string)
	}, "hello", false)
	require.NoError(t, err)

	select {
	case v := <-done:
		require.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("spawned fiber never ran")
	}
}

func TestSpawnThreadCannotUseFiberAPI(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(1)))
	defer Shutdown()

	done := make(chan error, 1)
	err := SpawnThread(func(arg any) {
		_, rerr := ReadFile(context.Background(), 0, make([]byte, 1), 0)
		done <- rerr
	}, nil)
	require.NoError(t, err)

	select {
	case rerr := <-done:
		require.ErrorIs(t, rerr, ErrNotAFiber)
	case <-time.After(2 * time.Second):
		t.Fatal("bare thread never ran")
	}
}

// TestWorkerBoundConcurrency is the testable property "at most N fiber
// bodies run concurrently, regardless of how many fibers are spawned."
func TestWorkerBoundConcurrency(t *testing.T) {
	const workers = 3
	require.NoError(t, Init(WithWorkerCount(workers)))
	defer Shutdown()

	var (
		running   atomic.Int64
		maxSeen   atomic.Int64
		wg        sync.WaitGroup
		unblock   = make(chan struct{})
		fiberBody = func(ctx context.Context, arg any) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			<-unblock
			running.Add(-1)
		}
	)

	const fiberCount = workers * 5
	wg.Add(fiberCount)
	for i := 0; i < fiberCount; i++ {
		require.NoError(t, SpawnGreenFn(fiberBody, nil, false))
	}

	// Give every fiber a chance to start and block.
	time.Sleep(200 * time.Millisecond)
	require.LessOrEqual(t, maxSeen.Load(), int64(workers))

	close(unblock)
	wg.Wait()
}
