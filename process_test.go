package greenrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRunProgramWaitAfterExit covers the case where the child has already
// exited by the time WaitProgram is called: the exit watcher recorded the
// code first, and ProgramWaitState must hand it back without blocking.
func TestRunProgramWaitAfterExit(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	type outcome struct {
		code int
		err  error
	}
	result := make(chan outcome, 1)

	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		proc, err := RunProgram(ctx, []string{"true"}, "", nil)
		if err != nil {
			result <- outcome{err: err}
			return
		}
		// Give the child every opportunity to have already exited before
		// this fiber calls WaitProgram.
		time.Sleep(100 * time.Millisecond)
		code, werr := WaitProgram(ctx, proc)
		result <- outcome{code: code, err: werr}
	}, nil, false)
	require.NoError(t, err)

	select {
	case o := <-result:
		require.NoError(t, o.err)
		require.Equal(t, 0, o.code)
	case <-time.After(5 * time.Second):
		t.Fatal("wait-after-exit fiber never completed")
	}
}

// TestRunProgramWaitBeforeExit covers the opposite race: WaitProgram parks
// itself before the child has exited, and the exit watcher must resume it.
func TestRunProgramWaitBeforeExit(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	type outcome struct {
		code int
		err  error
	}
	result := make(chan outcome, 1)

	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		proc, err := RunProgram(ctx, []string{"sleep", "0.2"}, "", nil)
		if err != nil {
			result <- outcome{err: err}
			return
		}
		code, werr := WaitProgram(ctx, proc)
		result <- outcome{code: code, err: werr}
	}, nil, false)
	require.NoError(t, err)

	select {
	case o := <-result:
		require.NoError(t, o.err)
		require.Equal(t, 0, o.code)
	case <-time.After(5 * time.Second):
		t.Fatal("wait-before-exit fiber never completed")
	}
}

func TestRunProgramNonZeroExit(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	type outcome struct {
		code int
		err  error
	}
	result := make(chan outcome, 1)

	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		proc, err := RunProgram(ctx, []string{"false"}, "", nil)
		if err != nil {
			result <- outcome{err: err}
			return
		}
		code, werr := WaitProgram(ctx, proc)
		result <- outcome{code: code, err: werr}
	}, nil, false)
	require.NoError(t, err)

	select {
	case o := <-result:
		require.NoError(t, o.err)
		require.NotEqual(t, 0, o.code)
	case <-time.After(5 * time.Second):
		t.Fatal("non-zero exit fiber never completed")
	}
}

func TestRunProgramEmptyArgv(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(1)))
	defer Shutdown()

	result := make(chan error, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		_, rerr := RunProgram(ctx, nil, "", nil)
		result <- rerr
	}, nil, false)
	require.NoError(t, err)

	select {
	case rerr := <-result:
		require.ErrorIs(t, rerr, ErrEmptyArgv)
	case <-time.After(2 * time.Second):
		t.Fatal("empty argv fiber never completed")
	}
}

// TestRunProgramPipeRoundTrip writes to the child's stdin and reads the
// echoed bytes back off stdout via cat.
func TestRunProgramPipeRoundTrip(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	result := make(chan error, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		proc, err := RunProgram(ctx, []string{"cat"}, "", nil)
		if err != nil {
			result <- err
			return
		}
		payload := []byte("round trip\n")
		if _, err := WritePipe(ctx, proc.Stdin, payload); err != nil {
			result <- err
			return
		}
		if err := ClosePipe(ctx, proc.Stdin); err != nil {
			result <- err
			return
		}

		buf := make([]byte, len(payload))
		total := 0
		for total < len(buf) {
			n, rerr := ReadPipe(ctx, proc.Stdout, buf[total:])
			total += n
			if rerr != nil {
				break
			}
		}
		if string(buf[:total]) != string(payload) {
			result <- ErrEOF
			return
		}
		_, _ = WaitProgram(ctx, proc)
		result <- nil
	}, nil, false)
	require.NoError(t, err)

	select {
	case rerr := <-result:
		require.NoError(t, rerr)
	case <-time.After(5 * time.Second):
		t.Fatal("pipe round trip fiber never completed")
	}
}
