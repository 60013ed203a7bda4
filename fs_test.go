package greenrt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFileRoundTrip writes a file, reads it back, and lists the directory
// containing it — the spec's "file round-trip" testable scenario.
func TestFileRoundTrip(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.txt")
	payload := []byte("hello from a fiber")

	result := make(chan error, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		handle, err := OpenFile(ctx, path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			result <- err
			return
		}
		if _, err := WriteFile(ctx, handle, payload, 0); err != nil {
			result <- err
			return
		}
		if err := CloseFile(ctx, handle); err != nil {
			result <- err
			return
		}

		rh, err := OpenFile(ctx, path, os.O_RDONLY, 0)
		if err != nil {
			result <- err
			return
		}
		buf := make([]byte, len(payload))
		n, err := ReadFile(ctx, rh, buf, 0)
		if err != nil {
			result <- err
			return
		}
		if n != len(payload) || string(buf) != string(payload) {
			result <- os.ErrInvalid
			return
		}
		if err := CloseFile(ctx, rh); err != nil {
			result <- err
			return
		}

		entries, err := ReadDir(ctx, dir)
		if err != nil {
			result <- err
			return
		}
		found := false
		for _, e := range entries {
			if e.Name == "greeting.txt" && !e.IsDir {
				found = true
			}
		}
		if !found {
			result <- os.ErrNotExist
			return
		}
		result <- nil
	}, nil, false)
	require.NoError(t, err)

	select {
	case rerr := <-result:
		require.NoError(t, rerr)
	case <-time.After(5 * time.Second):
		t.Fatal("file round trip fiber never completed")
	}
}

func TestReadFileEOF(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	dir := t.TempDir()
	path := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	result := make(chan error, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		h, err := OpenFile(ctx, path, os.O_RDONLY, 0)
		if err != nil {
			result <- err
			return
		}
		defer CloseFile(ctx, h)

		buf := make([]byte, 16)
		n, err := ReadFile(ctx, h, buf, 0)
		if err != nil {
			result <- err
			return
		}
		if n != 3 {
			result <- os.ErrInvalid
			return
		}

		_, err = ReadFile(ctx, h, buf, int64(n))
		result <- err
	}, nil, false)
	require.NoError(t, err)

	select {
	case rerr := <-result:
		require.ErrorIs(t, rerr, ErrEOF)
	case <-time.After(5 * time.Second):
		t.Fatal("EOF fiber never completed")
	}
}
