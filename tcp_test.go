//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package greenrt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTCPEcho adapts the teacher's echoServer/TestEcho shape: a fiber-backed
// listener echoes back whatever it reads, driven here by an ordinary
// net.Dial client rather than another fiber, since the test's role is the
// client, not a participant in this runtime.
func TestTCPEcho(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(2)))
	defer Shutdown()

	const port = 18099
	ready := make(chan error, 1)

	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		ready <- ListenTCP(ctx, "127.0.0.1", port, func(ctx context.Context, h *TCPHandle, arg any) {
			buf := make([]byte, 128)
			for {
				n, err := ReadTCP(ctx, h, buf)
				if err != nil {
					CloseTCP(ctx, h)
					return
				}
				if _, err := WriteTCP(ctx, h, buf[:n]); err != nil {
					CloseTCP(ctx, h)
					return
				}
			}
		}, nil)
	}, nil, false)
	require.NoError(t, err)

	select {
	case lerr := <-ready:
		require.NoError(t, lerr)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never bound")
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:18099", 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	tx := []byte("hello world")
	_, err = conn.Write(tx)
	require.NoError(t, err)

	rx := make([]byte, len(tx))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(rx)
	require.NoError(t, err)
	require.Equal(t, tx, rx)
}

// TestConnectTCPRefused exercises the error path of ConnectTCP against a
// port nothing is listening on.
func TestConnectTCPRefused(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(1)))
	defer Shutdown()

	result := make(chan error, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		_, cerr := ConnectTCP(ctx, "127.0.0.1", 18199)
		result <- cerr
	}, nil, false)
	require.NoError(t, err)

	select {
	case rerr := <-result:
		require.Error(t, rerr)
	case <-time.After(2 * time.Second):
		t.Fatal("connect fiber never completed")
	}
}

func TestListenTCPRejectsUnsupportedAddress(t *testing.T) {
	require.NoError(t, Init(WithWorkerCount(1)))
	defer Shutdown()

	result := make(chan error, 1)
	err := SpawnGreenFn(func(ctx context.Context, arg any) {
		result <- ListenTCP(ctx, "not-an-ip", 0, func(context.Context, *TCPHandle, any) {}, nil)
	}, nil, false)
	require.NoError(t, err)

	select {
	case rerr := <-result:
		require.Error(t, rerr)
	case <-time.After(2 * time.Second):
		t.Fatal("listen fiber never completed")
	}
}
