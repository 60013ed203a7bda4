//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package greenrt

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// TCPHandle is an open TCP connection: either accepted by a listener or
// returned from ConnectTCP. It wraps a raw, non-blocking socket file
// descriptor directly (no *net.TCPConn), since the I/O loop drives readiness
// through its own epoll/poll registration rather than the runtime poller.
type TCPHandle struct {
	fd     int
	closed atomic.Bool
}

// Fd returns the underlying socket file descriptor. Exposed for diagnostics
// and tests; callers must not read/write it directly while the handle is
// registered with this runtime.
func (h *TCPHandle) Fd() int { return h.fd }

// parseIPv4 accepts only dotted-quad IPv4 literals: no DNS resolution and no
// IPv6 (spec Non-goals).
func parseIPv4(host string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return out, ErrUnsupportedAddress
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, ErrUnsupportedAddress
		}
		out[i] = byte(n)
	}
	return out, nil
}

// ListenTCP binds and listens on host:port and spawns a new fiber running
// handler(ctx, conn, arg) for every accepted connection, until the listener
// is torn down by Shutdown. handler and arg are copied into each spawned
// job's own closure at accept time rather than captured by reference from
// the original request, so a later reuse of the ListenTCP request object
// (there is none in this design, but see DESIGN.md Open Question 5) can
// never bleed into an in-flight connection's fiber.
func ListenTCP(ctx context.Context, host string, port int, handler func(ctx context.Context, h *TCPHandle, arg any), arg any) error {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return ErrNotAFiber
	}
	req := &ioRequest{
		kind: kindTCPListen,
		tcpListn: tcpListenPayload{
			host:    host,
			port:    port,
			handler: handler,
			arg:     arg,
		},
	}
	req = rt.yield(slot, req)
	return newOpError("ListenTCP", req.tcpListn.result)
}

// ConnectTCP opens a non-blocking TCP connection to host:port, suspending
// the calling fiber until the connection completes or fails.
func ConnectTCP(ctx context.Context, host string, port int) (*TCPHandle, error) {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return nil, ErrNotAFiber
	}
	req := &ioRequest{kind: kindTCPConnect, tcpConn: tcpConnectPayload{host: host, port: port}}
	req = rt.yield(slot, req)
	if err := newOpError("ConnectTCP", req.tcpConn.result); err != nil {
		return nil, err
	}
	return req.tcpConn.handle, nil
}

// ReadTCP reads into buf, suspending the calling fiber until some data
// arrives, the peer closes the connection (0, ErrEOF), or an error occurs.
func ReadTCP(ctx context.Context, h *TCPHandle, buf []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrHandleClosed
	}
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindTCPRead, tcpData: tcpDataPayload{handle: h, buf: buf}}
	req = rt.yield(slot, req)
	if err := newOpError("ReadTCP", req.tcpData.n); err != nil {
		return 0, err
	}
	if req.tcpData.eof {
		return int(req.tcpData.n), ErrEOF
	}
	return int(req.tcpData.n), nil
}

// WriteTCP suspends the calling fiber until buf can be written at least
// partially; like a raw write(2), the returned count may be less than
// len(buf) and callers needing a full-buffer guarantee must loop.
func WriteTCP(ctx context.Context, h *TCPHandle, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyBuffer
	}
	if h.closed.Load() {
		return 0, ErrHandleClosed
	}
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindTCPWrite, tcpData: tcpDataPayload{handle: h, buf: buf}}
	req = rt.yield(slot, req)
	if err := newOpError("WriteTCP", req.tcpData.n); err != nil {
		return 0, err
	}
	return int(req.tcpData.n), nil
}

// CloseTCP tears down the connection and releases its poller registration.
func CloseTCP(ctx context.Context, h *TCPHandle) error {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return ErrNotAFiber
	}
	req := &ioRequest{kind: kindTCPClose, tcpOp: tcpClosePayload{handle: h}}
	req = rt.yield(slot, req)
	return newOpError("CloseTCP", req.tcpOp.result)
}

// newNonblockingSocket creates an AF_INET/SOCK_STREAM socket and switches it
// to non-blocking mode, ready to Bind+Listen or Connect. Flags are applied
// after creation via fcntl rather than the Linux-only SOCK_NONBLOCK/
// SOCK_CLOEXEC socket(2) flags, so this works unmodified on every platform
// this file's build tag names.
func newNonblockingSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}
