package greenrt

import (
	"context"
	"os"
	"sync/atomic"
)

// PipeHandle wraps one end of an os.Pipe(): the stdio pipes RunProgram
// wires up. This package has no public constructor for it. Reads and
// writes are offloaded to goroutines exactly like file I/O (fs.go), since
// an os.File's blocking Read/Write cannot be multiplexed through the
// runtime's epoll-based poller the way a raw socket fd can.
type PipeHandle struct {
	f      *os.File
	closed atomic.Bool
}

func newPipeHandle(f *os.File) *PipeHandle {
	return &PipeHandle{f: f}
}

// ReadPipe reads up to len(buf) bytes, suspending the calling fiber while
// the read runs on an offloaded goroutine.
func ReadPipe(ctx context.Context, h *PipeHandle, buf []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrHandleClosed
	}
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindPipeRead, pipeData: pipeDataPayload{handle: h, buf: buf}}
	req = rt.yield(slot, req)
	if err := newOpError("ReadPipe", req.pipeData.n); err != nil {
		return 0, err
	}
	if req.pipeData.eof {
		return int(req.pipeData.n), ErrEOF
	}
	return int(req.pipeData.n), nil
}

// WritePipe writes buf, suspending the calling fiber while the write runs
// on an offloaded goroutine.
func WritePipe(ctx context.Context, h *PipeHandle, buf []byte) (int, error) {
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
	req := &ioRequest{kind: kindPipeWrite, pipeData: pipeDataPayload{handle: h, buf: buf}}
	req = rt.yield(slot, req)
	if err := newOpError("WritePipe", req.pipeData.n); err != nil {
		return 0, err
	}
	return int(req.pipeData.n), nil
}

// ClosePipe closes the underlying file descriptor.
func ClosePipe(ctx context.Context, h *PipeHandle) error {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return ErrNotAFiber
	}
	req := &ioRequest{kind: kindPipeClose, pipeOp: pipeClosePayload{handle: h}}
	req = rt.yield(slot, req)
	return newOpError("ClosePipe", req.pipeOp.result)
}

func (rt *Runtime) offloadPipe(req *ioRequest) {
	rt.startThread(func() {
		switch req.kind {
		case kindPipeRead:
			rt.doPipeRead(req)
		case kindPipeWrite:
			rt.doPipeWrite(req)
		case kindPipeClose:
			rt.doPipeClose(req)
		}
		rt.resume(req)
	})
}

func (rt *Runtime) doPipeRead(req *ioRequest) {
	p := &req.pipeData
	if p.handle == nil || p.handle.closed.Load() {
		p.n = -1
		return
	}
	n, err := p.handle.f.Read(p.buf)
	p.n = Result(n)
	if err != nil && n == 0 {
		p.eof = true
	}
}

func (rt *Runtime) doPipeWrite(req *ioRequest) {
	p := &req.pipeData
	if p.handle == nil || p.handle.closed.Load() {
		p.n = -1
		return
	}
	n, err := p.handle.f.Write(p.buf)
	if err != nil {
		p.n = -1
		return
	}
	p.n = Result(n)
}

func (rt *Runtime) doPipeClose(req *ioRequest) {
	p := &req.pipeOp
	if p.handle == nil {
		p.result = -1
		return
	}
	if !p.handle.closed.CompareAndSwap(false, true) {
		p.result = 0
		return
	}
	if err := p.handle.f.Close(); err != nil {
		p.result = -1
		return
	}
	p.result = 0
}
