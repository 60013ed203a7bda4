package greenrt

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
)

// fileTable maps the small integer handles this package hands out back to
// the *os.File backing them — kept out of fileOpenPayload/fileDataPayload so
// those stay plain, comparable, serializable-looking request shapes (the
// Go analog of the original's small-integer "uv_file" handles).
var (
	fileTableMu sync.Mutex
	fileTable   = map[int]*os.File{}
	nextFileID  atomic.Int64
)

func putFile(f *os.File) int {
	id := int(nextFileID.Add(1))
	fileTableMu.Lock()
	fileTable[id] = f
	fileTableMu.Unlock()
	return id
}

func getFile(id int) (*os.File, bool) {
	fileTableMu.Lock()
	f, ok := fileTable[id]
	fileTableMu.Unlock()
	return f, ok
}

func dropFile(id int) {
	fileTableMu.Lock()
	delete(fileTable, id)
	fileTableMu.Unlock()
}

// OpenFile opens name with the given flags/mode (os.O_* / standard Unix
// permission bits), suspending the calling fiber while the open(2) syscall
// runs on an offloaded goroutine, and returns an opaque file handle.
func OpenFile(ctx context.Context, name string, flags int, mode uint32) (int, error) {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindFileOpen, fileOpen: fileOpenPayload{name: name, flags: flags, mode: mode}}
	req = rt.yield(slot, req)
	if err := newOpError("OpenFile", req.fileOpen.result); err != nil {
		return 0, err
	}
	return req.fileOpen.handle, nil
}

// ReadFile reads up to len(buf) bytes at position into buf.
func ReadFile(ctx context.Context, handle int, buf []byte, position int64) (int, error) {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindFileRead, fileData: fileDataPayload{handle: handle, buf: buf, position: position}}
	req = rt.yield(slot, req)
	if err := newOpError("ReadFile", req.fileData.n); err != nil {
		return 0, err
	}
	if req.fileData.eof {
		return int(req.fileData.n), ErrEOF
	}
	return int(req.fileData.n), nil
}

// WriteFile writes buf at position.
func WriteFile(ctx context.Context, handle int, buf []byte, position int64) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyBuffer
	}
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindFileWrite, fileData: fileDataPayload{handle: handle, buf: buf, position: position}}
	req = rt.yield(slot, req)
	if err := newOpError("WriteFile", req.fileData.n); err != nil {
		return 0, err
	}
	return int(req.fileData.n), nil
}

// CloseFile closes the file behind handle.
func CloseFile(ctx context.Context, handle int) error {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return ErrNotAFiber
	}
	req := &ioRequest{kind: kindFileClose, fileOp: fileClosePayload{handle: handle}}
	req = rt.yield(slot, req)
	return newOpError("CloseFile", req.fileOp.result)
}

// ReadDir lists path's entries. The scan is a single os.ReadDir call on an
// offloaded goroutine; the result slice is allocated once, with a capacity
// of at least the configured dir-scan capacity (WithDirScanCapacity).
func ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return nil, ErrNotAFiber
	}
	req := &ioRequest{kind: kindReadDir, readDir: readDirPayload{path: path}}
	req = rt.yield(slot, req)
	if err := newOpError("ReadDir", req.readDir.result); err != nil {
		return nil, err
	}
	return req.readDir.files, nil
}

// offloadFS runs one filesystem request on its own goroutine, since these
// are ordinary blocking syscalls the Go runtime cannot multiplex the way it
// can epoll-backed sockets — the Go analog of the original's libuv
// threadpool offload for filesystem work.
func (rt *Runtime) offloadFS(req *ioRequest) {
	rt.startThread(func() {
		switch req.kind {
		case kindFileOpen:
			rt.doFileOpen(req)
		case kindFileRead:
			rt.doFileRead(req)
		case kindFileWrite:
			rt.doFileWrite(req)
		case kindFileClose:
			rt.doFileClose(req)
		case kindReadDir:
			rt.doReadDir(req)
		}
		rt.resume(req)
	})
}

func (rt *Runtime) doFileOpen(req *ioRequest) {
	p := &req.fileOpen
	f, err := os.OpenFile(p.name, p.flags, os.FileMode(p.mode))
	if err != nil {
		p.result = -1
		return
	}
	p.handle = putFile(f)
	p.result = 0
}

func (rt *Runtime) doFileRead(req *ioRequest) {
	p := &req.fileData
	f, ok := getFile(p.handle)
	if !ok {
		p.n = -1
		return
	}
	n, err := f.ReadAt(p.buf, p.position)
	p.n = Result(n)
	if err != nil && n == 0 {
		p.eof = true
	}
}

func (rt *Runtime) doFileWrite(req *ioRequest) {
	p := &req.fileData
	f, ok := getFile(p.handle)
	if !ok {
		p.n = -1
		return
	}
	n, err := f.WriteAt(p.buf, p.position)
	if err != nil {
		p.n = -1
		return
	}
	p.n = Result(n)
}

func (rt *Runtime) doFileClose(req *ioRequest) {
	p := &req.fileOp
	f, ok := getFile(p.handle)
	if !ok {
		p.result = -1
		return
	}
	dropFile(p.handle)
	if err := f.Close(); err != nil {
		p.result = -1
		return
	}
	p.result = 0
}

func (rt *Runtime) doReadDir(req *ioRequest) {
	p := &req.readDir
	entries, err := os.ReadDir(p.path)
	if err != nil {
		p.result = -1
		return
	}
	prealloc := rt.opts.dirScanCapacity
	if len(entries) > prealloc {
		prealloc = len(entries)
	}
	out := make([]DirEntry, 0, prealloc)
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	p.files = out
	p.result = Result(len(out))
}
