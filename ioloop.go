//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package greenrt

import (
	"container/list"
	"context"

	"golang.org/x/sys/unix"
)

// listenBacklog matches BACKLOG in original_source/lib/async/async.c: a
// fixed connection backlog of 2000, not the platform's SOMAXCONN (128 on
// Linux).
const listenBacklog = 2000

// fdDesc tracks the FIFO queues of suspended read/write requests for one
// registered TCP socket, mirroring fdDesc in the gaio teacher. A writers
// entry is either a parked *ioRequest or, for a socket still completing
// connect(2), a *connectCB.
type fdDesc struct {
	readers list.List
	writers list.List
}

// tcpListener is a bound, listening socket with its accept-time fiber
// factory. Stored independently of any *ioRequest, since a listener
// outlives the ListenTCP call that created it.
type tcpListener struct {
	fd      int
	handler func(ctx context.Context, h *TCPHandle, arg any)
	arg     any
}

// connectCB marks a parked connect-completion request in a writers list,
// distinct from a regular queued write.
type connectCB struct {
	req *ioRequest
}

// ioLoop is the single goroutine that owns every fd-keyed data structure in
// the runtime: the poller, per-socket reader/writer queues, and the
// listener table. Like the gaio teacher's watcher.loop, keeping all of this
// on one goroutine means none of it needs its own lock.
func (rt *Runtime) ioLoop() {
	defer rt.ioLoopWG.Done()

	descs := make(map[int]*fdDesc)
	listeners := make(map[int]*tcpListener)
	swapBuf := make([]byte, rt.opts.swapBufferSize)

	defer func() {
		for fd := range descs {
			unix.Close(fd)
		}
		for fd := range listeners {
			unix.Close(fd)
		}
	}()

	for {
		req, ok := rt.submission.TryDequeue()
		if ok {
			if req == nil {
				return // poison pill from Shutdown
			}
			rt.dispatchRequest(req, descs, listeners, swapBuf)
			continue
		}

		ready, err := rt.poller.wait(rt.opts.pollInterval)
		if err != nil {
			Logger.Error().Err(err).Msg("greenrt: poller wait failed")
			continue
		}
		for _, r := range ready {
			rt.handleReady(r, descs, listeners, swapBuf)
		}
	}
}

func (rt *Runtime) dispatchRequest(req *ioRequest, descs map[int]*fdDesc, listeners map[int]*tcpListener, swapBuf []byte) {
	switch req.kind {
	case kindTCPListen:
		rt.handleListen(req, listeners)
	case kindTCPConnect:
		rt.handleConnect(req, descs)
	case kindTCPRead:
		rt.enqueueTCPOp(req, descs, true, swapBuf)
	case kindTCPWrite:
		rt.enqueueTCPOp(req, descs, false, swapBuf)
	case kindTCPClose:
		rt.handleTCPClose(req, descs)
	case kindFileOpen, kindFileRead, kindFileWrite, kindFileClose, kindReadDir:
		rt.offloadFS(req)
	case kindPipeRead, kindPipeWrite, kindPipeClose:
		rt.offloadPipe(req)
	case kindProgramRun:
		rt.handleProgramRun(req)
	case kindProgramWait:
		rt.handleProgramWait(req)
	}
}

func (rt *Runtime) handleListen(req *ioRequest, listeners map[int]*tcpListener) {
	p := &req.tcpListn
	addr, err := parseIPv4(p.host)
	if err != nil {
		p.result = -1
		rt.resume(req)
		return
	}

	fd, err := newNonblockingSocket()
	if err != nil {
		p.result = -1
		rt.resume(req)
		return
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		p.result = -1
		rt.resume(req)
		return
	}
	sa := &unix.SockaddrInet4{Addr: addr, Port: p.port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		p.result = -1
		rt.resume(req)
		return
	}
	// Fixed backlog of 2000, matching BACKLOG in original_source/lib/async/
	// async.c rather than the platform's SOMAXCONN (128 on Linux), which
	// would silently shrink the spec's specified backlog by 15x.
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		p.result = -1
		rt.resume(req)
		return
	}
	if err := rt.poller.register(fd, pollRead); err != nil {
		unix.Close(fd)
		p.result = -1
		rt.resume(req)
		return
	}

	listeners[fd] = &tcpListener{fd: fd, handler: p.handler, arg: p.arg}

	p.fd = fd
	p.result = 0
	rt.resume(req)
}

func (rt *Runtime) handleConnect(req *ioRequest, descs map[int]*fdDesc) {
	p := &req.tcpConn
	addr, err := parseIPv4(p.host)
	if err != nil {
		p.result = -1
		rt.resume(req)
		return
	}

	fd, err := newNonblockingSocket()
	if err != nil {
		p.result = -1
		rt.resume(req)
		return
	}

	sa := &unix.SockaddrInet4{Addr: addr, Port: p.port}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		p.result = -1
		rt.resume(req)
		return
	}

	h := &TCPHandle{fd: fd}
	descs[fd] = &fdDesc{}
	if err := rt.poller.register(fd, pollWrite); err != nil {
		delete(descs, fd)
		unix.Close(fd)
		p.result = -1
		rt.resume(req)
		return
	}

	p.handle = h
	// Park the request as a one-shot writer: the first writable
	// notification on a connecting socket signals connect() completion.
	descs[fd].writers.PushBack(&connectCB{req: req})
}

func (rt *Runtime) enqueueTCPOp(req *ioRequest, descs map[int]*fdDesc, isRead bool, swapBuf []byte) {
	h := req.tcpData.handle
	if h == nil || h.closed.Load() {
		req.tcpData.n = -1
		rt.resume(req)
		return
	}
	desc, ok := descs[h.fd]
	if !ok {
		req.tcpData.n = -1
		rt.resume(req)
		return
	}

	if isRead {
		if desc.readers.Len() == 0 && rt.tryReadTCP(h.fd, req, swapBuf) {
			rt.resume(req)
			return
		}
		desc.readers.PushBack(req)
	} else {
		if desc.writers.Len() == 0 && rt.tryWriteTCP(h.fd, req) {
			rt.resume(req)
			return
		}
		desc.writers.PushBack(req)
		// A connection only starts out registered for read-readiness
		// (accept) or write-readiness for connect-completion only
		// (connect); once a write actually blocks, the fd must also be
		// watched for write-readiness or it would never be retried.
		_ = rt.poller.modify(h.fd, pollRead|pollWrite)
	}
}

// tryReadTCP attempts one non-blocking read, returning true if the request
// is now complete (data available, EOF, or a hard error) and false if it
// should remain parked awaiting readiness (EAGAIN). Ported from gaio's
// tryRead, generalized to a fixed-size caller buffer instead of a growable
// internal one: when the caller passes no buffer of its own, it gets a
// slice of the shared swap buffer instead.
func (rt *Runtime) tryReadTCP(fd int, req *ioRequest, swapBuf []byte) bool {
	useSwap := len(req.tcpData.buf) == 0
	buf := req.tcpData.buf
	if useSwap {
		buf = swapBuf
	}

	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN {
			return false
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			req.tcpData.n = -1
			return true
		}
		if n == 0 {
			req.tcpData.n = 0
			req.tcpData.eof = true
			return true
		}
		req.tcpData.n = Result(n)
		if useSwap {
			req.tcpData.buf = buf[:n]
		}
		return true
	}
}

func (rt *Runtime) tryWriteTCP(fd int, req *ioRequest) bool {
	buf := req.tcpData.buf
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EAGAIN {
			return false
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			req.tcpData.n = -1
			return true
		}
		req.tcpData.n = Result(n)
		return true
	}
}

func (rt *Runtime) handleTCPClose(req *ioRequest, descs map[int]*fdDesc) {
	h := req.tcpOp.handle
	if h == nil {
		req.tcpOp.result = -1
		rt.resume(req)
		return
	}
	if !h.closed.CompareAndSwap(false, true) {
		req.tcpOp.result = 0
		rt.resume(req)
		return
	}

	if desc, ok := descs[h.fd]; ok {
		for e := desc.readers.Front(); e != nil; e = e.Next() {
			r := e.Value.(*ioRequest)
			r.tcpData.n = -1
			rt.resume(r)
		}
		for e := desc.writers.Front(); e != nil; e = e.Next() {
			switch v := e.Value.(type) {
			case *ioRequest:
				v.tcpData.n = -1
				rt.resume(v)
			case *connectCB:
				v.req.tcpConn.result = -1
				rt.resume(v.req)
			}
		}
		delete(descs, h.fd)
	}

	_ = rt.poller.unregister(h.fd)
	unix.Close(h.fd)

	// Fixed vs. the original C source: CloseTCP stamps ITS OWN request's result
	// field, never a sibling request's (see DESIGN.md Open Question 4).
	req.tcpOp.result = 0
	rt.resume(req)
}

func (rt *Runtime) handleReady(r readyFD, descs map[int]*fdDesc, listeners map[int]*tcpListener, swapBuf []byte) {
	if l, ok := listeners[r.fd]; ok {
		rt.acceptLoop(l, descs)
		return
	}

	desc, ok := descs[r.fd]
	if !ok {
		return
	}

	if r.events&pollWrite != 0 {
		if e := desc.writers.Front(); e != nil {
			if cb, isConnect := e.Value.(*connectCB); isConnect {
				desc.writers.Remove(e)
				rt.completeConnect(cb, r.fd, descs)
			} else {
				var next *list.Element
				for elem := desc.writers.Front(); elem != nil; elem = next {
					next = elem.Next()
					req := elem.Value.(*ioRequest)
					if rt.tryWriteTCP(r.fd, req) {
						desc.writers.Remove(elem)
						rt.resume(req)
					} else {
						break
					}
				}
				if desc.writers.Len() == 0 {
					// Stop polling for write-readiness until another
					// write actually blocks; most sockets are writable
					// almost always, so leaving this registered would
					// spin the poller every cycle for nothing.
					_ = rt.poller.modify(r.fd, pollRead)
				}
			}
		}
	}

	if r.events&pollRead != 0 {
		var next *list.Element
		for elem := desc.readers.Front(); elem != nil; elem = next {
			next = elem.Next()
			req := elem.Value.(*ioRequest)
			if rt.tryReadTCP(r.fd, req, swapBuf) {
				desc.readers.Remove(elem)
				rt.resume(req)
			} else {
				break
			}
		}
	}

	if r.events&(pollError|pollHangup) != 0 {
		var next *list.Element
		for elem := desc.readers.Front(); elem != nil; elem = next {
			next = elem.Next()
			req := elem.Value.(*ioRequest)
			req.tcpData.n = -1
			desc.readers.Remove(elem)
			rt.resume(req)
		}
		for elem := desc.writers.Front(); elem != nil; elem = next {
			next = elem.Next()
			switch v := elem.Value.(type) {
			case *ioRequest:
				v.tcpData.n = -1
				rt.resume(v)
			case *connectCB:
				v.req.tcpConn.result = -1
				rt.resume(v.req)
			}
			desc.writers.Remove(elem)
		}
	}
}

func (rt *Runtime) completeConnect(cb *connectCB, fd int, descs map[int]*fdDesc) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		delete(descs, fd)
		_ = rt.poller.unregister(fd)
		unix.Close(fd)
		cb.req.tcpConn.result = -1
		rt.resume(cb.req)
		return
	}
	_ = rt.poller.modify(fd, pollRead)
	cb.req.tcpConn.result = 0
	rt.resume(cb.req)
}

// acceptLoop drains every pending connection on a ready listener, spawning
// one new fiber per accepted socket. handler and arg are copied out of the
// listener record into each spawned job's own closure, so a connection's
// fiber never shares mutable state with the listener or with any other
// connection's fiber (see DESIGN.md Open Question 5).
func (rt *Runtime) acceptLoop(l *tcpListener, descs map[int]*fdDesc) {
	for {
		fd, _, err := unix.Accept(l.fd)
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			Logger.Warn().Err(err).Msg("greenrt: accept failed")
			return
		}

		_ = unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)

		h := &TCPHandle{fd: fd}
		descs[fd] = &fdDesc{}
		if err := rt.poller.register(fd, pollRead); err != nil {
			delete(descs, fd)
			unix.Close(fd)
			continue
		}

		handler, arg := l.handler, l.arg
		_ = rt.spawnGreenFn(func(ctx context.Context, a any) {
			handler(ctx, h, a)
		}, arg, false)
	}
}
