package greenrt

import (
	"context"
	"sync"
	"sync/atomic"
)

// runItem is a run-queue entry: a fiber ready to be continued, optionally
// carrying the completed request that woke it (nil for a brand-new spawn).
type runItem struct {
	slot *fiberSlot
	req  *ioRequest
	stop bool
}

// Runtime is the process-wide scheduler + I/O multiplexer. Construct one via
// Init; SpawnGreenFn, SpawnThread and ThreadCount operate on a package-level
// singleton, mirroring the original C library's global-state surface
// (spec.md §9 "Global mutable state"). The blocking calls (ReadFile,
// ListenTCP, etc.) instead find their *Runtime through the fiber's
// context.Context, so fiber bodies never thread a *Runtime through any
// signature.
type Runtime struct {
	opts options

	runQueue   *Queue[runItem]
	submission *Queue[*ioRequest]

	slots *slotPool

	poller netPoller

	threadCount atomic.Int64

	workers   sync.WaitGroup
	ioLoopWG  sync.WaitGroup
	closeOnce sync.Once
}

var (
	runtimeMu sync.Mutex
	runtime_  *Runtime
)

// Init initializes the run-queue, I/O submission queue, and starts the I/O
// goroutine plus workerCount (or more precisely opts.workerCount) worker
// goroutines. It is the Go analog of initRuntime(threadNum) in spec.md §6.
// Calling Init twice without an intervening Shutdown returns
// ErrAlreadyInitialized.
func Init(opts ...Option) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtime_ != nil {
		return ErrAlreadyInitialized
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(*o.logger)
	}

	rt := &Runtime{
		opts:       o,
		runQueue:   NewQueue[runItem](),
		submission: NewQueue[*ioRequest](),
		slots:      newSlotPool(),
	}

	poller, err := newNetPoller()
	if err != nil {
		return err
	}
	rt.poller = poller

	rt.ioLoopWG.Add(1)
	go rt.ioLoop()

	for i := 0; i < o.workerCount; i++ {
		rt.workers.Add(1)
		workerID := i
		rt.startThread(func() { rt.workerLoop(workerID) })
	}

	runtime_ = rt
	Logger.Info().Int("workers", o.workerCount).Msg("greenrt: runtime initialized")
	return nil
}

// Shutdown stops the I/O goroutine and all workers, and clears the
// package-level singleton. Fibers that are still suspended on I/O at the
// time of Shutdown never resume; Shutdown is meant for test teardown and
// graceful process exit, not for use while fibers are in flight.
func Shutdown() {
	runtimeMu.Lock()
	rt := runtime_
	runtime_ = nil
	runtimeMu.Unlock()

	if rt == nil {
		return
	}

	rt.closeOnce.Do(func() {
		for i := 0; i < rt.opts.workerCount; i++ {
			rt.runQueue.Enqueue(runItem{stop: true})
		}
		rt.workers.Wait()

		rt.submission.Enqueue(nil) // poison pill for the I/O loop
		rt.ioLoopWG.Wait()

		_ = rt.poller.Close()
	})
}

func current() (*Runtime, error) {
	runtimeMu.Lock()
	rt := runtime_
	runtimeMu.Unlock()
	if rt == nil {
		return nil, ErrNotInitialized
	}
	return rt, nil
}

// startThread spawns a bare goroutine that is NOT a fiber — the Go analog of
// startThread(routine, arg) in spec.md §6. Used internally for worker and
// I/O-offload goroutines; exposed publicly as SpawnThread.
func (rt *Runtime) startThread(fn func()) {
	rt.threadCount.Add(1)
	go func() {
		defer rt.threadCount.Add(-1)
		fn()
	}()
}

// workerLoop is the Go realization of the worker thread state machine in
// spec.md §4.5: it alternates between scheduler bookkeeping and hosting a
// fiber for the duration of one run-queue item, and returns only when it
// dequeues one of the stop items Shutdown enqueues.
func (rt *Runtime) workerLoop(id int) {
	defer rt.workers.Done()
	log := workerLogger(id)
	log.Debug().Msg("greenrt: worker started")
	defer log.Debug().Msg("greenrt: worker stopped")
	for {
		item := rt.runQueue.Dequeue()
		if item.stop {
			return
		}

		slot := item.slot
		if item.req == nil && slot.pendingJob != nil {
			job := slot.pendingJob
			slot.pendingJob = nil
			rt.runFiber(slot, job)
		} else {
			slot.wake <- item.req
		}

		// Block until this fiber either suspends on I/O (having already
		// pushed its request onto the submission queue) or terminates
		// (having already recycled its own slot). Either way this worker
		// is now free to service the next run-queue item.
		<-slot.relinquish
	}
}

// runFiber starts the goroutine that hosts one fiber for its entire
// lifetime — the Go analog of allocating a stack and jumping to the
// trampoline (spec.md §4.4). The goroutine itself is spawned fresh here and
// exits for good at fiber termination; only the *fiberSlot it releases on
// the way out is recycled, not the goroutine. runFiber returns immediately;
// the goroutine signals relinquish when the fiber first suspends or
// terminates.
func (rt *Runtime) runFiber(slot *fiberSlot, job *spawnJob) {
	log := fiberLogger(slot)
	log.Debug().Msg("greenrt: fiber started")
	go func() {
		defer func() {
			log.Debug().Msg("greenrt: fiber terminated")
			// Trampoline epilogue: report termination to the hosting
			// worker before recycling the slot, so it can never be observed
			// both "free" and "in flight" at once (spec.md's
			// recycle-soundness property).
			slot.relinquish <- struct{}{}
			rt.slots.release(slot)
			if job.freeArg {
				job.arg = nil
			}
		}()
		ctx := withFiber(context.Background(), rt, slot)
		job.routine(ctx, job.arg)
	}()
}

// spawnGreenFn schedules a new fiber: TaskArgs + TaskState construction and
// run-queue enqueue (spec.md §4.4 "Spawn"). The caller's own goroutine (fiber
// or not) performs this; the NEW fiber's slot is drawn from the shared slot
// pool by whichever thread calls spawnGreenFn, not by the worker that later
// dequeues it — see DESIGN.md Open Question 1.
func (rt *Runtime) spawnGreenFn(routine func(ctx context.Context, arg any), arg any, freeArg bool) error {
	slot := rt.slots.acquire()
	slot.pendingJob = &spawnJob{routine: routine, arg: arg, freeArg: freeArg}
	rt.runQueue.Enqueue(runItem{slot: slot})
	return nil
}

// yield is the context-switch primitive of spec.md §4.3, realized as a
// channel handshake rather than a register save/restore. It must only be
// called from within a fiber's own goroutine (i.e. from inside the public
// blocking API, which is only meant to be called from fiber bodies).
//
// Semantics: (a) attach slot as the request's return-to continuation, (b)
// make the request visible to the I/O thread by pushing it onto the
// submission queue, (c) tell the hosting worker this fiber is relinquishing
// control, (d) block until resumed, returning the same request object now
// stamped with its result.
func (rt *Runtime) yield(slot *fiberSlot, req *ioRequest) *ioRequest {
	req.slot = slot
	rt.submission.Enqueue(req)
	slot.relinquish <- struct{}{}
	return <-slot.wake
}

// resume is called by a completion handler once a request's result fields
// are stamped: it re-enqueues the request's fiber onto the run-queue so some
// worker will eventually call continue() on it (spec.md §4.7).
func (rt *Runtime) resume(req *ioRequest) {
	rt.runQueue.Enqueue(runItem{slot: req.slot, req: req})
}

// SpawnGreenFn schedules routine to run as a new fiber with argument arg.
// routine receives a context.Context bound to its own fiber; pass it
// unchanged to every blocking call this package exposes (ReadFile,
// ListenTCP, WaitProgram, ...). If freeArg is true, arg is dropped (made
// eligible for GC) once routine returns. This is the public analog of
// startGreenFn in spec.md §6.
func SpawnGreenFn(routine func(ctx context.Context, arg any), arg any, freeArg bool) error {
	rt, err := current()
	if err != nil {
		return err
	}
	return rt.spawnGreenFn(routine, arg, freeArg)
}

// SpawnThread runs routine on a bare goroutine that is not a fiber: it
// cannot call the fiber-blocking API in this package. This is the public
// analog of startThread in spec.md §6.
func SpawnThread(routine func(arg any), arg any) error {
	rt, err := current()
	if err != nil {
		return err
	}
	rt.startThread(func() { routine(arg) })
	return nil
}

// ThreadCount reports the number of live goroutines started through
// startThread: the worker goroutines, bare threads started via SpawnThread,
// and the runtime's own I/O-offload goroutines, mirroring the original's
// globalThreadCount atomic counter. The I/O loop goroutine and the
// goroutines hosting fibers are not counted.
func ThreadCount() int64 {
	rt, err := current()
	if err != nil {
		return 0
	}
	return rt.threadCount.Load()
}
