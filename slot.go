package greenrt

import (
	"context"
	"sync"
	"sync/atomic"
)

var nextSlotID atomic.Uint64

// spawnJob is the argument record of a not-yet-started fiber: TaskArgs in
// spec.md §3. It owns the routine and its argument; freeArg controls whether
// the argument is dropped (eligible for GC) once the routine returns,
// mirroring the original's "freeArgs" flag.
type spawnJob struct {
	routine func(ctx context.Context, arg any)
	arg     any
	freeArg bool
}

// fiberSlot is the Go realization of a fiber's saved context (TaskState in
// spec.md §3). Unlike the original's register/stack-pointer snapshot, a slot
// is backed by the goroutine hosting its fiber for that fiber's lifetime (a
// fresh goroutine per spawn, not a recycled one — only the slot's two
// channels are recycled) and used as a strict handshake between that
// goroutine and whichever worker is currently hosting it:
//
//   - wake carries control FROM a worker TO the fiber goroutine: the
//     just-completed *ioRequest, to resume a fiber that had suspended. A
//     brand new fiber is not started through wake; the worker starts its
//     goroutine directly (runFiber), which runs its spawnJob.
//   - relinquish carries control FROM the fiber goroutine BACK to its
//     hosting worker: signalled the instant the fiber either pushes a
//     request onto the I/O submission queue (suspending) or returns from
//     its routine (terminating). The worker never needs to know which —
//     either way it is free to dequeue the next run-queue item.
//
// The hosting worker blocks on relinquish for the entire duration a fiber is
// "running" — this is what bounds true concurrency to the worker count even
// though there may be many more live fiber goroutines than workers at once.
type fiberSlot struct {
	id uint64

	wake       chan *ioRequest
	relinquish chan struct{}

	// pendingJob is set only between the moment a brand-new fiber is
	// enqueued on the run-queue and the moment a worker dequeues it and
	// starts its goroutine. Never touched concurrently: producers set it
	// once before enqueuing, and only the dequeuing worker reads it.
	pendingJob *spawnJob
}

func newFiberSlot() *fiberSlot {
	return &fiberSlot{
		id:         nextSlotID.Add(1),
		wake:       make(chan *ioRequest, 1),
		relinquish: make(chan struct{}, 1),
	}
}

// reset clears a recycled slot's job pointer before it is handed to a new
// spawn. The channels are reused as-is: they are always empty at this point,
// since a slot is only recycled after its fiber goroutine has reported
// termination and before anything sends on wake again.
func (s *fiberSlot) reset() {
	s.pendingJob = nil
	s.id = nextSlotID.Add(1)
}

// slotPool is the stack pool of spec.md §4.2, ported to recycle *fiberSlot
// values instead of raw memory stacks (see DESIGN.md Open Question 1 for why
// this is one global pool rather than per-worker thread-locals).
type slotPool struct {
	mu   sync.Mutex
	free []*fiberSlot
}

func newSlotPool() *slotPool {
	return &slotPool{}
}

// acquire pops a recycled slot if one exists, else allocates a fresh one.
func (p *slotPool) acquire() *fiberSlot {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return newFiberSlot()
	}
	s := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.mu.Unlock()
	s.reset()
	return s
}

// release pushes a slot whose fiber has just terminated back onto the free
// list. The caller must guarantee the fiber's goroutine is not (and will
// never again be) reachable via the run-queue or an in-flight I/O request —
// spec.md's "recycle soundness" testable property.
func (p *slotPool) release(s *fiberSlot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

// size reports the number of idle, recycled slots. Diagnostic only.
func (p *slotPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
