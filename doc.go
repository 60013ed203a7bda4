// Package greenrt implements a cooperative, fiber-based concurrency runtime:
// ordinary, synchronously written functions ("fibers") perform file,
// network, pipe, and process I/O without blocking an OS thread, scheduled
// M:N across a small fixed pool of worker goroutines by a single shared
// run-queue and a dedicated I/O goroutine.
//
// Call Init once at startup, SpawnGreenFn to start fibers, and call
// Shutdown during teardown. Every blocking call in this package
// (ReadFile, ListenTCP, WaitProgram, ...) must be called with the
// context.Context handed to a fiber's routine by SpawnGreenFn — calling one
// from a bare goroutine (SpawnThread) or outside any fiber returns
// ErrNotAFiber.
package greenrt
