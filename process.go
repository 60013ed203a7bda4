package greenrt

import (
	"context"
	"os"
	"os/exec"
	"sync"
)

// ProgramWaitState is the rendezvous point between a spawned child's
// exit-watcher goroutine and whichever fiber (if any) calls WaitProgram.
// Exactly one resume path runs regardless of which happens first: the
// child exiting or WaitProgram being called. The original implementation
// gets this for free because a single I/O thread serializes both events;
// this port uses an explicit mutex instead, since the exit-watcher here is
// necessarily its own goroutine around a blocking cmd.Wait() (see
// DESIGN.md Open Question 3).
type ProgramWaitState struct {
	mu       sync.Mutex
	exited   bool
	exitCode int
	waitReq  *ioRequest
	rt       *Runtime
}

// Process bundles a running child's stdio pipes and wait state, the Go
// analog of the original's ChildResult.
type Process struct {
	Stdin  *PipeHandle
	Stdout *PipeHandle
	Stderr *PipeHandle

	wait *ProgramWaitState
	cmd  *exec.Cmd
}

// RunProgram starts argv[0] with the remaining elements as arguments,
// wiring Stdin/Stdout/Stderr to PipeHandles the caller can ReadPipe/
// WritePipe against, and returns immediately once the child has been
// started (it does not wait for exit — see WaitProgram).
func RunProgram(ctx context.Context, argv []string, dir string, env []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyArgv
	}
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return nil, ErrNotAFiber
	}
	req := &ioRequest{kind: kindProgramRun, progRun: programRunPayload{argv: argv, dir: dir, env: env}}
	req = rt.yield(slot, req)
	if err := newOpError("RunProgram", req.progRun.result); err != nil {
		return nil, err
	}
	return req.progRun.proc, nil
}

// WaitProgram suspends the calling fiber until proc exits, returning its
// exit code.
func WaitProgram(ctx context.Context, proc *Process) (int, error) {
	rt, slot, ok := fiberFromContext(ctx)
	if !ok {
		return 0, ErrNotAFiber
	}
	req := &ioRequest{kind: kindProgramWait, progWait: programWaitPayload{state: proc.wait}}
	req = rt.yield(slot, req)
	if err := newOpError("WaitProgram", req.progWait.result); err != nil {
		return 0, err
	}
	return req.progWait.exitCode, nil
}

func (rt *Runtime) handleProgramRun(req *ioRequest) {
	rt.startThread(func() {
		p := &req.progRun

		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			p.result = -1
			rt.resume(req)
			return
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			p.result = -1
			rt.resume(req)
			return
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			p.result = -1
			rt.resume(req)
			return
		}

		cmd := exec.Command(p.argv[0], p.argv[1:]...)
		cmd.Dir = p.dir
		if len(p.env) > 0 {
			cmd.Env = p.env
		}
		cmd.Stdin = stdinR
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW

		if err := cmd.Start(); err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			stderrR.Close()
			stderrW.Close()
			p.result = -1
			rt.resume(req)
			return
		}
		// The child inherited the read/write ends it needs; this process
		// must close its own copies so EOF propagates correctly once the
		// child exits.
		stdinR.Close()
		stdoutW.Close()
		stderrW.Close()

		proc := &Process{
			Stdin:  newPipeHandle(stdinW),
			Stdout: newPipeHandle(stdoutR),
			Stderr: newPipeHandle(stderrR),
			wait:   &ProgramWaitState{rt: rt},
			cmd:    cmd,
		}

		rt.startThread(func() { rt.watchExit(proc) })

		p.proc = proc
		p.result = 0
		rt.resume(req)
	})
}

// watchExit blocks on cmd.Wait() and resolves the ProgramWaitState exactly
// once: either resuming a fiber already parked in WaitProgram, or just
// recording the exit code for a WaitProgram call that hasn't happened yet.
func (rt *Runtime) watchExit(proc *Process) {
	err := proc.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	w := proc.wait
	w.mu.Lock()
	w.exited = true
	w.exitCode = code
	waiter := w.waitReq
	w.waitReq = nil
	w.mu.Unlock()

	if waiter != nil {
		waiter.progWait.exitCode = code
		waiter.progWait.result = 0
		rt.resume(waiter)
	}
}

func (rt *Runtime) handleProgramWait(req *ioRequest) {
	w := req.progWait.state
	if w == nil {
		req.progWait.result = -1
		rt.resume(req)
		return
	}

	w.mu.Lock()
	if w.exited {
		code := w.exitCode
		w.mu.Unlock()
		req.progWait.exitCode = code
		req.progWait.result = 0
		rt.resume(req)
		return
	}
	w.waitReq = req
	w.mu.Unlock()
	// Resumed later by watchExit; nothing more to do on this goroutine.
}
