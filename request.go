package greenrt

import "context"

// ioRequestKind discriminates the tagged union of I/O operations a fiber can
// suspend on (spec.md §3 "I/O request", IORequestTag in original_source).
type ioRequestKind int

const (
	kindReadDir ioRequestKind = iota
	kindFileOpen
	kindFileRead
	kindFileWrite
	kindFileClose
	kindTCPListen
	kindTCPConnect
	kindTCPRead
	kindTCPWrite
	kindTCPClose
	kindProgramRun
	kindProgramWait
	kindPipeRead
	kindPipeWrite
	kindPipeClose
)

// ioRequest is the tagged union of spec.md §3: one struct, one kind tag, and
// exactly one populated payload field for that kind. slot is the return-to
// continuation — spec.md's "returnToState" — the fiber to re-enqueue once a
// completion handler has stamped its result.
//
// A request appears in at most one of {a fiber's local yield call, the I/O
// submission queue, an in-flight goroutine/epoll registration} at any time,
// matching the "at most one queue" invariant spec.md places on run-queue
// entries.
type ioRequest struct {
	kind ioRequestKind
	slot *fiberSlot

	readDir  readDirPayload
	fileOpen fileOpenPayload
	fileData fileDataPayload
	fileOp   fileClosePayload
	tcpListn tcpListenPayload
	tcpConn  tcpConnectPayload
	tcpData  tcpDataPayload
	tcpOp    tcpClosePayload
	progRun  programRunPayload
	progWait programWaitPayload
	pipeData pipeDataPayload
	pipeOp   pipeClosePayload
}

type readDirPayload struct {
	path   string
	result Result
	files  []DirEntry
}

type fileOpenPayload struct {
	name   string
	flags  int
	mode   uint32
	handle int
	result Result
}

type fileDataPayload struct {
	handle   int
	buf      []byte
	position int64
	n        Result
	eof      bool
}

type fileClosePayload struct {
	handle int
	result Result
}

type tcpListenPayload struct {
	host    string
	port    int
	arg     any
	handler func(ctx context.Context, h *TCPHandle, arg any)
	result  Result
	fd      int
}

type tcpConnectPayload struct {
	host   string
	port   int
	handle *TCPHandle
	result Result
}

type tcpDataPayload struct {
	handle *TCPHandle
	buf    []byte
	n      Result
	eof    bool
}

type tcpClosePayload struct {
	handle *TCPHandle
	result Result
}

type programRunPayload struct {
	argv   []string
	dir    string
	env    []string
	result Result
	proc   *Process
}

type programWaitPayload struct {
	state    *ProgramWaitState
	exitCode int
	result   Result
}

type pipeDataPayload struct {
	handle *PipeHandle
	buf    []byte
	n      Result
	eof    bool
}

type pipeClosePayload struct {
	handle *PipeHandle
	result Result
}

// DirEntry is the directory-scan result element (spec.md's uv_dirent_t
// analog): a name plus whether it is itself a directory.
type DirEntry struct {
	Name  string
	IsDir bool
}
