package greenrt

import (
	"time"

	"github.com/rs/zerolog"
)

// defaultWorkerCount mirrors the original's default thread count when the
// caller does not override it: enough workers to keep a handful of blocking
// syscalls in flight without over-subscribing the scheduler.
const (
	defaultWorkerCount     = 4
	defaultSwapBufferSize  = 64 * 1024
	defaultPollInterval    = 5 * time.Millisecond
	defaultDirScanCapacity = 32
)

// options holds every tunable Init accepts. Unexported: callers configure it
// only through Option values, following the functional-options idiom used
// throughout this codebase's dependency surface for builder-style config.
type options struct {
	workerCount     int
	swapBufferSize  int
	pollInterval    time.Duration
	dirScanCapacity int
	logger          *zerolog.Logger
}

func defaultOptions() options {
	return options{
		workerCount:     defaultWorkerCount,
		swapBufferSize:  defaultSwapBufferSize,
		pollInterval:    defaultPollInterval,
		dirScanCapacity: defaultDirScanCapacity,
	}
}

// Option configures the runtime at Init time.
type Option func(*options)

// WithWorkerCount sets the number of worker goroutines hosting fibers. This
// bounds true concurrency: at most n fiber bodies ever run at once,
// regardless of how many fibers are alive. Values <= 0 are ignored.
func WithWorkerCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workerCount = n
		}
	}
}

// WithSwapBufferSize sets the size of the scratch buffer the I/O loop falls
// back to for a TCP read when the caller's own buffer is empty. Values <= 0
// are ignored.
func WithSwapBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.swapBufferSize = n
		}
	}
}

// WithPollInterval sets how long the I/O loop blocks waiting for socket
// readiness before it checks the submission queue again, the Go analog of
// the original's fixed 5ms scheduling tick. Values <= 0 are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithDirScanCapacity sets the minimum capacity of the DirEntry slice each
// ReadDir call allocates for its result; a directory with more entries gets
// a slice sized to its entry count. Values <= 0 are ignored.
func WithDirScanCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.dirScanCapacity = n
		}
	}
}

// WithLogger replaces the package-wide Logger for the lifetime of the
// runtime Init starts, the Go analog of the eventloop package's
// New(WithLogger(...)) construction-time logger injection. Equivalent to
// calling SetLogger before Init, but expressed as an Init-time Option so
// the logger travels with the rest of a call site's configuration.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}
