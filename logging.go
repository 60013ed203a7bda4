package greenrt

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger is the package-wide structured logger, backed directly by zerolog
// rather than through a generic logging facade (see DESIGN.md / SPEC_FULL.md
// §7 for why this runtime speaks zerolog's API directly instead of wrapping
// it behind an interface). It defaults to a console writer at info level so
// the sample programs under cmd/ are readable without configuration.
var Logger zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	Level(zerolog.InfoLevel).
	With().
	Timestamp().
	Str("component", "greenrt").
	Logger()

var loggerSet atomic.Bool

// SetLogger replaces the package-wide Logger, e.g. to redirect to JSON
// output or attach request-scoped fields. Safe to call before Init; calling
// it concurrently with logging from a running runtime is not synchronized
// beyond what zerolog.Logger itself guarantees (safe for concurrent use).
func SetLogger(l zerolog.Logger) {
	Logger = l
	loggerSet.Store(true)
}

func workerLogger(id int) zerolog.Logger {
	return Logger.With().Int("worker_id", id).Logger()
}

func fiberLogger(slot *fiberSlot) zerolog.Logger {
	return Logger.With().Uint64("fiber_id", slot.id).Logger()
}
