package texcache

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/texcache/backend"
	"github.com/gogpu/texcache/kernel"
	"github.com/gogpu/texcache/pool"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for texcache and its sub-packages
// (kernel, pool, backend). By default texcache produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the default
// silent behavior.
//
// Log levels used by texcache:
//   - [slog.LevelDebug]: cache hits, pool ring wraps, skipped textures
//   - [slog.LevelInfo]: lifecycle events (backend selected, kernels warmed)
//   - [slog.LevelWarn]: non-fatal issues (kernel compile failure, corrupt
//     kernel store records, CPU fallback after a failed dispatch)
//
// Example:
//
//	texcache.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
//
// The wgpu backend lives behind a build tag and is configured separately
// through its own SetLogger, typically with the value of [Logger].
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	kernel.SetLogger(l)
	pool.SetLogger(l)
	backend.SetLogger(l)
}

// Logger returns the current logger used by texcache.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
