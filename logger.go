package raytrace

import (
	"log/slog"

	"github.com/gogpu/raytrace/internal/logging"
	"github.com/gogpu/wgpu/hal"
)

// slogger returns the current package logger.
func slogger() *slog.Logger { return logging.Logger() }

// SetLogger configures the logger for raytrace, its internal packages and
// the wgpu hal layer. By default, raytrace produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to disable logging.
//
// Log levels used by raytrace:
//   - [slog.LevelDebug]: buffer sizes, GPU addresses, descriptor slots
//   - [slog.LevelInfo]: adapter selection, init completion
//   - [slog.LevelWarn]: compute fallback selected, release errors
//
// Example:
//
//	raytrace.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
	hal.SetLogger(logging.Logger())
}

// Logger returns the current logger used by raytrace.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
