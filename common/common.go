// Package common holds service-wide constants and logger setup shared by the
// binaries and the HTTP layer.
package common

import (
	"log/slog"
	"os"
)

// PackageName identifies the service in metrics and logs.
const PackageName = "encryption_engine"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	// Debug lowers the log level to debug.
	Debug bool

	// JSON switches to JSON output for log collectors.
	JSON bool

	// Service and Version are attached to every record when set.
	Service string
	Version string
}

// SetupLogger builds the process-wide slog logger. Key material, passphrases
// and entry plaintext are never logged anywhere in this codebase; the logger
// carries only identifiers and outcomes.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
