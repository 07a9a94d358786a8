// Package log is the rewrite job's structured logger. A single run emits a
// burst of records, one per failed copy at most, so records carry the run's
// build identity and errors render their chain inline.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is what every package logs through; nothing calls slog directly.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	// Error renders err's chain, type and stack under the record
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	// stamped on every record
	App     string
	Version string
	Commit  string
	BuildId string

	Level           slog.Level
	StacktraceLevel slog.Level
	JsonFormat      bool

	// links to source for each frame of a logged error
	MaxErrorLinks     int
	IncludeErrorLinks bool

	Writer io.Writer // nil means stderr; stdout carries -V output only
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts the LOG_LEVEL spellings, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log level %q: want debug, info, warn or error", s)
}
