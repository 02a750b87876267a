package logutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LevelTrace is below debug and logs every resolved variable.
const LevelTrace slog.Level = -8

// NewLogger returns a text logger that prints the trace level by name and
// only the base name of source files. Call sites are recorded below info.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   level < slog.LevelInfo,
		ReplaceAttr: replaceAttr,
	}))
}

// replaceAttr rewrites the built-in level and source attributes. Attributes
// passed by callers may reuse those keys with other values and are left as
// they are.
func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}

	switch v := attr.Value.Any().(type) {
	case slog.Level:
		if attr.Key == slog.LevelKey && v == LevelTrace {
			attr.Value = slog.StringValue("TRACE")
		}
	case *slog.Source:
		if attr.Key == slog.SourceKey {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(v.File), v.Line))
		}
	}
	return attr
}

// Setup installs a logger for w as the default and returns it.
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	logger := NewLogger(w, level)
	slog.SetDefault(logger)
	return logger
}

type key string

func Trace(msg string, args ...any) {
	TraceContext(context.WithValue(context.TODO(), key("skip"), 1), msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	if logger := slog.Default(); logger.Enabled(ctx, LevelTrace) {
		skip, _ := ctx.Value(key("skip")).(int)
		pc, _, _, _ := runtime.Caller(1 + skip)
		record := slog.NewRecord(time.Now(), LevelTrace, msg, pc)
		record.Add(args...)
		logger.Handler().Handle(ctx, record)
	}
}
