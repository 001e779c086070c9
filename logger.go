package snapcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with snapcache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithFile adds a file name field to the logger.
func (l *Logger) WithFile(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("file", name),
	}
}

// LogOpenInput logs an input open.
func (l *Logger) LogOpenInput(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open input failed",
			"file", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "input opened",
			"file", name,
		)
	}
}

// LogPrewarm logs a cache warming pass.
func (l *Logger) LogPrewarm(ctx context.Context, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache warming failed",
			"files", files,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "cache warming completed",
			"files", files,
		)
	}
}

// LogEviction logs an explicit region eviction.
func (l *Logger) LogEviction(ctx context.Context, name string) {
	l.DebugContext(ctx, "cache region evicted",
		"file", name,
	)
}
