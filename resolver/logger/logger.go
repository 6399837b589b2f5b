package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"tuneresolve/resolver"
)

// Logger wraps slog.Logger to satisfy resolver.Logger.
type Logger struct {
	logger *slog.Logger
}

// New creates a Logger writing to stdout with the configured format.
func New(level, format string, addSource bool) *Logger {
	return NewWithWriter(os.Stdout, level, format, addSource)
}

// NewWithWriter creates a Logger writing to the given writer.
func NewWithWriter(w io.Writer, level, format string, addSource bool) *Logger {
	options := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: addSource,
	}

	format = strings.ToLower(strings.TrimSpace(format))
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}

	return &Logger{logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error", "text", false)
}

// With returns a child logger with additional fields.
func (l *Logger) With(args ...any) resolver.Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}
