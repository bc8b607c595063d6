package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
	colorGray   = "\033[90m"
)

// colorize adds ANSI color codes to the message based on level
func colorize(level slog.Level, msg string) string {
	switch level {
	case slog.LevelError:
		return colorRed + msg + colorReset
	case slog.LevelWarn:
		return colorYellow + msg + colorReset
	case slog.LevelInfo:
		return colorGreen + msg + colorReset
	case slog.LevelDebug:
		return colorCyan + msg + colorReset
	default:
		return colorWhite + msg + colorReset
	}
}

// Log level constants
const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
)

type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a new logger instance
func NewLogger(output io.Writer, level slog.Level) *Logger {
	// Terminals get the colored console handler
	if output == os.Stdout || output == os.Stderr {
		return &Logger{logger: slog.New(&consoleHandler{
			out:   output,
			mu:    &sync.Mutex{},
			level: level,
		})}
	}

	// Otherwise, use JSON handler for other outputs (files, buffers, etc.)
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Only show the filename, not the full path
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
					a.Value = slog.AnyValue(source)
				}
			}
			return a
		},
	})

	return &Logger{logger: slog.New(handler)}
}

// consoleHandler is a custom handler for colored console output
type consoleHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func (h *consoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	levelStr := r.Level.String()
	switch r.Level {
	case slog.LevelError:
		levelStr = colorize(r.Level, "ERROR")
	case slog.LevelWarn:
		levelStr = colorize(r.Level, "WARN ")
	case slog.LevelInfo:
		levelStr = colorize(r.Level, "INFO ")
	case slog.LevelDebug:
		levelStr = colorize(r.Level, "DEBUG")
	}

	timeStr := colorGray + r.Time.Format("15:04:05.000") + colorReset

	msgParts := []string{fmt.Sprintf("%s %s %s", timeStr, levelStr, r.Message)}

	appendAttr := func(attr slog.Attr) bool {
		attrStr := fmt.Sprintf("%s%s=%v", h.prefix, attr.Key, attr.Value)
		switch attr.Key {
		case "error":
			msgParts = append(msgParts, colorize(slog.LevelError, attrStr))
		case "session", "service":
			msgParts = append(msgParts, colorize(slog.LevelDebug, attrStr))
		default:
			msgParts = append(msgParts, colorize(slog.LevelInfo, attrStr))
		}
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, strings.Join(msgParts, " "))
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

// DefaultLogger creates a logger writing to stderr at info level, leaving stdout
// to the text a session surfaces.
func DefaultLogger() *Logger {
	return NewLogger(os.Stderr, InfoLevel)
}

// With adds attributes to the logger
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		logger: l.logger.With(toAttrSlice(args)...),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.logger.Debug(msg, toAttrSlice(args)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.logger.Info(msg, toAttrSlice(args)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.logger.Warn(msg, toAttrSlice(args)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.logger.Error(msg, toAttrSlice(args)...)
}

// WithSessionID tags every message with a TCP session id
func (l *Logger) WithSessionID(id string) *Logger {
	return l.With("session", id)
}

// WithError adds an error to the logger
func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err.Error())
}

// toAttrSlice converts key-value pairs to slog.Attr slice
func toAttrSlice(args []interface{}) []any {
	if len(args)%2 != 0 {
		args = append(args, "(MISSING)")
	}
	attrs := make([]any, 0, len(args))
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		attrs = append(attrs, key, args[i+1])
	}
	return attrs
}

// PrettyPrint prints any value as formatted JSON
func PrettyPrint(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
