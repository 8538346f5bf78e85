// Package logger provides structured logging for errsink
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/armorclaw/errsink/pkg/errchain"
)

// Version is reported in every record
var Version = "0.3.0"

var (
	globalLogger *Logger
	once         sync.Once
)

// Logger wraps slog.Logger with errsink-specific functionality
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration
type Config struct {
	Level     string
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or file path
	Component string
}

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return FromHandler(handler, cfg.Component), nil
}

// FromHandler builds a logger on an existing handler
func FromHandler(h slog.Handler, component string) *Logger {
	logger := slog.New(h).With(
		"service", "errsink",
		"component", component,
		"version", Version,
	)
	return &Logger{
		Logger:    logger,
		component: component,
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Initialize sets up the global logger and makes it the slog default
func Initialize(level, format, output string) error {
	var onceErr error
	once.Do(func() {
		if output == "" {
			output = "stdout"
		}
		if format == "" {
			format = "text"
		}
		if level == "" {
			level = "info"
		}

		var err error
		globalLogger, err = New(Config{
			Level:     level,
			Format:    format,
			Output:    output,
			Component: "errsink",
		})
		if err != nil {
			onceErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		slog.SetDefault(globalLogger.Logger)

		globalLogger.Debug("logger initialized",
			"level", level,
			"format", format,
			"output", output,
		)
	})

	return onceErr
}

// Global returns the global logger instance
func Global() *Logger {
	if globalLogger == nil {
		return FromHandler(slog.Default().Handler(), "errsink")
	}
	return globalLogger
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a new logger with the component name set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("component", component),
		component: component,
	}
}

// WithTraceID returns a new logger carrying a crash report trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("trace_id", traceID),
		component: l.component,
	}
}

// ErrorEvent logs an error with its kind and the given attributes
func (l *Logger) ErrorEvent(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("error", errorString(err)),
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error_kind", string(errchain.KindOf(err))),
	}

	allAttrs := append(baseAttrs, attrs...)

	l.LogAttrs(ctx, slog.LevelError, message, allAttrs...)
}

func errorString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// Info logs an info message
func Info(msg string, args ...any) {
	Global().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Global().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Global().Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Global().Debug(msg, args...)
}
