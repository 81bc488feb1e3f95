// Package logging wires slog to rotating log files and the console.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"trellis/internal/config"
)

var (
	// Global state for cleanup
	logFiles   []*lumberjack.Logger
	logFilesMu sync.Mutex
)

// Initialize sets up the global logger based on configuration
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	slog.SetDefault(logger)

	slog.Info("Logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
	)

	return nil
}

// NewLogger creates a logger instance with the given configuration. File
// sinks are registered for Shutdown to close.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	var handlers []slog.Handler

	if cfg.Console.Enabled {
		level := parseLevel(cfg.Console.Level)
		handlers = append(handlers, newHandler(os.Stdout, cfg.Console.Format, level))
	}

	if cfg.File.Enabled {
		// Main log file (all levels)
		mainFile := newRotatingFile(cfg, "trellis.log")
		handlers = append(handlers, newHandler(mainFile, cfg.File.Format, parseLevel(cfg.File.Level)))

		// Error log file (warn and above only)
		errorFile := newRotatingFile(cfg, "errors.log")
		errorHandler := newHandler(errorFile, cfg.File.Format, slog.LevelWarn)
		handlers = append(handlers, NewLevelFilter(errorHandler, slog.LevelWarn))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = newHandler(io.Discard, cfg.Format, parseLevel(cfg.Level))
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	return slog.New(handler), nil
}

// Shutdown closes every rotating log file opened by NewLogger.
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()

	for _, logFile := range logFiles {
		if err := logFile.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}

	logFiles = nil
	return nil
}

func newRotatingFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}

	logFilesMu.Lock()
	logFiles = append(logFiles, logFile)
	logFilesMu.Unlock()

	return logFile
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
