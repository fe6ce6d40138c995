// Package slogging provides the application-wide logging component built on
// log/slog, with optional rotating file output.
package slogging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents logging verbosity
type LogLevel int

const (
	// LogLevelDebug includes detailed debug information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo includes general operational information
	LogLevelInfo
	// LogLevelWarn includes warnings and errors only
	LogLevelWarn
	// LogLevelError includes only errors
	LogLevelError
)

// ParseLogLevel converts a string log level to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config holds configuration options for the logger
type Config struct {
	// Level is the minimum log level to output
	Level LogLevel
	// IsDev selects human-readable text output instead of JSON
	IsDev bool
	// LogDir is the directory to store log files; empty disables file output
	LogDir string
	// MaxSizeMB is the maximum size of a log file before rotation
	MaxSizeMB int
	// MaxBackups is the maximum number of rotated files to retain
	MaxBackups int
	// MaxAgeDays is the maximum number of days to retain logs
	MaxAgeDays int
	// AlsoLogToConsole controls whether logs also go to stdout
	AlsoLogToConsole bool
}

// Logger is the slog-based logging component. Methods take printf-style
// format strings to keep call sites terse.
type Logger struct {
	slogger    *slog.Logger
	level      LogLevel
	fileLogger *lumberjack.Logger
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Initialize sets up the global logger. It is called once at process start.
func Initialize(cfg Config) (*Logger, error) {
	var writers []io.Writer

	var fileLogger *lumberjack.Logger
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileLogger = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "pulse.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, fileLogger)
	}
	if cfg.AlsoLogToConsole || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	out := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	var handler slog.Handler
	if cfg.IsDev {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := &Logger{
		slogger:    slog.New(handler),
		level:      cfg.Level,
		fileLogger: fileLogger,
	}

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	return logger, nil
}

// Get returns the global logger, initializing a console-only default if
// Initialize has not been called (keeps tests and early startup working).
func Get() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	logger, _ = Initialize(Config{Level: LogLevelInfo, IsDev: true, AlsoLogToConsole: true})
	return logger
}

// Close flushes and closes any file output
func (l *Logger) Close() error {
	if l.fileLogger != nil {
		return l.fileLogger.Close()
	}
	return nil
}

// With returns a logger that adds the given attributes to every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slogger:    l.slogger.With(args...),
		level:      l.level,
		fileLogger: l.fileLogger,
	}
}

// Debug logs a message at debug level
func (l *Logger) Debug(format string, args ...any) {
	l.slogger.Debug(fmt.Sprintf(format, args...))
}

// Info logs a message at info level
func (l *Logger) Info(format string, args ...any) {
	l.slogger.Info(fmt.Sprintf(format, args...))
}

// Warn logs a message at warn level
func (l *Logger) Warn(format string, args ...any) {
	l.slogger.Warn(fmt.Sprintf(format, args...))
}

// Error logs a message at error level
func (l *Logger) Error(format string, args ...any) {
	l.slogger.Error(fmt.Sprintf(format, args...))
}
