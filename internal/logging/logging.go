// File: internal/logging/logging.go
// ============================================
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// LoggerInterface is what the rest of the bot logs through.
type LoggerInterface interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
	Sync() error
	ChangeLogLevel(level LogLevel)
}

// Logger writes to stdout and a size-rotated file.
type Logger struct {
	logger *log.Logger
	file   *lumberjack.Logger
	level  atomic.Int32
}

// NewLogger creates a logger writing to logFile (rotated by lumberjack) and stdout.
// An empty logFile logs to stdout only.
func NewLogger(logFile string, maxSize, maxBackups, maxAge int, compress bool, level LogLevel) (*Logger, error) {
	l := &Logger{}
	l.level.Store(int32(level))

	var out io.Writer = os.Stdout
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   compress,
		}
		out = io.MultiWriter(l.file, os.Stdout)
	}

	l.logger = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	return l, nil
}

func (l *Logger) enabled(level LogLevel) bool {
	return LogLevel(l.level.Load()) <= level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(DEBUG) {
		l.logger.Output(2, fmt.Sprintf("[DEBUG] "+format, v...))
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(INFO) {
		l.logger.Output(2, fmt.Sprintf("[INFO]  "+format, v...))
	}
}

// Warning logs a warning message
func (l *Logger) Warning(format string, v ...interface{}) {
	if l.enabled(WARNING) {
		l.logger.Output(2, fmt.Sprintf("[WARN]  "+format, v...))
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(ERROR) {
		l.logger.Output(2, fmt.Sprintf("[ERROR] "+format, v...))
	}
}

// Sync closes the current log file; lumberjack reopens it on the next write.
func (l *Logger) Sync() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ChangeLogLevel changes the logging level at runtime
func (l *Logger) ChangeLogLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// Nop discards everything. Used by tests and as a nil-safe default.
type Nop struct{}

func (Nop) Debug(string, ...interface{})   {}
func (Nop) Info(string, ...interface{})    {}
func (Nop) Warning(string, ...interface{}) {}
func (Nop) Error(string, ...interface{})   {}
func (Nop) Sync() error                    { return nil }
func (Nop) ChangeLogLevel(LogLevel)        {}
