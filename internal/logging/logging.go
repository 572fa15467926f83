// Package logging provides the console logger used across the service.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level controls which messages a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled console logger. Messages carry alternating key/value
// pairs after the message, rendered as key=value.
type Logger struct {
	logger *log.Logger
	level  Level
}

// NewLogger creates a Logger writing to stdout at info level.
func NewLogger() *Logger {
	return &Logger{
		logger: log.New(os.Stdout, "", log.LstdFlags),
		level:  LevelInfo,
	}
}

// NewLoggerAt creates a Logger with an explicit minimum level.
func NewLoggerAt(level Level) *Logger {
	l := NewLogger()
	l.level = level
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.emit(LevelDebug, "DEBUG", msg, args...) }

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) { l.emit(LevelInfo, "INFO", msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.emit(LevelWarn, "WARN", msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.emit(LevelError, "ERROR", msg, args...) }

func (l *Logger) emit(level Level, tag, msg string, args ...any) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	l.logger.Print(b.String())
}
