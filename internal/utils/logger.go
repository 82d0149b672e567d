// internal/utils/logger.go

package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// consoleLogger writes leveled, field-annotated lines to a single writer.
type consoleLogger struct {
	level  LogLevel
	fields map[string]interface{}
	out    io.Writer
	mu     *sync.Mutex
}

// NewLogger creates a logger writing to stderr at info level.
func NewLogger() Logger {
	return NewLoggerWithLevel(InfoLevel)
}

// NewLoggerWithLevel creates a logger with the specified minimum level.
func NewLoggerWithLevel(level LogLevel) Logger {
	return &consoleLogger{
		level:  level,
		fields: map[string]interface{}{},
		out:    os.Stderr,
		mu:     &sync.Mutex{},
	}
}

// NewComponentLogger creates a logger pre-tagged with a component field.
func NewComponentLogger(component string) Logger {
	return NewLogger().WithField("component", component)
}

// ParseLevel maps a configuration string onto a LogLevel. Unknown values
// fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l *consoleLogger) Debug(msg string)                          { l.log(DebugLevel, msg) }
func (l *consoleLogger) Debugf(format string, args ...interface{}) { l.log(DebugLevel, fmt.Sprintf(format, args...)) }
func (l *consoleLogger) Info(msg string)                           { l.log(InfoLevel, msg) }
func (l *consoleLogger) Infof(format string, args ...interface{})  { l.log(InfoLevel, fmt.Sprintf(format, args...)) }
func (l *consoleLogger) Warn(msg string)                           { l.log(WarnLevel, msg) }
func (l *consoleLogger) Warnf(format string, args ...interface{})  { l.log(WarnLevel, fmt.Sprintf(format, args...)) }
func (l *consoleLogger) Error(msg string)                          { l.log(ErrorLevel, msg) }
func (l *consoleLogger) Errorf(format string, args ...interface{}) { l.log(ErrorLevel, fmt.Sprintf(format, args...)) }

func (l *consoleLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *consoleLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &consoleLogger{level: l.level, fields: merged, out: l.out, mu: l.mu}
}

func (l *consoleLogger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05"), levelNames[level], msg)
	if len(l.fields) > 0 {
		line += " " + formatFields(l.fields)
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, line)
	l.mu.Unlock()
}

// formatFields renders fields sorted by key so output is stable.
func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
