// Package logging provides leveled key=value console logging for agents and
// monitors. Output is for real-time operation; durable outcomes live in the
// broker's result store, so nothing here is load-bearing.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled key=value lines, tagged with the owning component
// (usually an agent ID).
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a Logger writing to stdout at INFO level.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
}

// WithComponent returns a new logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Runtime event helpers ---
// Called by the agent runtime and monitor for consistent field names.

// TaskStart logs the start of a task execution.
func (l *Logger) TaskStart(taskID, taskType string) {
	l.Info("task_start", map[string]any{
		"task": taskID,
		"type": taskType,
	})
}

// TaskComplete logs a successful task execution.
func (l *Logger) TaskComplete(taskID string, duration time.Duration) {
	l.Info("task_complete", map[string]any{
		"task":     taskID,
		"duration": duration.String(),
	})
}

// TaskFailed logs a failed task execution.
func (l *Logger) TaskFailed(taskID string, duration time.Duration, err error) {
	l.Error("task_failed", map[string]any{
		"task":     taskID,
		"duration": duration.String(),
		"error":    err.Error(),
	})
}

// BrokerError logs a broker operation failure.
func (l *Logger) BrokerError(op string, err error) {
	l.Error("broker_error", map[string]any{
		"op":    op,
		"error": err.Error(),
	})
}

// HeartbeatError logs a failed heartbeat tick.
func (l *Logger) HeartbeatError(err error) {
	l.Warn("heartbeat_error", map[string]any{
		"error": err.Error(),
	})
}

// AgentDown logs a liveness timeout detected by a monitor.
func (l *Logger) AgentDown(agentID string, lastSeen time.Time) {
	l.Warn("agent_down", map[string]any{
		"agent":     agentID,
		"last_seen": lastSeen.UTC().Format(time.RFC3339),
	})
}
