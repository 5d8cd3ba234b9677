// Package logging provides leveled console and file logging for the
// localization pipelines. Lines use a fixed, grep-friendly format:
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// The component is usually the name of the task that emitted the line.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Fields carries structured key-value context for a log line.
type Fields = map[string]interface{}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string into a Level. Unknown values map to INFO.
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

// sink is one destination for log lines.
type sink struct {
	w      io.Writer
	styles map[Level]lipgloss.Style // nil when the destination is not a terminal
}

// output is shared by a logger and every logger derived from it.
type output struct {
	mu      sync.Mutex
	sinks   []sink
	closers []io.Closer
}

// Logger writes leveled log lines to one or more sinks.
type Logger struct {
	out       *output
	minLevel  Level
	component string
	traceID   string
}

// Config configures Setup.
type Config struct {
	// Level is the minimum level written. Default: INFO.
	Level Level

	// Console is the console destination. Default: stderr when it is a
	// terminal, stdout otherwise.
	Console io.Writer

	// File, if set, enables a size-rotated log file.
	File string

	// MaxSizeMB and MaxBackups control rotation. Defaults: 10 MiB, 10 backups.
	MaxSizeMB  int
	MaxBackups int
}

// New creates a Logger writing to stdout at INFO level.
func New() *Logger {
	return &Logger{
		out:      &output{sinks: []sink{{w: os.Stdout}}},
		minLevel: LevelInfo,
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{
		out:      &output{sinks: []sink{{w: io.Discard}}},
		minLevel: LevelError,
	}
}

// Setup builds a Logger from Config: a console sink, colored per level when it
// is a terminal, plus an optional rotating file sink.
func Setup(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
		if term.IsTerminal(int(os.Stderr.Fd())) {
			console = os.Stderr
		}
	}

	out := &output{}
	out.sinks = append(out.sinks, consoleSink(console))

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out.sinks = append(out.sinks, sink{w: rotator})
		out.closers = append(out.closers, rotator)
	}

	return &Logger{out: out, minLevel: cfg.Level}, nil
}

// consoleSink styles lines only when w is a terminal.
func consoleSink(w io.Writer) sink {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return sink{w: w}
	}
	r := lipgloss.NewRenderer(w)
	return sink{
		w: w,
		styles: map[Level]lipgloss.Style{
			LevelDebug: r.NewStyle().Foreground(lipgloss.Color("4")),
			LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("6")),
			LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
			LevelError: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		out:       l.out,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		out:       l.out,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput replaces this logger's sinks with a single plain writer.
// Loggers derived afterwards share the new writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.out = &output{sinks: []sink{{w: w}}}
}

// Close closes file sinks. Console sinks are left open.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	var firstErr error
	for _, c := range l.out.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.out.closers = nil
	return firstErr
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs sorted by key.
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...Fields) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := Fields{}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["run"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s", level, timestamp, msg, fieldStr)
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	for _, s := range l.out.sinks {
		text := line
		if style, ok := s.styles[level]; ok {
			text = style.Render(line)
		}
		s.w.Write([]byte(text + "\n"))
	}
}

// --- Task lifecycle lines ---
// Emitted by the task supervisor so every pipeline reports progress the same way.

// TaskStarted logs that a task began running.
func (l *Logger) TaskStarted(task string) {
	l.Debug("task_start", Fields{"task": task})
}

// TaskCompleted logs a successful task.
func (l *Logger) TaskCompleted(task string, duration time.Duration) {
	l.Debug("task_complete", Fields{
		"task":     task,
		"duration": duration.String(),
	})
}

// TaskAborted logs a task stopped by shutdown or cancellation.
func (l *Logger) TaskAborted(task, reason string, duration time.Duration) {
	l.Warn(reason, Fields{
		"task":     task,
		"duration": duration.String(),
	})
}

// TaskFailed logs a failed task with its error type and message.
func (l *Logger) TaskFailed(task string, err error, duration time.Duration) {
	l.Error("Failed", Fields{
		"task":     task,
		"type":     fmt.Sprintf("%T", err),
		"error":    err.Error(),
		"duration": duration.String(),
	})
}
