package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents the log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Entry represents a structured log entry
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// Format defines the output format
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat maps "json" or "text" to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// sink is shared by a logger and every logger derived from it, so that
// writes from sibling components never interleave.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	format Format
}

// Logger is a structured logger
type Logger struct {
	sink      *sink
	component string
	fields    map[string]any
}

var levelColors = map[Level]*color.Color{
	DEBUG: color.New(color.FgHiBlack),
	INFO:  color.New(color.FgCyan),
	WARN:  color.New(color.FgYellow),
	ERROR: color.New(color.FgRed, color.Bold),
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns a logger configured from LOG_LEVEL and LOG_FORMAT. Only
// the entry point uses it; components receive their logger explicitly.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")), "", ParseFormat(os.Getenv("LOG_FORMAT")))
	})
	return defaultLogger
}

// New creates a new Logger
func New(out io.Writer, level Level, component string, format Format) *Logger {
	return &Logger{
		sink:      &sink{out: out, level: level, format: format},
		component: component,
	}
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return New(io.Discard, ERROR+1, "", FormatText)
}

// WithComponent creates a sub-logger with a component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, fields: l.fields}
}

// With creates a sub-logger that adds the given key/value pairs to every entry.
func (l *Logger) With(fields ...any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range toFields(fields) {
		merged[k] = v
	}
	return &Logger{sink: l.sink, component: l.component, fields: merged}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// SetFormat sets the output format
func (l *Logger) SetFormat(format Format) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.format = format
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return level >= l.sink.level
}

func (l *Logger) log(level Level, msg string, args []any) {
	if !l.Enabled(level) {
		return
	}

	fields := toFields(args)
	if len(l.fields) > 0 {
		if fields == nil {
			fields = make(map[string]any, len(l.fields))
		}
		for k, v := range l.fields {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			fields[k] = err.Error()
		}
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    fields,
	}

	// Add caller info for errors
	if level >= ERROR {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			data, _ = json.Marshal(Entry{Timestamp: entry.Timestamp, Level: entry.Level, Component: entry.Component, Message: msg})
		}
		fmt.Fprintln(l.sink.out, string(data))
		return
	}
	fmt.Fprintln(l.sink.out, formatText(level, entry))
}

// formatText renders "ts [LEVEL] [component] message k=v ..." with keys sorted.
func formatText(level Level, e Entry) string {
	ts := e.Timestamp
	if len(ts) > 19 {
		ts = ts[:19]
	}

	var sb strings.Builder
	sb.WriteString(ts)
	sb.WriteString(" ")
	sb.WriteString(levelColors[level].Sprintf("[%s]", e.Level))

	if e.Component != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Component)
		sb.WriteString("]")
	}

	sb.WriteString(" ")
	sb.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
	}

	if e.Caller != "" {
		sb.WriteString(" caller=")
		sb.WriteString(e.Caller)
	}
	return sb.String()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...any) {
	l.log(DEBUG, msg, fields)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...any) {
	l.log(INFO, msg, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...any) {
	l.log(WARN, msg, fields)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...any) {
	l.log(ERROR, msg, fields)
}

// toFields converts variadic key-value pairs to a map
func toFields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
