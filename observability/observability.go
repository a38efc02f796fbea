package observability

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger is the structured logging sink injected into every component.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type float64Field struct {
	key string
	val float64
}

func (f float64Field) Key() string        { return f.key }
func (f float64Field) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field          { return stringField{key, value} }
func Int(key string, value int) Field         { return intField{key, value} }
func Int64(key string, value int64) Field     { return int64Field{key, value} }
func Float64(key string, value float64) Field { return float64Field{key, value} }
func Error(key string, err error) Field       { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// Level filters what a WriterLogger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// WriterLogger writes one line per event to an io.Writer. The CLI hands
// one of these to the engine; tests pair it with a bytes.Buffer to
// assert on emitted events.
type WriterLogger struct {
	mu     sync.Mutex
	out    io.Writer
	min    Level
	noTime bool
}

// NewWriterLogger returns a logger emitting events at or above min.
func NewWriterLogger(out io.Writer, min Level) *WriterLogger {
	return &WriterLogger{out: out, min: min}
}

// WithoutTimestamps disables the time prefix, for deterministic test output.
func (l *WriterLogger) WithoutTimestamps() *WriterLogger {
	l.noTime = true
	return l
}

func (l *WriterLogger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, nil, fields) }
func (l *WriterLogger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, nil, fields) }
func (l *WriterLogger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, nil, fields) }
func (l *WriterLogger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, nil, fields) }

func (l *WriterLogger) With(fields ...Field) Logger {
	return &scopedLogger{root: l, scope: append([]Field(nil), fields...)}
}

// scopedLogger shares the root's writer guard so interleaved lines stay whole.
type scopedLogger struct {
	root  *WriterLogger
	scope []Field
}

func (s *scopedLogger) Debug(msg string, fields ...Field) { s.root.emit(LevelDebug, msg, s.scope, fields) }
func (s *scopedLogger) Info(msg string, fields ...Field)  { s.root.emit(LevelInfo, msg, s.scope, fields) }
func (s *scopedLogger) Warn(msg string, fields ...Field)  { s.root.emit(LevelWarn, msg, s.scope, fields) }
func (s *scopedLogger) Error(msg string, fields ...Field) { s.root.emit(LevelError, msg, s.scope, fields) }

func (s *scopedLogger) With(fields ...Field) Logger {
	return &scopedLogger{root: s.root, scope: append(append([]Field(nil), s.scope...), fields...)}
}

func (l *WriterLogger) emit(level Level, msg string, scope, fields []Field) {
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.noTime {
		fmt.Fprintf(l.out, "%s ", time.Now().Format(time.RFC3339))
	}
	fmt.Fprintf(l.out, "%-5s %s", level, msg)
	for _, f := range scope {
		fmt.Fprintf(l.out, " %s=%v", f.Key(), f.Value())
	}
	for _, f := range fields {
		fmt.Fprintf(l.out, " %s=%v", f.Key(), f.Value())
	}
	fmt.Fprintln(l.out)
}
