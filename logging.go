// logging.go - structured logging for coopsched
//
// Package-level configuration for structured logging, backed by logiface
// (github.com/joeycumines/logiface) so integrators can swap in zerolog,
// logrus, slog, or any other logiface backend without touching the rest of
// this package. A Loop built without WithLogger writes JSON via stumpy
// (github.com/joeycumines/stumpy) to os.Stderr; the package-level logger
// set by SetStructuredLogger is a NoOpLogger until one is set.
//
// Usage:
//
//	coopsched.SetStructuredLogger(coopsched.NewDefaultLogger())

package coopsched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var globalLogger struct {
	sync.RWMutex
	logger Logger
}

// SetStructuredLogger sets the package-level structured logger returned by
// getGlobalLogger. A Loop does not consult it: a Loop logs through the
// Logger given via WithLogger, or else through a DefaultLogger.
func SetStructuredLogger(logger Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

func getGlobalLogger() Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return NewNoOpLogger()
}

// LogLevel represents the severity of a log message.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String implements fmt.Stringer.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toLogifaceLevel maps a LogLevel onto logiface's syslog-derived Level scale.
func (l LogLevel) toLogifaceLevel() logiface.Level {
	switch l {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// LogEntry is a structured log entry describing one loop-lifecycle event.
type LogEntry struct {
	Level     LogLevel
	Category  string // "timer", "future", "deferred", "poll", "shutdown", "budget", "panic"
	LoopID    int64
	TaskID    int64
	TimerID   int64
	Context   map[string]any
	Message   string
	Err       error
	Timestamp time.Time
}

// Logger is the structured logging interface the Loop writes through.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// DefaultLogger adapts a logiface.Logger[logiface.Event] to the Logger
// interface. Constructing one with NewDefaultLogger wires up a
// stumpy-backed logiface logger writing JSON to os.Stderr; NewLogifaceLogger
// lets a caller supply any other logiface-compatible backend (zerolog,
// logrus, slog, a test double, ...) instead.
type DefaultLogger struct {
	level  atomic.Int32
	logger *logiface.Logger[logiface.Event]
}

// NewDefaultLogger creates a Logger backed by stumpy, writing JSON lines to
// os.Stderr, at LevelInfo and above.
func NewDefaultLogger() *DefaultLogger {
	return NewLogifaceLogger(LevelInfo, stumpy.L.New(stumpy.L.WithStumpy()).Logger())
}

// NewLogifaceLogger adapts an existing logiface logger. This is the
// integration point for swapping in logiface-zerolog, logiface-logrus,
// logiface-slog, or any other backend in the logiface ecosystem.
func NewLogifaceLogger(level LogLevel, logger *logiface.Logger[logiface.Event]) *DefaultLogger {
	l := &DefaultLogger{logger: logger}
	l.level.Store(int32(level))
	return l
}

// SetLevel dynamically changes the minimum log level.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// IsEnabled reports whether the specified level would be logged.
func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

// Log writes a structured log entry through the wrapped logiface logger.
func (l *DefaultLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	b := l.logger.Build(entry.Level.toLogifaceLevel())
	if b == nil {
		return
	}
	if entry.Category != "" {
		b = b.Str(`category`, entry.Category)
	}
	if entry.LoopID != 0 {
		b = b.Int64(`loop`, entry.LoopID)
	}
	if entry.TaskID != 0 {
		b = b.Int64(`task`, entry.TaskID)
	}
	if entry.TimerID != 0 {
		b = b.Int64(`timer`, entry.TimerID)
	}
	for k, v := range entry.Context {
		b = b.Any(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// NoOpLogger discards every entry. It is the package-level logger until
// SetStructuredLogger is called.
type NoOpLogger struct{}

// NewNoOpLogger returns a Logger that discards everything.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (l *NoOpLogger) Log(entry LogEntry)            {}
func (l *NoOpLogger) IsEnabled(level LogLevel) bool { return false }

// LogEntryBuilder is a fluent constructor for LogEntry values, used by the
// Loop's own instrumentation call sites.
type LogEntryBuilder struct {
	entry LogEntry
}

// NewLogEntry starts building a LogEntry.
func NewLogEntry(level LogLevel, category string, message string) LogEntryBuilder {
	return LogEntryBuilder{entry: LogEntry{
		Level:    level,
		Category: category,
		Message:  message,
	}}
}

func (b LogEntryBuilder) LoopID(id int64) LogEntryBuilder  { b.entry.LoopID = id; return b }
func (b LogEntryBuilder) TaskID(id int64) LogEntryBuilder  { b.entry.TaskID = id; return b }
func (b LogEntryBuilder) TimerID(id int64) LogEntryBuilder { b.entry.TimerID = id; return b }

func (b LogEntryBuilder) Field(key string, value any) LogEntryBuilder {
	if b.entry.Context == nil {
		b.entry.Context = make(map[string]any, 4)
	}
	b.entry.Context[key] = value
	return b
}

func (b LogEntryBuilder) Err(err error) LogEntryBuilder { b.entry.Err = err; return b }

// Build finalizes the entry, stamping Timestamp if unset.
func (b LogEntryBuilder) Build() LogEntry {
	if b.entry.Timestamp.IsZero() {
		b.entry.Timestamp = time.Now()
	}
	return b.entry
}

// Convenience call sites used by Loop internals; these centralize the
// category strings and field names so instrumentation stays consistent.

func logTimerScheduled(l Logger, loopID, timerID int64, delay time.Duration) {
	if !l.IsEnabled(LevelDebug) {
		return
	}
	l.Log(NewLogEntry(LevelDebug, "timer", "timer scheduled").
		LoopID(loopID).TimerID(timerID).Field("delay", delay.String()).Build())
}

func logTimerFired(l Logger, loopID, timerID int64) {
	if !l.IsEnabled(LevelDebug) {
		return
	}
	l.Log(NewLogEntry(LevelDebug, "timer", "timer fired").LoopID(loopID).TimerID(timerID).Build())
}

func logTaskPanicked(l Logger, loopID int64, recovered any) {
	l.Log(NewLogEntry(LevelError, "panic", "task panicked").
		LoopID(loopID).Field("recovered", recovered).Build())
}

func logBudgetExhausted(l Logger, loopID int64, queue string) {
	if !l.IsEnabled(LevelDebug) {
		return
	}
	l.Log(NewLogEntry(LevelDebug, "budget", "budget exhausted, yielding tick").
		LoopID(loopID).Field("queue", queue).Build())
}

func logPollIOError(l Logger, loopID int64, err error, critical bool) {
	level := LevelWarn
	if critical {
		level = LevelError
	}
	l.Log(NewLogEntry(level, "poll", "poll error").LoopID(loopID).Err(err).Build())
}
