// Structured logging for the scheduler.
//
// The scheduler logs only on cold paths: worker lifecycle, termination,
// deque overflow fallback, graph dumps, and fatal invariant violations. The
// hot path (push, take, steal, invoke) never touches the logger.
//
// The Logger interface is deliberately tiny so any logging framework can
// back it; NewLogifaceLogger adapts a logiface logger, which in turn fronts
// stumpy, zerolog, logrus, slog, and friends.

package deadlock

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// LogLevel is the severity of a scheduler log entry.
type LogLevel int32

const (
	// LevelDebug for detailed diagnostic information.
	LevelDebug LogLevel = iota

	// LevelInfo for general informational messages.
	LevelInfo

	// LevelWarn for warning conditions.
	LevelWarn

	// LevelError for error conditions.
	LevelError
)

// String returns the string representation of the log level.
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
		return fmt.Sprintf("UNKNOWN(%d)", int32(l))
	}
}

// LogEntry is a structured scheduler log entry.
type LogEntry struct {
	Context  map[string]any
	Category string // "worker", "sched", "graph"
	Message  string
	Err      error
	Level    LogLevel
	Worker   int // worker index, -1 when not worker-scoped
}

// Logger receives scheduler log entries. Implementations must be safe for
// concurrent use by all workers.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// NoOpLogger discards everything. It is the default.
type NoOpLogger struct{}

func (NoOpLogger) Log(LogEntry)            {}
func (NoOpLogger) IsEnabled(LogLevel) bool { return false }

// logifaceLevel maps scheduler levels onto logiface's syslog-style levels.
func logifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	default:
		return logiface.LevelError
	}
}

// logifaceLogger adapts a generic logiface logger to the Logger interface.
type logifaceLogger[E logiface.Event] struct {
	l *logiface.Logger[E]
}

// NewLogifaceLogger returns a Logger backed by the given logiface logger.
// Entry categories and worker indexes become structured fields.
func NewLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Logger {
	return &logifaceLogger[E]{l: l}
}

func (x *logifaceLogger[E]) IsEnabled(level LogLevel) bool {
	return x.l != nil && x.l.Level().Enabled() && logifaceLevel(level) <= x.l.Level()
}

func (x *logifaceLogger[E]) Log(entry LogEntry) {
	if x.l == nil {
		return
	}
	b := x.l.Build(logifaceLevel(entry.Level)).
		Str("category", entry.Category)
	if entry.Worker >= 0 {
		b = b.Int("worker", entry.Worker)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	for k, v := range entry.Context {
		b = b.Field(k, v)
	}
	b.Log(entry.Message)
}
