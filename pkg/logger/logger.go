package logger

import "sync/atomic"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// Level selects the backend method a message is dispatched to.
type Level int

const (
	LevelLog Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Logger holds multiple logging backends and dispatches log calls to all of them.
type Logger struct {
	instances []LoggerInstance
}

var singleton atomic.Pointer[Logger]

// Init initializes the global logger with one or more logging backends.
// Logging before Init is a no-op.
func Init(instances ...LoggerInstance) {
	singleton.Store(&Logger{
		instances: instances,
	})
}

func dispatch(level Level, message string, keyvals []any) {
	logger := singleton.Load()
	if logger == nil {
		return
	}

	for _, instance := range logger.instances {
		switch level {
		case LevelDebug:
			instance.Debug(message, keyvals...)
		case LevelInfo:
			instance.Info(message, keyvals...)
		case LevelWarn:
			instance.Warn(message, keyvals...)
		case LevelError:
			instance.Error(message, keyvals...)
		case LevelFatal:
			instance.Fatal(message, keyvals...)
		default:
			instance.Log(message, keyvals...)
		}
	}
}

// Log writes a message at the default log level to all configured backends.
func Log(message string, keyvals ...any) { dispatch(LevelLog, message, keyvals) }

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) { dispatch(LevelInfo, message, keyvals) }

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) { dispatch(LevelWarn, message, keyvals) }

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) { dispatch(LevelError, message, keyvals) }

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) { dispatch(LevelDebug, message, keyvals) }

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) { dispatch(LevelFatal, message, keyvals) }

// Scope prefixes every message with a bracketed component tag and appends
// fixed key/value pairs, e.g. Scope{Tag: "Graph", KeyVals: []any{"tenant_id", id}}.
type Scope struct {
	Tag     string
	KeyVals []any
}

// With returns a copy of the scope with additional key/value pairs.
func (s Scope) With(keyvals ...any) Scope {
	kv := make([]any, 0, len(s.KeyVals)+len(keyvals))
	kv = append(kv, s.KeyVals...)
	kv = append(kv, keyvals...)
	return Scope{Tag: s.Tag, KeyVals: kv}
}

func (s Scope) emit(level Level, message string, keyvals []any) {
	if s.Tag != "" {
		message = "[" + s.Tag + "] " + message
	}
	if len(s.KeyVals) > 0 {
		keyvals = append(append([]any{}, s.KeyVals...), keyvals...)
	}
	dispatch(level, message, keyvals)
}

func (s Scope) Debug(message string, keyvals ...any) { s.emit(LevelDebug, message, keyvals) }
func (s Scope) Info(message string, keyvals ...any)  { s.emit(LevelInfo, message, keyvals) }
func (s Scope) Warn(message string, keyvals ...any)  { s.emit(LevelWarn, message, keyvals) }
func (s Scope) Error(message string, keyvals ...any) { s.emit(LevelError, message, keyvals) }
