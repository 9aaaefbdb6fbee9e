package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
	minLevel   = LevelInfo
	jsonOutput bool
	output     io.Writer = os.Stderr
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		rebuildLocked()
	})
}

// rebuildLocked recreates the zerolog logger from the current settings.
// Caller must hold mu.
func rebuildLocked() {
	var w io.Writer = output
	if !jsonOutput {
		w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: consoleTimeFormat,
			NoColor:    true,
		}
	}
	logger = zerolog.New(w).
		Level(toZerolog(minLevel)).
		With().
		Timestamp().
		Logger()
}

// SetLevel changes the minimum level that will be written.
func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
	rebuildLocked()
}

// SetJSON switches between the human-readable console format (default) and
// one JSON object per line.
func SetJSON(enabled bool) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	jsonOutput = enabled
	rebuildLocked()
}

// SetOutput redirects all log output. Mostly useful in tests.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
	rebuildLocked()
}

// ParseLevel maps a config/env string ("debug", "info", ...) to a Level.
// Unknown values resolve to LevelInfo with ok=false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()

	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(toZerolog(level))
	if ev == nil {
		return
	}
	appendKVs(ev, kv...)
	ev.Msg(msg)
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.DebugLevel
	}
}

func appendKVs(ev *zerolog.Event, kv ...any) {
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case nil:
			ev.Interface(key, nil)
		case string:
			ev.Str(key, v)
		case int:
			ev.Int(key, v)
		case int64:
			ev.Int64(key, v)
		case bool:
			ev.Bool(key, v)
		case error:
			ev.AnErr(key, v)
		case time.Time:
			ev.Time(key, v)
		case time.Duration:
			ev.Dur(key, v)
		case fmt.Stringer:
			ev.Stringer(key, v)
		default:
			ev.Interface(key, v)
		}
	}
	// If odd number of args, last one is ignored.
}
