package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields. Children created by With share the
// parent's collector slot, so a collector attached later sees their events.
type Logger struct {
	zl   zerolog.Logger
	slot *collectorSlot
}

type collectorSlot struct {
	c atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}
	return NewWithWriter(out, level), nil
}

// NewWithWriter builds a JSON logger on w. Tests use it to capture output.
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	return &Logger{zl: zl, slot: &collectorSlot{}}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), slot: &collectorSlot{}}
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger(), slot: l.slot}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) log(level zerolog.Level, msg string, fields []Field) {
	if ev := l.zl.WithLevel(level); ev != nil {
		for _, f := range fields {
			f.apply(ev)
		}
		ev.Msg(msg)
	}
	if c := l.slot.c.Load(); c != nil && level >= c.minLevel {
		c.AddLog(level.String(), msg, fieldMap(fields), caller(3))
	}
}

// AddCollector attaches an aggregating collector, replacing any earlier one.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if old := l.slot.c.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector detaches the collector and flushes what it holds.
func (l *Logger) RemoveCollector() {
	if old := l.slot.c.Swap(nil); old != nil {
		old.Close()
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	if i := strings.LastIndex(file, "CatalystPull/"); i >= 0 {
		file = file[i+len("CatalystPull/"):]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func fieldMap(fields []Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

// Field is one structured key/value. Value is the plain form the collector
// stores; apply writes the typed form to a zerolog event.
type Field struct {
	Key   string
	Value interface{}
	apply func(*zerolog.Event)
}

func String(key, v string) Field {
	return Field{Key: key, Value: v, apply: func(e *zerolog.Event) { e.Str(key, v) }}
}

func Strings(key string, v []string) Field {
	return Field{Key: key, Value: strings.Join(v, ", "), apply: func(e *zerolog.Event) { e.Strs(key, v) }}
}

func Int(key string, v int) Field {
	return Field{Key: key, Value: v, apply: func(e *zerolog.Event) { e.Int(key, v) }}
}

func Int64(key string, v int64) Field {
	return Field{Key: key, Value: v, apply: func(e *zerolog.Event) { e.Int64(key, v) }}
}

func Float64(key string, v float64) Field {
	return Field{Key: key, Value: v, apply: func(e *zerolog.Event) { e.Float64(key, v) }}
}

func Bool(key string, v bool) Field {
	return Field{Key: key, Value: v, apply: func(e *zerolog.Event) { e.Bool(key, v) }}
}

// Duration logs milliseconds.
func Duration(key string, v time.Duration) Field {
	ms := v.Milliseconds()
	return Field{Key: key, Value: ms, apply: func(e *zerolog.Event) { e.Int64(key, ms) }}
}

func Time(key string, v time.Time) Field {
	return Field{Key: key, Value: v.Format(time.RFC3339), apply: func(e *zerolog.Event) { e.Time(key, v) }}
}

func Error(err error) Field {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	return Field{Key: zerolog.ErrorFieldName, Value: msg, apply: func(e *zerolog.Event) { e.Err(err) }}
}

func Any(key string, v interface{}) Field {
	return Field{Key: key, Value: v, apply: func(e *zerolog.Event) { e.Interface(key, v) }}
}
