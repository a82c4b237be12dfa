// Package zerolog adapts github.com/rs/zerolog to core.Logger.
package zerolog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	zl "github.com/rs/zerolog"

	"github.com/Swind/go-service-thread/core"
)

// Logger implements core.Logger on top of a zerolog.Logger.
type Logger struct {
	z zl.Logger
}

var _ core.Logger = (*Logger)(nil)

// New creates a Logger writing to w at level. format is "json" or "console".
// A nil w writes to stderr.
func New(level zl.Level, format string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if format == "console" {
		w = zl.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return &Logger{z: zl.New(w).Level(level).With().Timestamp().Logger()}
}

// Wrap adapts an existing zerolog.Logger.
func Wrap(z zl.Logger) *Logger {
	return &Logger{z: z}
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(s string) (zl.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zl.InfoLevel, nil
	case "off", "disabled":
		return zl.Disabled, nil
	}
	lvl, err := zl.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zl.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zl.Logger { return l.z }

// With returns a Logger that adds component to every line.
func (l *Logger) With(component string) *Logger {
	return &Logger{z: l.z.With().Str("component", component).Logger()}
}

func (l *Logger) Debug(msg string, fields ...core.Field) { emit(l.z.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...core.Field)  { emit(l.z.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...core.Field)  { emit(l.z.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...core.Field) { emit(l.z.Error(), msg, fields) }

func emit(ev *zl.Event, msg string, fields []core.Field) {
	// nil when the level is disabled
	if ev == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ev = ev.Str(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case int64:
			ev = ev.Int64(f.Key, v)
		case uint64:
			ev = ev.Uint64(f.Key, v)
		case bool:
			ev = ev.Bool(f.Key, v)
		case time.Duration:
			ev = ev.Dur(f.Key, v)
		case time.Time:
			ev = ev.Time(f.Key, v)
		case error:
			ev = ev.AnErr(f.Key, v)
		case fmt.Stringer:
			ev = ev.Stringer(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}
