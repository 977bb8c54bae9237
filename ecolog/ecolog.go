// Package ecolog wraps github.com/rs/zerolog in a small, component-scoped
// logger, so no part of the runtime reaches for a package-level global
// logger the way the original C sources reach for a singleton Logger_Log.
package ecolog

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the handful of severities the runtime actually emits.
type Level = zerolog.Level

const (
	LevelDebug    = zerolog.DebugLevel
	LevelInfo     = zerolog.InfoLevel
	LevelWarn     = zerolog.WarnLevel
	LevelError    = zerolog.ErrorLevel
	LevelDisabled = zerolog.Disabled
)

// Logger is a component-scoped structured logger.
type Logger struct {
	z zerolog.Logger
}

// New builds a root logger writing to w at the given level.
func New(w io.Writer, level Level) Logger {
	z := zerolog.New(w).With().Timestamp().Logger().Level(level)
	return Logger{z: z}
}

// Nop returns a logger that discards everything, for tests that don't care.
func Nop() Logger {
	return Logger{z: zerolog.Nop()}
}

// With returns a child logger tagged with a component name, e.g. "scheduler"
// or "session".
func (l Logger) With(component string) Logger {
	return Logger{z: l.z.With().Str("component", component).Logger()}
}

// Event is a chainable field builder over one log record.
type Event struct {
	e *zerolog.Event
}

func (l Logger) Debug() Event { return Event{e: l.z.Debug()} }
func (l Logger) Info() Event  { return Event{e: l.z.Info()} }
func (l Logger) Warn() Event  { return Event{e: l.z.Warn()} }
func (l Logger) Error() Event { return Event{e: l.z.Error()} }

// Critical logs at error level with an explicit critical=true field, since
// zerolog has no level above Error; used on the fatal-escalation path
// (missed watchdog pat, exhausted safety-data tolerance).
func (l Logger) Critical() Event {
	return Event{e: l.z.Error().Bool("critical", true)}
}

func (e Event) Session(id uint32) Event       { e.e = e.e.Uint32("session_id", id); return e }
func (e Event) Uint32(k string, v uint32) Event { e.e = e.e.Uint32(k, v); return e }
func (e Event) Int(k string, v int) Event     { e.e = e.e.Int(k, v); return e }
func (e Event) Str(k, v string) Event         { e.e = e.e.Str(k, v); return e }
func (e Event) Dur(k string, v time.Duration) Event { e.e = e.e.Dur(k, v); return e }
func (e Event) Err(err error) Event           { e.e = e.e.Err(err); return e }
func (e Event) Bool(k string, v bool) Event   { e.e = e.e.Bool(k, v); return e }

func (e Event) Msg(msg string) { e.e.Msg(msg) }
