// Package logger wraps zerolog for keyguard's diagnostic output.
//
// Diagnostics go to stderr so they never mix with the output of the
// external command on stdout. Secrets must never be passed as fields;
// use Secret for values that may only appear redacted.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Logger embeds zerolog.Logger so the full zerolog API is available.
type Logger struct {
	zerolog.Logger
}

// New builds a console logger writing to w at the given level
// ("debug", "info", "warn", "error"). An unparsable level falls back to warn.
func New(w io.Writer, level string) *Logger {
	return newLogger(w, level, true)
}

// NewStderr writes to os.Stderr, colored unless color is disabled
// (NO_COLOR, no terminal).
func NewStderr(level string) *Logger {
	return newLogger(os.Stderr, level, color.NoColor)
}

func newLogger(w io.Writer, level string, noColor bool) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: noColor}
	l := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &Logger{l}
}

// Nop returns a *Logger that discards all output. Used in tests.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// WithCredential returns a child logger carrying the credential name.
func (l *Logger) WithCredential(name string) *Logger {
	return &Logger{l.With().Str("credential", name).Logger()}
}

// Secret is a value that is always rendered redacted.
type Secret []byte

func (Secret) String() string   { return "[REDACTED]" }
func (Secret) GoString() string { return "[REDACTED]" }

// MarshalZerologObject keeps Secret redacted when logged with Object.
func (Secret) MarshalZerologObject(e *zerolog.Event) {
	e.Str("value", "[REDACTED]")
}
