// Package diag holds the debug logging hooks shared by the transport,
// vehicle and data logging packages.
package diag

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
)

// Logger receives debug output. Implementations must be safe to call
// from the goroutine driving a logging session.
type Logger interface {
	Debug(message string)
	Debugf(message string, args ...interface{})
}

type nopLogger struct{}

func (l nopLogger) Debug(message string) {}

func (l nopLogger) Debugf(message string, args ...interface{}) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

// OrNop returns l, or NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger
	}
	return l
}

type defaultLogger struct {
	l *log.Logger
}

func (l *defaultLogger) Debug(message string) {
	l.l.Println(message)
}

func (l *defaultLogger) Debugf(message string, args ...interface{}) {
	l.l.Printf(message, args...)
}

// DefaultLogger writes timestamped lines prefixed with "PCM " to out.
var DefaultLogger = func(out io.Writer) Logger {
	return &defaultLogger{log.New(out, "PCM ", log.LstdFlags|log.Lmicroseconds)}
}

type slogLogger struct {
	l *slog.Logger
}

func (l *slogLogger) Debug(message string) {
	l.l.Log(context.Background(), slog.LevelDebug, strings.TrimRight(message, "\n"))
}

func (l *slogLogger) Debugf(message string, args ...interface{}) {
	l.Debug(fmt.Sprintf(message, args...))
}

// Slog adapts a structured logger. Messages are emitted at debug level.
func Slog(l *slog.Logger) Logger {
	if l == nil {
		return NopLogger
	}
	return &slogLogger{l}
}

// LogBytes logs b as space separated hex bytes after prefix.
func LogBytes(l Logger, b []byte, prefix string) {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, bb := range b {
		fmt.Fprintf(&sb, "%02X ", bb)
	}
	l.Debug(sb.String())
}
