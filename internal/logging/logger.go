// Package logging provides the structured logging interface used throughout
// janusbroker. It does not configure sinks, formats, or levels beyond a thin
// wrapper around log/slog — wiring a real sink is left to the embedding
// application.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the structured logging surface every janusbroker component
// accepts. Components must work correctly with a nil Logger supplied via
// NewNoop, so library code never depends on an application having wired one
// in.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithField(key string, value any) Logger
	WithContext(ctx context.Context) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New wraps an *slog.Logger. Passing nil gives a logger writing to stderr at
// the info level.
func New(l *slog.Logger) Logger {
	if l == nil {
		l = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) WithField(key string, value any) Logger {
	return &slogLogger{l: s.l.With(key, value)}
}

func (s *slogLogger) WithContext(ctx context.Context) Logger {
	return s
}

type noopLogger struct{}

// NewNoop returns a Logger that discards everything. It is the default held
// by any component constructed without an explicit Logger.
func NewNoop() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...any)          {}
func (noopLogger) Info(string, ...any)           {}
func (noopLogger) Warn(string, ...any)           {}
func (noopLogger) Error(string, ...any)          {}
func (n noopLogger) WithField(string, any) Logger { return n }
func (n noopLogger) WithContext(context.Context) Logger { return n }
