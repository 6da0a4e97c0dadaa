// Package log is the structured logger used across the server. It hides
// log/slog behind a small interface so request handlers can pull a scoped
// logger out of the context and tests can swap in Nop or a spy.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App               string
	Version           string
	Commit            string
	Level             slog.Level
	StacktraceLevel   slog.Level
	JSON              bool
	IncludeErrorLinks bool
	MaxErrorLinks     int
	// Writer defaults to os.Stdout.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlogLogger(opts), nil }

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func ParseLevel(s string) (slog.Level, error) {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
	}
	return lvl, nil
}

type ctxKey struct{}

// WithContext stores l in ctx for FromContext.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or Nop when there is none.
func FromContext(ctx context.Context) Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return Nop()
}

// Lookup is FromContext for callers that have their own fallback.
func Lookup(ctx context.Context) (Logger, bool) {
	l, ok := ctx.Value(ctxKey{}).(Logger)
	return l, ok && l != nil
}

type nop struct{}

func (nop) With(...any) Logger                           { return nop{} }
func (nop) Debug(context.Context, string, ...any)        {}
func (nop) Info(context.Context, string, ...any)         {}
func (nop) Warn(context.Context, string, ...any)         {}
func (nop) Error(context.Context, error, string, ...any) {}
func (nop) Sync() error                                  { return nil }

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }
