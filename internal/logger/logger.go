// Package logger provides the structured logger shared by the library, the
// CLI and the HTTP server.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Logger is the logging surface the rest of the module depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Enabled(level slog.Level) bool
	With(args ...any) Logger
	WithGroup(name string) Logger
	// Slog exposes the underlying logger for libraries that take one.
	Slog() *slog.Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New wraps an arbitrary handler.
func New(h slog.Handler) Logger {
	return slogLogger{l: slog.New(h)}
}

// Discard drops every record.
func Discard() Logger {
	return New(slog.DiscardHandler)
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s slogLogger) Enabled(level slog.Level) bool {
	return s.l.Enabled(context.Background(), level)
}

func (s slogLogger) With(args ...any) Logger { return slogLogger{l: s.l.With(args...)} }

func (s slogLogger) WithGroup(name string) Logger { return slogLogger{l: s.l.WithGroup(name)} }

func (s slogLogger) Slog() *slog.Logger { return s.l }

// Format selects the record encoding.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatText   Format = "text"
	FormatJSON   Format = "json"
)

// ParseFormat accepts pretty, text or json, case-insensitively. The empty
// string selects pretty.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPretty, nil
	case FormatPretty, FormatText, FormatJSON:
		return f, nil
	default:
		return "", errors.Errorf("logger: unknown format %q (want pretty, text or json)", s)
	}
}

// ParseLevel accepts debug, info, warn/warning and error, case-insensitively.
// The empty string selects info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("logger: unknown level %q", s)
	}
}

// Options configures Open.
type Options struct {
	Level  slog.Level
	Format Format
	// Color forces ANSI colour on or off for the pretty format. Nil detects
	// a terminal.
	Color *bool
}

// Open builds a logger writing to w.
func Open(w io.Writer, opts Options) Logger {
	switch opts.Format {
	case FormatJSON:
		return JSON(w, opts.Level)
	case FormatText:
		return Text(w, opts.Level)
	default:
		color := isTerminal(w)
		if opts.Color != nil {
			color = *opts.Color
		}
		return New(NewPrettyHandler(w, opts.Level, color))
	}
}

// Text writes logfmt-style records.
func Text(w io.Writer, level slog.Level) Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// JSON writes one JSON object per record, with the source location.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
}

// Pretty writes coloured single-line records when w is a terminal.
func Pretty(w io.Writer, level slog.Level) Logger {
	return Open(w, Options{Level: level, Format: FormatPretty})
}

// Default is the stderr pretty logger at info level.
func Default() Logger {
	return Pretty(os.Stderr, slog.LevelInfo)
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return Default()
}
