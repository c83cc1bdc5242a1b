// Package observability sets up structured logging: a rolling file
// transport plus an optional console mirror, with sensitive fields redacted
// before they reach disk, per spec §4.17 / §6's filesystem layout.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var sensitiveKeys = map[string]bool{
	"apiKey":        true,
	"api_key":       true,
	"token":         true,
	"confirmToken":  true,
	"dsn":           true,
	"authorization": true,
	"password":      true,
}

// redactHandler wraps a slog.Handler and blanks attribute values whose key
// matches a known-sensitive name.
type redactHandler struct {
	slog.Handler
}

func (h redactHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if sensitiveKeys[a.Key] {
			a.Value = slog.StringValue("[redacted]")
		}
		redacted.AddAttrs(a)
		return true
	})
	return h.Handler.Handle(ctx, redacted)
}

func (h redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if sensitiveKeys[a.Key] {
			a.Value = slog.StringValue("[redacted]")
		}
		out[i] = a
	}
	return redactHandler{h.Handler.WithAttrs(out)}
}

func (h redactHandler) WithGroup(name string) slog.Handler {
	return redactHandler{h.Handler.WithGroup(name)}
}

// Options configures Setup.
type Options struct {
	LogPath    string
	Level      string
	Console    bool
	MaxBytes   int64 // rolling threshold, default 10MB
	MaxBackups int   // default 3
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the process-wide slog default logger: a rolling JSON file
// handler, redacted, optionally mirrored to stderr in text form.
func Setup(opts Options) (*Rotator, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	rot, err := NewRotator(opts.LogPath, opts.MaxBytes, opts.MaxBackups)
	if err != nil {
		return nil, err
	}

	level := levelFromString(opts.Level)
	var w io.Writer = rot
	fileHandler := redactHandler{slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})}

	var handler slog.Handler = fileHandler
	if opts.Console {
		consoleHandler := redactHandler{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})}
		handler = multiHandler{fileHandler, consoleHandler}
	}

	slog.SetDefault(slog.New(handler))
	return rot, nil
}

// multiHandler fans a record out to several handlers, matching the
// console+file dual transport the teacher wires via build-tag OTel export.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
