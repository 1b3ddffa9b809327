package main

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/m-mizutani/masq"
)

// redactOptions hides connection material even if a caller logs it by
// mistake.
func redactOptions() []masq.Option {
	return []masq.Option{
		masq.WithFieldName("url"),
		masq.WithFieldName("dsn"),
		masq.WithFieldName("password"),
		masq.WithFieldName("secret"),
		masq.WithFieldPrefix("secret"),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds a JSON logger, or a human-readable one for "text".
func newLogger(w io.Writer, format, level string) *slog.Logger {
	lvl := parseLevel(level)
	replace := masq.New(redactOptions()...)

	if strings.EqualFold(format, "text") {
		charm := log.NewWithOptions(w, log.Options{
			Level:           log.Level(lvl),
			ReportTimestamp: true,
			Prefix:          "dynds-check",
		})
		return slog.New(&redactHandler{next: charm, replace: replace})
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replace,
	}))
}

// redactHandler applies a ReplaceAttr func in front of handlers that do not
// support one.
type redactHandler struct {
	next    slog.Handler
	replace func(groups []string, a slog.Attr) slog.Attr
	groups  []string
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.replace(h.groups, a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.replace(h.groups, a)
	}
	return &redactHandler{next: h.next.WithAttrs(redacted), replace: h.replace, groups: h.groups}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string(nil), h.groups...), name)
	return &redactHandler{next: h.next.WithGroup(name), replace: h.replace, groups: groups}
}
