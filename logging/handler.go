package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Level controls the default logger. It can be changed at any time.
var Level = new(slog.LevelVar)

// prefixHandler renders the "module" attribute as a "[module] " message
// prefix instead of a trailing key/value pair.
type prefixHandler struct {
	handler slog.Handler
	module  string
}

func (h *prefixHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *prefixHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	module := h.module
	rest := make([]slog.Attr, 0, len(attrs))

	for _, attr := range attrs {
		if attr.Key == "module" {
			module = attr.Value.String()
			continue
		}
		rest = append(rest, attr)
	}

	return &prefixHandler{
		handler: h.handler.WithAttrs(rest),
		module:  module,
	}
}

func (h *prefixHandler) WithGroup(name string) slog.Handler {
	return &prefixHandler{
		handler: h.handler.WithGroup(name),
		module:  h.module,
	}
}

func (h *prefixHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.module == "" {
		return h.handler.Handle(ctx, r)
	}

	prefixed := slog.NewRecord(r.Time, r.Level, "["+h.module+"] "+r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		prefixed.AddAttrs(a)
		return true
	})
	return h.handler.Handle(ctx, prefixed)
}

// NewHandler returns a colored handler writing to w that honours Level.
func NewHandler(w io.Writer) slog.Handler {
	return &prefixHandler{
		handler: tint.NewHandler(w, &tint.Options{
			Level:      Level,
			TimeFormat: time.Kitchen,
		}),
	}
}

// Module returns a child of logger whose records are prefixed with name.
func Module(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("module", name)
}

// SetLevel parses one of debug, info, warn or error into Level.
func SetLevel(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		Level.Set(slog.LevelDebug)
	case "", "info":
		Level.Set(slog.LevelInfo)
	case "warn", "warning":
		Level.Set(slog.LevelWarn)
	case "error":
		Level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", s)
	}
	return nil
}

func init() {
	// must be imported by main before any package that logs from init()
	slog.SetDefault(slog.New(NewHandler(os.Stderr)))
}
