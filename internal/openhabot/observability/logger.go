// Package observability configures the process-wide slog logger.
//
// The installed handler copies the turn ID from the context of every
// *Context logging call, so code only has to pass ctx along.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/openhabot/common/trace"
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("observability: unknown log level %q", level)
}

// NewHandler returns a text or JSON handler ("json" selects JSON) writing to
// w, wrapped so that records carry the turn ID of their context.
func NewHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return traceHandler{h}
}

// Setup installs the default logger on stdout. An unknown level falls back
// to info and is reported once the logger is in place.
func Setup(level, format string) {
	lvl, err := ParseLevel(level)
	slog.SetDefault(slog.New(NewHandler(os.Stdout, lvl, format)))
	if err != nil {
		slog.Warn("falling back to info logging", "err", err)
	}
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := trace.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}
