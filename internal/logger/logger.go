package logger

import (
	"context"
	"log/slog"
	"os"
)

// Config describes how the CLI's top-level diagnostics logger is built.
// Per-process stdout/stderr capture is handled directly by the process
// package via plain append-mode file opens; this logger is for the
// supervisor's own operational diagnostics, not managed-process output.
type Config struct {
	Level           slog.Level
	ShowTime        bool
	Color           bool   // colorize the console stream; disabled for non-tty redirects
	DiagnosticsPath string // optional append-only file also receiving every record
}

// New builds the diagnostics logger: a text stream on w (colorized when
// cfg.Color is set) plus,
// when cfg.DiagnosticsPath is set, a second plain-text append-only sink so
// operators can grep history without rotation eating it underneath them.
func New(w *os.File, cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var console slog.Handler
	if cfg.Color {
		console = NewColorTextHandler(w, opts, cfg.ShowTime)
	} else {
		console = slog.NewTextHandler(w, opts)
	}

	if cfg.DiagnosticsPath == "" {
		return slog.New(console), nil
	}

	f, err := os.OpenFile(cfg.DiagnosticsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	file := slog.NewTextHandler(f, opts)
	return slog.New(&fanoutHandler{handlers: []slog.Handler{console, file}}), nil
}

// fanoutHandler dispatches every record to each wrapped handler in order.
// It exists because the diagnostics logger writes to two destinations
// (a colorized console stream and a plain append-only file) that need
// independent slog.Handler formatting.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
