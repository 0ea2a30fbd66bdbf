package utils

import (
	"context"
	"log/slog"
)

// FanoutHandler delivers each record to several slog handlers, letting the
// daemon write the tinted console and the plain log file from one logger.
type FanoutHandler struct {
	sinks []slog.Handler
}

func NewFanoutHandler(sinks ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{sinks: sinks}
}

// Enabled reports whether any sink would accept a record at this level.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range h.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled sink. A failing sink does not
// stop delivery to the others; the last error is returned.
func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, sink := range h.sinks {
		if !sink.Enabled(ctx, r.Level) {
			continue
		}
		if e := sink.Handle(ctx, r); e != nil {
			err = e
		}
	}
	return err
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, sink := range h.sinks {
		sinks[i] = sink.WithAttrs(attrs)
	}
	return NewFanoutHandler(sinks...)
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, sink := range h.sinks {
		sinks[i] = sink.WithGroup(name)
	}
	return NewFanoutHandler(sinks...)
}
