package scopelog

import (
	"context"
	"errors"
	"log/slog"
)

// FanoutHandler copies each record to every sink, typically the console
// plus a rotating file. All sinks built by NewHandler share one level, so
// a record accepted by the fanout is accepted by each sink.
type FanoutHandler struct {
	sinks []slog.Handler
}

// Fanout creates a handler that writes to every given sink.
func Fanout(sinks ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{sinks: sinks}
}

// Enabled reports whether any sink accepts the level.
func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range f.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle delivers the record to every sink. A failing sink does not stop
// delivery to the rest; all failures are joined.
func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error

	for _, sink := range f.sinks {
		if err := sink.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WithAttrs applies the attributes to every sink.
func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.sinks))
	for i, sink := range f.sinks {
		next[i] = sink.WithAttrs(attrs)
	}

	return &FanoutHandler{sinks: next}
}

// WithGroup applies the group to every sink.
func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.sinks))
	for i, sink := range f.sinks {
		next[i] = sink.WithGroup(name)
	}

	return &FanoutHandler{sinks: next}
}
