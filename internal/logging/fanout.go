package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sink is one log destination. Level, when set, raises the floor for this
// sink only, so Graylog can take warnings while the console takes debug.
type Sink struct {
	Name    string
	Handler slog.Handler
	Level   slog.Leveler
}

func (s Sink) enabled(ctx context.Context, level slog.Level) bool {
	if s.Level != nil && level < s.Level.Level() {
		return false
	}
	return s.Handler.Enabled(ctx, level)
}

// FanOut writes each record to every sink that admits its level.
type FanOut struct {
	sinks []Sink
}

// NewFanOut drops sinks without a handler.
func NewFanOut(sinks ...Sink) *FanOut {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			valid = append(valid, s)
		}
	}
	return &FanOut{sinks: valid}
}

func (f *FanOut) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps writing after a sink fails and returns every failure, tagged
// with the sink name.
func (f *FanOut) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("log sink %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *FanOut) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *FanOut) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *FanOut) derive(fn func(slog.Handler) slog.Handler) *FanOut {
	sinks := make([]Sink, len(f.sinks))
	for i, s := range f.sinks {
		s.Handler = fn(s.Handler)
		sinks[i] = s
	}
	return &FanOut{sinks: sinks}
}
