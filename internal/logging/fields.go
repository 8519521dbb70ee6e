package logging

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// WithFields returns a context whose records carry attrs in addition to any
// fields already on ctx. Only the *Context logging methods see them.
func WithFields(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	prev := Fields(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields returns the attrs stored on ctx by WithFields.
func Fields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(fieldsKey{}).([]slog.Attr)
	return attrs
}

// FieldsHandler adds the context fields of each record before passing it on.
type FieldsHandler struct {
	inner slog.Handler
}

func NewFieldsHandler(inner slog.Handler) *FieldsHandler {
	return &FieldsHandler{inner: inner}
}

func (h *FieldsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *FieldsHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := Fields(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *FieldsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FieldsHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *FieldsHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &FieldsHandler{inner: h.inner.WithGroup(name)}
}
