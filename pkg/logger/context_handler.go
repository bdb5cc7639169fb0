package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor pulls a single attribute out of a logging context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// contextHandler appends extracted context attributes to each record. An
// attribute whose key the call site already set is not added twice, so an
// explicit logger.UserID(...) wins over the one carried by ctx.
type contextHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

func newContextHandler(next slog.Handler, extractors []ContextExtractor) slog.Handler {
	if len(extractors) == 0 {
		return next
	}
	return &contextHandler{next: next, extractors: extractors}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	var seen map[string]struct{}
	for _, ex := range h.extractors {
		attr, ok := ex(ctx)
		if !ok {
			continue
		}
		if seen == nil {
			seen = make(map[string]struct{}, rec.NumAttrs())
			rec.Attrs(func(a slog.Attr) bool {
				seen[a.Key] = struct{}{}
				return true
			})
		}
		if _, dup := seen[attr.Key]; dup {
			continue
		}
		seen[attr.Key] = struct{}{}
		rec.AddAttrs(attr)
	}
	return h.next.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}
