package logger

import (
	"context"
	"log/slog"
	"strings"
)

// sinkHandler wraps another slog.Handler and mirrors every record to a
// host-registered Sink. The sink receives the flattened message (attributes
// appended as key=value pairs) so the host does not need to understand slog
// records.
type sinkHandler struct {
	next slog.Handler
	sink Sink
}

func newSinkHandler(next slog.Handler, sink Sink) *sinkHandler {
	return &sinkHandler{next: next, sink: sink}
}

func (h *sinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	var b strings.Builder
	b.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.Resolve().String())
		return true
	})

	h.sink(fromSlogLevel(r.Level), r.Time.UnixMilli(), b.String())
	return err
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sinkHandler{next: h.next.WithAttrs(attrs), sink: h.sink}
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	return &sinkHandler{next: h.next.WithGroup(name), sink: h.sink}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}
