package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zlHandler bridges slog records onto a zerolog logger so components can
// take the standard *slog.Logger while output stays zerolog-formatted.
type zlHandler struct {
	zl   *zerolog.Logger
	attr []slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&zlHandler{zl: zl})
}

func (h *zlHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *zlHandler) Handle(ctx context.Context, r slog.Record) error {
	ev := h.event(ctx, r.Level)
	for _, a := range h.attr {
		ev = appendAttr(ev, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *zlHandler) event(ctx context.Context, lvl slog.Level) *zerolog.Event {
	base := FromContext(ctx, h.zl)
	switch {
	case lvl <= slog.LevelDebug:
		return base.Debug()
	case lvl >= slog.LevelError:
		return base.Error()
	case lvl == slog.LevelWarn:
		return base.Warn()
	default:
		return base.Info()
	}
}

func (h *zlHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attr = append(append([]slog.Attr(nil), h.attr...), attrs...)
	return &cp
}

func (h *zlHandler) WithGroup(_ string) slog.Handler { return h }

func appendAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(a.Key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(a.Key, a.Value.Int64())
	case slog.KindFloat64:
		return ev.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(a.Key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Str(a.Key, a.Value.Duration().String())
	default:
		return ev.Interface(a.Key, a.Value.Any())
	}
}
