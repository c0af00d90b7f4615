package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
	"goa.design/goa/v3/middleware"
)

// SlogHandler forwards log/slog records to zerolog. sutureslog only speaks
// slog, so the supervisor tree is hooked through this handler.
type SlogHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	group  string
}

// NewSlogLogger returns a slog.Logger backed by the global zerolog logger.
func NewSlogLogger() *slog.Logger {
	return slog.New(&SlogHandler{logger: Logger()})
}

func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= toZerolog(level) && zerolog.GlobalLevel() <= toZerolog(level)
}

func (h *SlogHandler) Handle(_ context.Context, r slog.Record) error {
	ev := h.logger.WithLevel(toZerolog(r.Level))
	for _, a := range h.attrs {
		ev = h.addAttr(ev, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = h.addAttr(ev, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SlogHandler{logger: h.logger, attrs: merged, group: h.group}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &SlogHandler{logger: h.logger, attrs: h.attrs, group: g}
}

func (h *SlogHandler) addAttr(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	default:
		return ev.Interface(key, a.Value.Any())
	}
}

func toZerolog(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// goaAdapter satisfies goa's middleware.Logger so the goa HTTP request
// logging middleware writes structured zerolog entries.
type goaAdapter struct {
	logger zerolog.Logger
}

// NewGoaAdapter returns a goa logger writing through zerolog.
func NewGoaAdapter() middleware.Logger {
	return &goaAdapter{logger: Logger().With().Str("component", "http").Logger()}
}

// Log receives alternating key/value pairs. An odd trailing key is logged
// with a MISSING value.
func (a *goaAdapter) Log(keyvals ...any) error {
	ev := a.logger.Info()
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			ev = ev.Str(key, "MISSING")
			break
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Send()
	return nil
}
