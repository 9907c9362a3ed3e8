package log

import (
	"context"
	"log/slog"
)

// SlogAdapter prints capture events through an slog.Logger, which is handy
// when tracing a session on the console instead of writing a capture file.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter logs events to logger at debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter logging at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log implements Logger. Error events are raised to at least warn level.
func (a *SlogAdapter) Log(event Event) {
	level := a.level
	if event.Error != nil {
		level = max(level, slog.LevelWarn)
	}
	if !a.logger.Enabled(context.Background(), level) {
		return
	}

	attrs := append([]slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}, payloadAttrs(event)...)
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	a.logger.LogAttrs(context.Background(), level, "protocol", attrs...)
}

// payloadAttrs flattens whichever payload the event carries. Optional
// fields are left out when unset.
func payloadAttrs(e Event) []slog.Attr {
	var attrs []slog.Attr
	add := func(cond bool, attr slog.Attr) {
		if cond {
			attrs = append(attrs, attr)
		}
	}

	switch {
	case e.Frame != nil:
		add(true, slog.Int("frame_size", e.Frame.Size))
		add(true, slog.Bool("truncated", e.Frame.Truncated))

	case e.Message != nil:
		m := e.Message
		add(true, slog.String("frame_type", m.TypeName()))
		add(true, slog.Uint64("id", uint64(m.ID)))
		add(true, slog.Int("body_size", m.BodySize))
		add(m.Name != "", slog.String("name", m.Name))
		add(m.Deflate, slog.Bool("deflate", true))
		if m.Checksum != nil {
			add(true, slog.Uint64("checksum", *m.Checksum))
		}

	case e.StateChange != nil:
		sc := e.StateChange
		add(true, slog.String("entity", sc.Entity.String()))
		add(true, slog.String("old_state", sc.OldState))
		add(true, slog.String("new_state", sc.NewState))
		add(sc.ObsID != 0, slog.Uint64("obs_id", uint64(sc.ObsID)))
		add(sc.Reason != "", slog.String("reason", sc.Reason))

	case e.ControlMsg != nil:
		add(true, slog.String("ctrl_type", e.ControlMsg.Type.String()))
		if c := e.ControlMsg.CloseCode; c != nil {
			add(true, slog.Int("close_code", *c))
		}

	case e.Error != nil:
		er := e.Error
		add(true, slog.String("error_layer", er.Layer.String()))
		add(true, slog.String("error_msg", er.Message))
		add(true, slog.String("error_context", er.Context))
		if er.Code != nil {
			add(true, slog.Int("error_code", *er.Code))
		}
	}
	return attrs
}

var _ Logger = (*SlogAdapter)(nil)
