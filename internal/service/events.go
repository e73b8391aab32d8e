package service

import (
	"context"
	"log/slog"
)

// Event is one structured business event. Name identifies the event; Attrs
// carry its fields.
type Event struct {
	Name  string
	Level slog.Level
	Attrs []slog.Attr
}

// Get returns the value of the named attribute.
func (e Event) Get(key string) (any, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value.Any(), true
		}
	}
	return nil, false
}

// EventSink is the logging port injected into the delivery components.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// SlogSink writes events to a slog.Logger, using the event name as the
// record message.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, ev Event) {
	s.logger.LogAttrs(ctx, ev.Level, ev.Name, ev.Attrs...)
}

func info(name string, attrs ...slog.Attr) Event {
	return Event{Name: name, Level: slog.LevelInfo, Attrs: attrs}
}

func warn(name string, attrs ...slog.Attr) Event {
	return Event{Name: name, Level: slog.LevelWarn, Attrs: attrs}
}

func errorEvent(name string, attrs ...slog.Attr) Event {
	return Event{Name: name, Level: slog.LevelError, Attrs: attrs}
}

func errAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
