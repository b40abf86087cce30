// Package sink adapts the fan-out side of the relay to individual
// connections: each live session owns one buffered sink drained by its
// transport write loop.
package sink

import (
	"context"
	"log/slog"

	"dm-relay/domain/event"
)

// SessionSink decouples fan-out from socket writes. Consume is called by
// the fan-out worker; the transport handler owns the other end of the
// channel and pushes frames onto the wire at its own pace.
type SessionSink struct {
	Events chan event.Event
	log    *slog.Logger
}

func NewSessionSink(log *slog.Logger, bufferSize int) *SessionSink {
	return &SessionSink{
		Events: make(chan event.Event, bufferSize),
		log:    log,
	}
}

// Consume enqueues the event for this session. When the buffer is full the
// event is dropped for this session only: one slow client must never stall
// the fan-out for everyone else.
func (s *SessionSink) Consume(ctx context.Context, e event.Event) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Warn("session buffer full, dropping event", "kind", e.Kind())
		return nil
	}
}
