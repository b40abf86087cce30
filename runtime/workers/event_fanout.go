package workers

import (
	"context"
	"log/slog"
	"time"

	"dm-relay/contract"
	"dm-relay/domain/event"
)

// EventFanout drains the relay's event channel and delivers each event to
// the session sinks selected by its route. Best-effort: a slow or dead sink
// gets a bounded delivery timeout and the event is dropped for that sink
// only. The single drain loop preserves the per-conversation emission order
// established by the conversation workers.
type EventFanout struct {
	log         *slog.Logger
	registry    contract.IRegistry
	events      chan event.Event
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, registry contract.IRegistry,
	events chan event.Event, sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{
		log:         log,
		registry:    registry,
		events:      events,
		sinkTimeout: sinkTimeout,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout resolves the event route against the registry and consumes it
// into each selected sink.
func (w *EventFanout) Fanout(ctx context.Context, evt event.Event) {
	route := evt.Route()

	var sinks []contract.EventSink
	switch route.Scope {
	case event.ScopeRoom:
		sinks = w.registry.SinksFor(route.Room)
	case event.ScopeRoomExceptOrigin:
		sinks = w.registry.SinksForExcept(route.Room, route.Origin)
	case event.ScopeBroadcastExceptOrigin:
		sinks = w.registry.SinksExcept(route.Origin)
	case event.ScopeSession:
		if sink, ok := w.registry.SinkOf(route.Target); ok {
			sinks = []contract.EventSink{sink}
		}
	}

	for _, sink := range sinks {
		w.deliver(ctx, sink, evt)
	}
}

func (w *EventFanout) deliver(ctx context.Context, sink contract.EventSink, evt event.Event) {
	deliveryCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(deliveryCtx, evt); err != nil {
		w.log.Warn("event delivery failed", "kind", evt.Kind(), "error", err)
	}
}
