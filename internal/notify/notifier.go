// Package notify delivers requester notifications and lifecycle events to
// external sinks. The core only sees domain.Notifier; everything else hangs
// off the event bus.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"cabinbook/internal/events"
)

// Publisher is the part of the event bus a notifier needs.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// BusNotifier turns notification requests into notify.* events.
type BusNotifier struct {
	bus    Publisher
	logger zerolog.Logger
}

func NewBusNotifier(bus Publisher, logger zerolog.Logger) *BusNotifier {
	return &BusNotifier{bus: bus, logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *BusNotifier) NotifyReassignment(_ context.Context, requesterID, oldCabinID, newCabinID int64, reason string) {
	n.publish(events.NotifyReassignment, events.NotificationPayload{
		RequesterID: requesterID,
		OldCabinID:  oldCabinID,
		NewCabinID:  newCabinID,
		Reason:      reason,
	})
}

func (n *BusNotifier) NotifyRejection(_ context.Context, requesterID int64, reason string) {
	n.publish(events.NotifyRejection, events.NotificationPayload{
		RequesterID: requesterID,
		Reason:      reason,
	})
}

func (n *BusNotifier) publish(eventType string, payload events.NotificationPayload) {
	if err := n.bus.PublishJSON(eventType, payload); err != nil {
		n.logger.Error().Err(err).Str("event", eventType).Int64("requester_id", payload.RequesterID).Msg("notification dropped")
	}
}

// LogSink writes every lifecycle event to the log.
func LogSink(logger zerolog.Logger) events.EventHandler {
	l := logger.With().Str("component", "event_log").Logger()
	return func(ev events.Event) error {
		l.Info().
			Int64("event_id", ev.ID).
			Str("type", ev.Type).
			RawJSON("payload", ev.Payload).
			Msg("event")
		return nil
	}
}
