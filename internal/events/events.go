package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Reservation lifecycle event types.
const (
	ReservationCreated    = "reservation.created"
	ReservationApproved   = "reservation.approved"
	ReservationRejected   = "reservation.rejected"
	ReservationCancelled  = "reservation.cancelled"
	ReservationReassigned = "reservation.reassigned"
	ReservationDisplaced  = "reservation.displaced"
	ReservationOverride   = "reservation.override"

	NotifyReassignment = "notify.reassignment"
	NotifyRejection    = "notify.rejection"
	NotifyReminder     = "notify.reminder"
)

// AllTypes lists every event type the service publishes.
var AllTypes = []string{
	ReservationCreated, ReservationApproved, ReservationRejected, ReservationCancelled,
	ReservationReassigned, ReservationDisplaced, ReservationOverride,
	NotifyReassignment, NotifyRejection, NotifyReminder,
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// ErrorHandler receives handler failures.
type ErrorHandler func(event Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	onError     ErrorHandler
}

// NewEventBus constructs an empty bus. onError may be nil.
func NewEventBus(onError ErrorHandler) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), onError: onError}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every type in AllTypes.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range AllTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type. Handlers run synchronously
// and their failures go to the error handler, never back to the publisher.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && b.onError != nil {
			b.onError(event, err)
		}
	}
}

// PublishJSON encodes payload and publishes it under eventType.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	b.Publish(Event{Type: eventType, Payload: data})
	return nil
}

// ReservationPayload is the body of every reservation.* event.
type ReservationPayload struct {
	ReservationID string `json:"reservation_id"`
	RequesterID   int64  `json:"requester_id"`
	CabinID       int64  `json:"cabin_id"`
	OldCabinID    int64  `json:"old_cabin_id,omitempty"`
	Date          string `json:"date"`
	Interval      string `json:"interval"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	ActorID       int64  `json:"actor_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NotificationPayload is the body of notify.* events.
type NotificationPayload struct {
	RequesterID int64  `json:"requester_id"`
	OldCabinID  int64  `json:"old_cabin_id,omitempty"`
	NewCabinID  int64  `json:"new_cabin_id,omitempty"`
	Reason      string `json:"reason"`

	// set on reminders only
	ReservationID string `json:"reservation_id,omitempty"`
	Date          string `json:"date,omitempty"`
	Interval      string `json:"interval,omitempty"`
}
