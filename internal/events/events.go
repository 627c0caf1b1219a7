package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"carinspect/internal/models"
)

const (
	EventInspectionBooked      = "inspection.booked"
	EventInspectionConfirmed   = "inspection.confirmed"
	EventInspectionCompleted   = "inspection.completed"
	EventInspectionRescheduled = "inspection.rescheduled"
	EventInspectionCancelled   = "inspection.cancelled"
)

// InspectionEventTypes lists every lifecycle event in publication order.
var InspectionEventTypes = []string{
	EventInspectionBooked,
	EventInspectionConfirmed,
	EventInspectionCompleted,
	EventInspectionRescheduled,
	EventInspectionCancelled,
}

// InspectionEventPayload is the inspection snapshot taken right after a transition.
type InspectionEventPayload struct {
	Inspection  *models.Inspection `json:"inspection"`
	ChangedByID int64              `json:"changed_by_id,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// DecodeInspectionEvent unmarshals the payload of an inspection event.
func DecodeInspectionEvent(event *Event) (*InspectionEventPayload, error) {
	var payload InspectionEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	if payload.Inspection == nil {
		return nil, fmt.Errorf("%s payload has no inspection", event.Type)
	}
	return &payload, nil
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     func(event *Event, err error)
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler failures. Failures never reach the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
