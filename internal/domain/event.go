package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventDeviceCreated   EventType = "device.created"
	EventDeviceClosed    EventType = "device.closed"
	EventRegisterCreated EventType = "register.created"
	EventRegisterChanged EventType = "register.changed"
)

// Source says which side caused a register event.
type Source string

const (
	SourceProgram   Source = "program"
	SourceSimulator Source = "simulator"
)

// Event is the envelope published on the event bus.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RegisterEvent is the payload of device.* and register.* events. Field,
// Kind, Direction and Value are empty for device events.
type RegisterEvent struct {
	Device    string    `json:"device"`
	Field     string    `json:"field,omitempty"`
	Kind      ValueKind `json:"kind,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Value     float64   `json:"value"`
	Source    Source    `json:"source"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewRegisterEvent builds an event envelope stamped with a ULID and the current time.
func NewRegisterEvent(typ EventType, payload RegisterEvent) Event {
	data, _ := json.Marshal(payload)
	return Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
}

// DecodeRegisterEvent extracts the RegisterEvent payload of e.
func DecodeRegisterEvent(e Event) (RegisterEvent, error) {
	var p RegisterEvent
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return RegisterEvent{}, WrapOp("DecodeRegisterEvent", err)
	}
	return p, nil
}
