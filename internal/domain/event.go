package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionCompleted EventType = "session.completed"
	EventSessionFailed    EventType = "session.failed"

	EventAgentMessage EventType = "agent.message"
	EventAgentHealth  EventType = "agent.health"

	EventConsensusRequested EventType = "consensus.requested"
	EventConsensusFinalized EventType = "consensus.finalized"

	EventKnowledgeAdded EventType = "knowledge.added"

	EventPortAllocated EventType = "port.allocated"
	EventPortReleased  EventType = "port.released"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event. A payload that cannot be
// marshalled is dropped rather than failing the publisher.
func NewEvent(typ EventType, sessionID string, payload any) Event {
	ev := Event{Type: typ, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
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

// Emit publishes on bus if it is non-nil.
func Emit(ctx context.Context, bus EventBus, typ EventType, sessionID string, payload any) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, NewEvent(typ, sessionID, payload))
}
