package messaging

import (
	"context"
	"encoding/json"
)

// Handler receives the raw payload of an inbound event.
type Handler func(payload json.RawMessage)

// Subscription removes a handler registered with On or OnConnect.
type Subscription interface {
	Unsubscribe()
}

// Transport is a pub/sub channel over one long-lived connection.
// Delivery is at-least-once and unordered across events.
type Transport interface {
	// Emit sends an event to the server.
	Emit(ctx context.Context, event string, payload any) error
	// On registers a handler for an inbound event.
	On(event string, h Handler) Subscription
	// OnConnect registers fn to run on every (re)connection.
	OnConnect(fn func()) Subscription
	// Connected reports whether the connection is currently up.
	Connected() bool
}

// Envelope is the frame format on the wire: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return Envelope{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}
