// Package memory provides an in-process Transport. It backs tests and embedders
// that bridge push events from their own connection.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging"
)

// Emitted is an event the client sent through the bus.
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Bus is an in-memory messaging.Transport.
type Bus struct {
	*messaging.Registry

	mu        sync.Mutex
	connected bool
	emitted   []Emitted
}

var _ messaging.Transport = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{Registry: messaging.NewRegistry()}
}

// Emit records the event. It fails with ErrNotConnected while disconnected.
func (b *Bus) Emit(_ context.Context, event string, payload any) error {
	env, err := messaging.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return entity.ErrNotConnected
	}
	b.emitted = append(b.emitted, Emitted{Event: env.Event, Payload: env.Data})
	return nil
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Connect marks the bus connected and runs the connect hooks, like a
// real transport does after every successful dial.
func (b *Bus) Connect() {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.NotifyConnect()
}

// Disconnect marks the bus disconnected.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

// Publish simulates a server push and returns the number of handlers that ran.
func (b *Bus) Publish(event string, payload any) (int, error) {
	env, err := messaging.NewEnvelope(event, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return b.Dispatch(env.Event, env.Data), nil
}

// Emitted returns a copy of everything emitted so far.
func (b *Bus) Emitted() []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Emitted(nil), b.emitted...)
}
