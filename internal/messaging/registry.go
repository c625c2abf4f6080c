package messaging

import (
	"encoding/json"
	"sync"
)

// Registry keeps the handler tables shared by every transport implementation.
// Handlers are invoked outside the registry lock, so a handler may subscribe or
// unsubscribe without deadlocking.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	connect  map[uint64]func()
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]map[uint64]Handler),
		connect:  make(map[uint64]func()),
	}
}

// On registers h for event.
func (r *Registry) On(event string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[uint64]Handler)
	}
	r.handlers[event][id] = h

	return &subscription{off: func() { r.off(event, id) }}
}

// OnConnect registers fn to run on every connection.
func (r *Registry) OnConnect(fn func()) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.connect[id] = fn

	return &subscription{off: func() {
		r.mu.Lock()
		delete(r.connect, id)
		r.mu.Unlock()
	}}
}

// Dispatch delivers payload to every handler registered for event and
// reports how many handlers ran.
func (r *Registry) Dispatch(event string, payload json.RawMessage) int {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[event]))
	for _, h := range r.handlers[event] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
	return len(hs)
}

// NotifyConnect runs every connect hook.
func (r *Registry) NotifyConnect() {
	r.mu.RLock()
	fns := make([]func(), 0, len(r.connect))
	for _, fn := range r.connect {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// HandlerCount returns the number of handlers registered for event.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

func (r *Registry) off(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers[event], id)
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}

type subscription struct {
	once sync.Once
	off  func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.off) }
