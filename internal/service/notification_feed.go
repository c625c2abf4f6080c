package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
)

// audiences maps each notifying event to the role that should see it.
var audiences = map[string]entity.Role{
	entity.EventNewOrder:       entity.RoleWholesaler,
	entity.EventOrderCancelled: entity.RoleWholesaler,
	entity.EventOrderCompleted: entity.RoleRetailer,
	entity.EventNewRetailer:    entity.RoleWholesaler,
}

// AudienceOf returns the role a notification for eventType is meant for.
func AudienceOf(eventType string) (entity.Role, bool) {
	role, ok := audiences[eventType]
	return role, ok
}

// Feed is the append-only list of notifications of a session.
type Feed struct {
	mu      sync.Mutex
	entries []entity.Notification
	unread  map[entity.Role]int
	now     func() time.Time
}

func NewFeed() *Feed {
	return &Feed{unread: make(map[entity.Role]int), now: time.Now}
}

// Record appends an unread notification for event. Events with no audience
// are not recorded.
func (f *Feed) Record(event entity.Event) (entity.Notification, bool) {
	if event == nil {
		return entity.Notification{}, false
	}
	audience, ok := AudienceOf(event.EventType())
	if !ok {
		return entity.Notification{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := entity.Notification{
		ID:         uuid.NewString(),
		Type:       entity.NotificationType(event.EventType()),
		Payload:    event.RawPayload(),
		Audience:   audience,
		ReceivedAt: f.now(),
	}
	f.entries = append(f.entries, n)
	f.unread[audience]++
	return n, true
}

// MarkRead marks the entry at index read. Marking an entry twice is a no-op.
func (f *Feed) MarkRead(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if index < 0 || index >= len(f.entries) {
		return fmt.Errorf("%w: index %d", entity.ErrNotificationNotFound, index)
	}
	if f.entries[index].Read {
		return nil
	}
	f.entries[index].Read = true
	f.unread[f.entries[index].Audience]--
	return nil
}

func (f *Feed) UnreadCountFor(role entity.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[role]
}

// Entries returns all notifications, oldest first.
func (f *Feed) Entries() []entity.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Notification(nil), f.entries...)
}

// For returns the notifications meant for role, oldest first.
func (f *Feed) For(role entity.Role) []entity.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Notification, 0, len(f.entries))
	for _, n := range f.entries {
		if n.Audience == role {
			out = append(out, n)
		}
	}
	return out
}

func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	f.unread = make(map[entity.Role]int)
}
