package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/gateway"
)

// OrderConfig tunes an OrderService.
type OrderConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// transition is an optimistic status change waiting for the server.
type transition struct {
	seq    uint64
	target entity.Status
}

type orderEntry struct {
	order   entity.Order // last confirmed state
	pending *transition
	rev     uint64 // revision of the last event applied to the order
}

func (e *orderEntry) view() entity.Order {
	o := e.order
	if e.pending != nil {
		o.Status = e.pending.target
		o.Sync = entity.Pending()
	}
	return o
}

// OrderService holds the orders visible to the session and applies both push
// events and the user's own status changes to them.
type OrderService struct {
	gateway gateway.OrderGateway
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	epoch   uint64
	seq     uint64
	rev     uint64
	role    entity.Role
	ids     []entity.ID
	entries map[entity.ID]*orderEntry
}

func NewOrderService(gw gateway.OrderGateway, cfg OrderConfig) *OrderService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OrderService{
		gateway: gw,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "orders"),
		entries: make(map[entity.ID]*orderEntry),
	}
}

// Hydrate replaces the order list with the server's view for role. On failure
// the last known orders are kept and returned with the error. Push events
// applied while the fetch was in flight outrank the snapshot, and an order
// already shown as delivered or cancelled never returns to pending.
func (s *OrderService) Hydrate(ctx context.Context, role entity.Role) ([]entity.Order, error) {
	if !role.Valid() {
		return nil, entity.NewValidationError("role", fmt.Sprintf("unknown role %q", role), nil)
	}

	s.mu.Lock()
	s.role = role
	epoch := s.epoch
	since := s.rev
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	orders, err := s.gateway.GetOrders(cctx, role)
	cancel()
	if err != nil {
		s.logger.Warn("Failed to load orders, keeping last known state", "role", role, "err", err)
		return s.Orders(), fmt.Errorf("failed to load %s orders: %w", role, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.logger.Debug("Discarding order response from a previous session")
		return nil, nil
	}

	ids := make([]entity.ID, 0, len(orders))
	entries := make(map[entity.ID]*orderEntry, len(orders))
	for _, o := range orders {
		if o.OrderID == "" {
			continue
		}
		if _, dup := entries[o.OrderID]; dup {
			continue
		}
		o.Sync = entity.Confirmed()
		e := &orderEntry{order: o}
		if old, ok := s.entries[o.OrderID]; ok {
			switch {
			case old.rev > since, old.order.Status.Terminal() && !o.Status.Terminal():
				e = old
			case old.pending != nil && o.Status == entity.StatusPending:
				e.pending = old.pending
			}
		}
		ids = append(ids, o.OrderID)
		entries[o.OrderID] = e
	}
	// Orders pushed during the fetch may not be in the snapshot yet.
	for _, id := range s.ids {
		if _, ok := entries[id]; ok {
			continue
		}
		if old := s.entries[id]; old.rev > since {
			ids = append(ids, id)
			entries[id] = old
		}
	}
	if since != s.rev {
		s.logger.Debug("Merged order snapshot with events received during fetch", "since", since, "rev", s.rev)
	}
	s.ids = ids
	s.entries = entries
	return s.ordersLocked(), nil
}

// ApplyEvent folds a push event into the order list. It never fails: events
// that cannot apply are reported through the outcome and logged.
func (s *OrderService) ApplyEvent(event entity.Event) entity.Outcome {
	switch e := event.(type) {
	case entity.NewOrder:
		return s.addOrder(e.Order)
	case entity.OrderCancelled:
		return s.applyTransition(e.EventType(), e.OrderID, entity.StatusCancelled)
	case entity.OrderCompleted:
		return s.applyTransition(e.EventType(), e.OrderID, entity.StatusDelivered)
	default:
		return entity.Ignored
	}
}

func (s *OrderService) addOrder(o entity.Order) entity.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[o.OrderID]; exists {
		s.logger.Debug("Ignoring duplicate order", "order_id", o.OrderID)
		return entity.Duplicate
	}
	o.Status = entity.StatusPending
	o.Sync = entity.Confirmed()
	s.rev++
	s.ids = append(s.ids, o.OrderID)
	s.entries[o.OrderID] = &orderEntry{order: o, rev: s.rev}
	s.logger.Info("Order received", "order_id", o.OrderID)
	return entity.Applied
}

// applyTransition moves a pending order to target. A push event is the
// server's word, so it also overrides an optimistic transition in flight.
func (s *OrderService) applyTransition(event string, id entity.ID, target entity.Status) entity.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		s.logger.Warn("Dropping event for unknown order", "event", event, "order_id", id, "err", entity.ErrStaleEvent)
		return entity.Stale
	}
	if err := e.order.Transition(target); err != nil {
		s.logger.Warn("Dropping event for settled order", "event", event, "order_id", id, "status", e.order.Status, "err", entity.ErrStaleEvent)
		return entity.Stale
	}
	s.rev++
	e.rev = s.rev
	e.pending = nil
	e.order.Sync = entity.Confirmed()
	s.logger.Info("Order status changed", "event", event, "order_id", id, "status", target)
	return entity.Applied
}

// Cancel cancels a pending order on behalf of the retailer who placed it.
func (s *OrderService) Cancel(ctx context.Context, orderID entity.ID) error {
	return s.transition(ctx, orderID, entity.RoleRetailer, entity.StatusCancelled, s.gateway.CancelOrder)
}

// MarkDelivered marks a pending order delivered on behalf of the wholesaler.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID entity.ID) error {
	return s.transition(ctx, orderID, entity.RoleWholesaler, entity.StatusDelivered, func(ctx context.Context, id entity.ID) error {
		return s.gateway.UpdateOrderStatus(ctx, id, entity.StatusDelivered)
	})
}

func (s *OrderService) transition(ctx context.Context, id entity.ID, role entity.Role, target entity.Status, call func(context.Context, entity.ID) error) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", entity.ErrOrderNotFound, id)
	}
	if s.role != role {
		current := s.role
		s.mu.Unlock()
		return entity.NewValidationError("role", fmt.Sprintf("%s cannot move an order to %s", current, target), nil)
	}
	if e.order.Status.Terminal() || e.pending != nil {
		status := e.view().Status
		s.mu.Unlock()
		return fmt.Errorf("%w: order %s is %s", entity.ErrInvalidTransition, id, status)
	}
	s.seq++
	seq := s.seq
	e.pending = &transition{seq: seq, target: target}
	epoch := s.epoch
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := call(cctx, id)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[id]
	if epoch != s.epoch || !ok || cur.pending == nil || cur.pending.seq != seq {
		// An event or a hydrate settled the order while the request was out.
		if err != nil {
			return fmt.Errorf("failed to move order %s to %s: %w", id, target, err)
		}
		return nil
	}
	cur.pending = nil
	if err != nil {
		cur.order.Sync = entity.RolledBack(err)
		s.logger.Warn("Order status change failed, rolled back", "order_id", id, "status", target, "err", err)
		return fmt.Errorf("failed to move order %s to %s: %w", id, target, err)
	}
	if err := cur.order.Transition(target); err != nil {
		return err
	}
	cur.order.Sync = entity.Confirmed()
	s.logger.Info("Order status changed", "order_id", id, "status", target)
	return nil
}

// Orders returns every order in arrival order, with optimistic changes applied.
func (s *OrderService) Orders() []entity.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordersLocked()
}

func (s *OrderService) Get(id entity.ID) (entity.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return entity.Order{}, false
	}
	return e.view(), true
}

func (s *OrderService) Pending() []entity.Order {
	return entity.FilterByStatus(s.Orders(), entity.StatusPending)
}

func (s *OrderService) Delivered() []entity.Order {
	return entity.FilterByStatus(s.Orders(), entity.StatusDelivered)
}

func (s *OrderService) Cancelled() []entity.Order {
	return entity.FilterByStatus(s.Orders(), entity.StatusCancelled)
}

// Reset drops every order. Responses to requests started before Reset are discarded.
func (s *OrderService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.role = ""
	s.ids = nil
	s.entries = make(map[entity.ID]*orderEntry)
}

func (s *OrderService) ordersLocked() []entity.Order {
	out := make([]entity.Order, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.entries[id].view())
	}
	return out
}
