package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/auth"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository"
)

// SessionConfig tunes a Session and the stores it owns.
type SessionConfig struct {
	Timeout        time.Duration
	RepeatInterval time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Session owns the cart, orders and notifications of one signed-in user and
// routes push events to them. Events delivered for an earlier session are dropped.
type Session struct {
	gateway   gateway.UserGateway
	transport messaging.Transport
	store     repository.Store
	cart      *CartService
	orders    *OrderService
	feed      *Feed
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	connSub   messaging.Subscription

	mu         sync.RWMutex
	current    *entity.Session
	generation uint64
	subs       []messaging.Subscription

	obsMu     sync.Mutex
	observers []func(entity.Notification)
}

// NewSession creates a signed-out Session. The reconnect hook is registered
// here once and announces presence whenever a session is active.
func NewSession(gw gateway.Gateway, transport messaging.Transport, store repository.Store, cfg SessionConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		gateway:   gw,
		transport: transport,
		store:     store,
		cart:      NewCartService(gw, store, CartConfig{Timeout: cfg.Timeout, RepeatInterval: cfg.RepeatInterval, Logger: cfg.Logger}),
		orders:    NewOrderService(gw, OrderConfig{Timeout: cfg.Timeout, Logger: cfg.Logger}),
		feed:      NewFeed(),
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "session"),
		now:       cfg.Now,
	}
	s.connSub = transport.OnConnect(s.onReconnect)
	return s
}

// Start signs in with token, or with the persisted token when token is empty.
// An active session is torn down first. Errors loading orders or the cart are
// returned joined while the session stays active.
func (s *Session) Start(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		saved, err := s.store.Get(ctx, repository.KeyToken)
		if errors.Is(err, repository.ErrNotFound) {
			return entity.ErrNoSession
		}
		if err != nil {
			return fmt.Errorf("failed to read saved token: %w", err)
		}
		if token = strings.TrimSpace(string(saved)); token == "" {
			return entity.ErrNoSession
		}
	}
	if _, err := auth.ParseClaims(token, s.now()); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if _, active := s.Current(); active {
		if err := s.Logout(ctx); err != nil {
			s.logger.Warn("Previous session was not fully cleared", "err", err)
		}
	}

	if err := s.store.Set(ctx, repository.KeyToken, []byte(token)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	user, err := s.gateway.GetUser(cctx)
	cancel()
	if err != nil {
		var ne *entity.NetworkError
		if errors.As(err, &ne) && (ne.StatusCode == http.StatusUnauthorized || ne.StatusCode == http.StatusForbidden) {
			if derr := s.store.Delete(ctx, repository.KeyToken); derr != nil {
				s.logger.Warn("Failed to delete rejected token", "err", derr)
			}
		}
		return fmt.Errorf("failed to resolve user: %w", err)
	}
	if !user.Role.Valid() {
		return entity.NewValidationError("role", fmt.Sprintf("unknown role %q", user.Role), nil)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.current = &entity.Session{Token: token, Role: user.Role, UserID: user.UserID}
	for _, name := range entity.InboundEvents {
		s.subs = append(s.subs, s.transport.On(name, s.handler(name, gen)))
	}
	s.mu.Unlock()

	s.logger.Info("Session started", "role", user.Role, "user_id", user.UserID)

	if s.transport.Connected() {
		s.announce(ctx)
	}
	return s.load(ctx, user.Role, true)
}

// Logout unsubscribes from the transport before clearing any state, so an
// event arriving during teardown cannot touch the next session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.generation++
	prev := s.current
	s.current = nil
	s.cart.Reset()
	s.orders.Reset()
	s.feed.Clear()
	s.mu.Unlock()

	var errs []error
	for _, key := range []string{repository.KeyToken, repository.KeyCart} {
		if err := s.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	if prev != nil {
		s.logger.Info("Session ended", "role", prev.Role, "user_id", prev.UserID)
	}
	return errors.Join(errs...)
}

// Refresh reloads orders, and the cart for retailers.
func (s *Session) Refresh(ctx context.Context) error {
	cur, ok := s.Current()
	if !ok {
		return entity.ErrNoSession
	}
	return s.load(ctx, cur.Role, false)
}

// Current returns the active session.
func (s *Session) Current() (entity.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return entity.Session{}, false
	}
	return *s.current, true
}

func (s *Session) Cart() *CartService    { return s.cart }
func (s *Session) Orders() *OrderService { return s.orders }
func (s *Session) Feed() *Feed           { return s.feed }

// OnNotification registers fn to run after every recorded notification.
func (s *Session) OnNotification(fn func(entity.Notification)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Close releases the reconnect hook. The session must not be used afterwards.
func (s *Session) Close() {
	s.connSub.Unsubscribe()
}

func (s *Session) load(ctx context.Context, role entity.Role, restore bool) error {
	var errs []error
	if _, err := s.orders.Hydrate(ctx, role); err != nil {
		errs = append(errs, err)
	}
	if role == entity.RoleRetailer {
		if restore {
			if _, err := s.cart.Restore(ctx); err != nil {
				s.logger.Warn("Failed to restore saved cart", "err", err)
			}
		}
		if _, err := s.cart.LoadCart(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handler decodes one inbound event and applies it, provided the session that
// subscribed is still the active one.
func (s *Session) handler(name string, gen uint64) messaging.Handler {
	return func(payload json.RawMessage) {
		event, err := entity.DecodeEvent(name, payload)
		if err != nil {
			s.logger.Warn("Dropping malformed event", "event", name, "err", err)
			return
		}

		s.mu.RLock()
		if s.current == nil || s.generation != gen {
			s.mu.RUnlock()
			s.logger.Warn("Dropping event", "event", name, "err", entity.ErrSessionMismatch)
			return
		}
		outcome := s.orders.ApplyEvent(event)
		var (
			n        entity.Notification
			recorded bool
		)
		if outcome != entity.Duplicate {
			n, recorded = s.feed.Record(event)
		}
		s.mu.RUnlock()

		s.logger.Debug("Event applied", "event", name, "outcome", outcome.String())
		if recorded {
			s.notify(n)
		}
	}
}

func (s *Session) notify(n entity.Notification) {
	s.obsMu.Lock()
	observers := slices.Clone(s.observers)
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(n)
	}
}

// onReconnect runs on the initial connection and every reconnection.
func (s *Session) onReconnect() {
	s.announce(context.Background())
}

// announce tells the server which socket belongs to the signed-in user.
func (s *Session) announce(ctx context.Context) {
	cur, ok := s.Current()
	if !ok {
		return
	}
	event := entity.PresenceEvent(cur.Role)
	if err := s.transport.Emit(ctx, event, entity.Presence{ID: cur.UserID}); err != nil {
		s.logger.Error("Failed to announce presence", "event", event, "user_id", cur.UserID, "err", err)
		return
	}
	s.logger.Info("Presence announced", "event", event, "user_id", cur.UserID)
}
