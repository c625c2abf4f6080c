package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/auth"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging/memory"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository"
	memstore "github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository/memory"
)

type sessionFixture struct {
	gw      *fakeGateway
	bus     *memory.Bus
	store   repository.Store
	session *Session
}

func newSessionFixture(t *testing.T, user entity.User) *sessionFixture {
	t.Helper()
	gw := newFakeGateway()
	gw.user = user
	bus := memory.NewBus()
	store := memstore.NewStore()
	s := NewSession(gw, bus, store, SessionConfig{})
	t.Cleanup(s.Close)
	return &sessionFixture{gw: gw, bus: bus, store: store, session: s}
}

var (
	wholesaler = entity.User{UserID: "W1", Role: entity.RoleWholesaler, Name: "Agro Traders"}
	retailer   = entity.User{UserID: "R1", Role: entity.RoleRetailer, Name: "Corner Store"}
)

func publish(t *testing.T, bus *memory.Bus, event, payload string) int {
	t.Helper()
	n, err := bus.Publish(event, json.RawMessage(payload))
	require.NoError(t, err)
	return n
}

func presences(bus *memory.Bus) []memory.Emitted {
	var out []memory.Emitted
	for _, e := range bus.Emitted() {
		if e.Event == entity.EventWholesalerConnect || e.Event == entity.EventRetailerConnect {
			out = append(out, e)
		}
	}
	return out
}

func TestSessionStartWholesaler(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	f.gw.setOrders(entity.RoleWholesaler, order("O1", entity.StatusPending))
	f.bus.Connect()

	var (
		mu       sync.Mutex
		received []entity.Notification
	)
	f.session.OnNotification(func(n entity.Notification) {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
	})

	require.NoError(t, f.session.Start(context.Background(), "opaque-token"))

	cur, ok := f.session.Current()
	require.True(t, ok)
	assert.Equal(t, entity.Session{Token: "opaque-token", Role: entity.RoleWholesaler, UserID: "W1"}, cur)
	assert.Len(t, f.session.Orders().Orders(), 1)
	assert.Zero(t, f.gw.Calls("get-cart"))

	saved, err := f.store.Get(context.Background(), repository.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", string(saved))

	emitted := presences(f.bus)
	require.Len(t, emitted, 1)
	assert.Equal(t, entity.EventWholesalerConnect, emitted[0].Event)
	assert.JSONEq(t, `{"id":"W1"}`, string(emitted[0].Payload))

	assert.Equal(t, 1, publish(t, f.bus, entity.EventNewOrder, `{"order_id":"O2","user_id":"R1","status":"delivered"}`))
	assert.Equal(t, 1, publish(t, f.bus, entity.EventNewOrder, `{"order_id":"O2","user_id":"R1"}`))
	assert.Equal(t, 1, publish(t, f.bus, entity.EventOrderCancelled, `{"order_id":"O1"}`))

	assert.Len(t, f.session.Orders().Orders(), 2)
	assert.Equal(t, entity.StatusPending, statusOf(t, f.session.Orders(), "O2"))
	assert.Equal(t, entity.StatusCancelled, statusOf(t, f.session.Orders(), "O1"))
	assert.Equal(t, 2, f.session.Feed().UnreadCountFor(entity.RoleWholesaler))

	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()
}

func TestSessionStartRetailerLoadsCart(t *testing.T) {
	f := newSessionFixture(t, retailer)
	f.gw.setCart(line("P1", 2, 80), line("P1", 1, 80))
	f.gw.setOrders(entity.RoleRetailer, order("O100", entity.StatusPending))

	require.NoError(t, f.session.Start(context.Background(), "tok"))
	assert.Equal(t, map[entity.ID]int{"P1": 3}, quantities(f.session.Cart().Lines()))

	publish(t, f.bus, entity.EventOrderComplete, `{"order_id":"O100"}`)
	publish(t, f.bus, entity.EventOrderCancelled, `{"order_id":"O100"}`)
	assert.Equal(t, entity.StatusDelivered, statusOf(t, f.session.Orders(), "O100"))
	assert.Equal(t, 1, f.session.Feed().UnreadCountFor(entity.RoleRetailer))
}

func TestSessionPresenceOnReconnect(t *testing.T) {
	f := newSessionFixture(t, retailer)

	f.bus.Connect()
	assert.Empty(t, presences(f.bus), "no session, nothing to announce")

	f.bus.Disconnect()
	require.NoError(t, f.session.Start(context.Background(), "tok"))
	assert.Empty(t, presences(f.bus))

	f.bus.Connect()
	f.bus.Disconnect()
	f.bus.Connect()

	emitted := presences(f.bus)
	require.Len(t, emitted, 2)
	for _, e := range emitted {
		assert.Equal(t, entity.EventRetailerConnect, e.Event)
		assert.JSONEq(t, `{"id":"R1"}`, string(e.Payload))
	}

	require.NoError(t, f.session.Logout(context.Background()))
	f.bus.Disconnect()
	f.bus.Connect()
	assert.Len(t, presences(f.bus), 2)
}

func TestSessionResumesSavedToken(t *testing.T) {
	f := newSessionFixture(t, wholesaler)

	assert.ErrorIs(t, f.session.Start(context.Background(), ""), entity.ErrNoSession)

	require.NoError(t, f.store.Set(context.Background(), repository.KeyToken, []byte("saved-token\n")))
	require.NoError(t, f.session.Start(context.Background(), ""))
	cur, _ := f.session.Current()
	assert.Equal(t, "saved-token", cur.Token)
}

func TestSessionRejectsExpiredToken(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	err = f.session.Start(context.Background(), token)
	assert.ErrorIs(t, err, entity.ErrTokenExpired)
	assert.Zero(t, f.gw.Calls("get-user"))
	_, ok := f.session.Current()
	assert.False(t, ok)
}

func TestSessionDropsRejectedToken(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	f.gw.getUser = func(context.Context) (entity.User, error) {
		return entity.User{}, &entity.NetworkError{Op: "auth.get-user", StatusCode: http.StatusUnauthorized}
	}

	err := f.session.Start(context.Background(), "revoked")
	assert.ErrorIs(t, err, entity.ErrNetwork)
	_, err = f.store.Get(context.Background(), repository.KeyToken)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionStartSurfacesLoadErrors(t *testing.T) {
	f := newSessionFixture(t, retailer)
	f.gw.getOrders = func(context.Context, entity.Role) ([]entity.Order, error) { return nil, errBackend }

	err := f.session.Start(context.Background(), "tok")
	assert.ErrorIs(t, err, entity.ErrNetwork)
	_, ok := f.session.Current()
	assert.True(t, ok)

	f.gw.getOrders = nil
	f.gw.setOrders(entity.RoleRetailer, order("O1", entity.StatusPending))
	require.NoError(t, f.session.Refresh(context.Background()))
	assert.Len(t, f.session.Orders().Orders(), 1)
}

func TestSessionDropsMalformedEvents(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	f.gw.setOrders(entity.RoleWholesaler, order("O1", entity.StatusPending))
	require.NoError(t, f.session.Start(context.Background(), "tok"))

	publish(t, f.bus, entity.EventOrderCancelled, `{}`)
	publish(t, f.bus, entity.EventNewOrder, `not json`)

	assert.Equal(t, entity.StatusPending, statusOf(t, f.session.Orders(), "O1"))
	assert.Empty(t, f.session.Feed().Entries())
}

func TestSessionTeardownIsolation(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	f.gw.setOrders(entity.RoleWholesaler, order("O1", entity.StatusPending))
	f.gw.setCart(line("P1", 2, 10))
	require.NoError(t, f.session.Start(context.Background(), "tok"))

	f.session.mu.RLock()
	stale := f.session.handler(entity.EventNewOrder, f.session.generation)
	f.session.mu.RUnlock()

	require.NoError(t, f.session.Logout(context.Background()))
	assert.Empty(t, f.session.Orders().Orders())
	assert.Empty(t, f.session.Cart().Lines())
	assert.Empty(t, f.session.Feed().Entries())
	for _, key := range []string{repository.KeyToken, repository.KeyCart} {
		_, err := f.store.Get(context.Background(), key)
		assert.ErrorIs(t, err, repository.ErrNotFound, key)
	}

	// Handlers are unsubscribed, and a delivery already in flight is ignored.
	assert.Zero(t, publish(t, f.bus, entity.EventNewOrder, `{"order_id":"O9"}`))
	stale(json.RawMessage(`{"order_id":"O9"}`))
	assert.Empty(t, f.session.Orders().Orders())
	assert.Empty(t, f.session.Feed().Entries())

	// Nor does it reach the next session.
	f.gw.setOrders(entity.RoleWholesaler)
	require.NoError(t, f.session.Start(context.Background(), "tok-2"))
	stale(json.RawMessage(`{"order_id":"O9"}`))
	assert.Empty(t, f.session.Orders().Orders())
	assert.Empty(t, f.session.Feed().Entries())

	assert.Equal(t, 1, publish(t, f.bus, entity.EventNewOrder, `{"order_id":"O9"}`))
	assert.Len(t, f.session.Orders().Orders(), 1)
}

func TestSessionRestartReplacesSubscriptions(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	require.NoError(t, f.session.Start(context.Background(), "tok"))
	require.NoError(t, f.session.Start(context.Background(), "tok"))

	assert.Equal(t, 1, f.bus.HandlerCount(entity.EventNewOrder))
	assert.Equal(t, 1, publish(t, f.bus, entity.EventNewOrder, `{"order_id":"O1"}`))
	assert.Len(t, f.session.Feed().Entries(), 1)
}

func TestSessionRefreshWithoutSession(t *testing.T) {
	f := newSessionFixture(t, wholesaler)
	assert.ErrorIs(t, f.session.Refresh(context.Background()), entity.ErrNoSession)
}
