package service

import (
	"context"
	"sync"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/gateway"
)

// fakeGateway is an in-memory backend. The server cart keeps raw lines, so a
// product added twice shows up twice, like the real API.
type fakeGateway struct {
	mu     sync.Mutex
	user   entity.User
	cart   []entity.CartLine
	orders map[entity.Role][]entity.Order
	calls  map[string]int

	// Hooks override the default behaviour when set.
	getCart      func(ctx context.Context) ([]entity.CartLine, error)
	addToCart    func(ctx context.Context, p entity.Product, qty int) error
	updateCart   func(ctx context.Context, id entity.ID, qty int) error
	deleteCart   func(ctx context.Context, id entity.ID) error
	placeOrder   func(ctx context.Context, cart []entity.CartLine, addr entity.Address) (entity.ID, error)
	getOrders    func(ctx context.Context, role entity.Role) ([]entity.Order, error)
	cancelOrder  func(ctx context.Context, id entity.ID) error
	updateStatus func(ctx context.Context, id entity.ID, status entity.Status) error
	getUser      func(ctx context.Context) (entity.User, error)
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders: make(map[entity.Role][]entity.Order),
		calls:  make(map[string]int),
	}
}

func (g *fakeGateway) count(op string) {
	g.mu.Lock()
	g.calls[op]++
	g.mu.Unlock()
}

func (g *fakeGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) setCart(lines ...entity.CartLine) {
	g.mu.Lock()
	g.cart = lines
	g.mu.Unlock()
}

func (g *fakeGateway) setOrders(role entity.Role, orders ...entity.Order) {
	g.mu.Lock()
	g.orders[role] = orders
	g.mu.Unlock()
}

func (g *fakeGateway) serverQuantity(id entity.ID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, l := range g.cart {
		if l.ProductID == id {
			total += l.Quantity
		}
	}
	return total
}

func (g *fakeGateway) GetCart(ctx context.Context) ([]entity.CartLine, error) {
	g.count("get-cart")
	if g.getCart != nil {
		return g.getCart(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]entity.CartLine(nil), g.cart...), nil
}

func (g *fakeGateway) AddToCart(ctx context.Context, p entity.Product, qty int) error {
	g.count("add-to-cart")
	if g.addToCart != nil {
		return g.addToCart(ctx, p, qty)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cart = append(g.cart, entity.CartLine{ProductID: p.ProductID, Name: p.Name, Price: p.Price, Quantity: qty, WholesalerID: p.WholesalerID})
	return nil
}

func (g *fakeGateway) UpdateCart(ctx context.Context, id entity.ID, qty int) error {
	g.count("update-cart")
	if g.updateCart != nil {
		if err := g.updateCart(ctx, id, qty); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.cart[:0]
	set := false
	for _, l := range g.cart {
		if l.ProductID != id {
			kept = append(kept, l)
			continue
		}
		if !set {
			l.Quantity = qty
			kept = append(kept, l)
			set = true
		}
	}
	g.cart = kept
	return nil
}

func (g *fakeGateway) DeleteFromCart(ctx context.Context, id entity.ID) error {
	g.count("delete-from-cart")
	if g.deleteCart != nil {
		return g.deleteCart(ctx, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.cart[:0]
	for _, l := range g.cart {
		if l.ProductID != id {
			kept = append(kept, l)
		}
	}
	g.cart = kept
	return nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, cart []entity.CartLine, addr entity.Address) (entity.ID, error) {
	g.count("place-order")
	if g.placeOrder != nil {
		return g.placeOrder(ctx, cart, addr)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cart = nil
	return "O-new", nil
}

func (g *fakeGateway) GetOrders(ctx context.Context, role entity.Role) ([]entity.Order, error) {
	g.count("get-orders")
	if g.getOrders != nil {
		return g.getOrders(ctx, role)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]entity.Order(nil), g.orders[role]...), nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, id entity.ID) error {
	g.count("cancel-order")
	if g.cancelOrder != nil {
		return g.cancelOrder(ctx, id)
	}
	return nil
}

func (g *fakeGateway) UpdateOrderStatus(ctx context.Context, id entity.ID, status entity.Status) error {
	g.count("update-order-status")
	if g.updateStatus != nil {
		return g.updateStatus(ctx, id, status)
	}
	return nil
}

func (g *fakeGateway) GetUser(ctx context.Context) (entity.User, error) {
	g.count("get-user")
	if g.getUser != nil {
		return g.getUser(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user, nil
}
